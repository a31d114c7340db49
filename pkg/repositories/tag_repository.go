package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// TagRepository provides data access for the catalog-wide tag vocabulary.
type TagRepository interface {
	// Create stores a new tag. Returns apperrors.ErrConflict if the value exists.
	Create(ctx context.Context, value string) (*models.Tag, error)
	SelectAll(ctx context.Context) ([]*models.Tag, error)
	// DeleteUnused removes tags no rule references and returns their values.
	DeleteUnused(ctx context.Context) ([]string, error)
}

type tagRepository struct{}

// NewTagRepository creates a new TagRepository.
func NewTagRepository() TagRepository {
	return &tagRepository{}
}

var _ TagRepository = (*tagRepository)(nil)

func (r *tagRepository) Create(ctx context.Context, value string) (*models.Tag, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	tag := &models.Tag{Value: value}
	err = conn.QueryRow(ctx, `INSERT INTO rule_tags (tag) VALUES ($1) RETURNING id`, value).Scan(&tag.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("failed to create tag %q: %w", value, err)
	}

	return tag, nil
}

func (r *tagRepository) SelectAll(ctx context.Context) ([]*models.Tag, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, `SELECT id, tag FROM rule_tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}

	return tags, nil
}

func (r *tagRepository) DeleteUnused(ctx context.Context) ([]string, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		DELETE FROM rule_tags t
		WHERE NOT EXISTS (SELECT 1 FROM rules_rule_tags rrt WHERE rrt.rule_tag_id = t.id)
		RETURNING t.tag`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to delete unused tags: %w", err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan deleted tag: %w", err)
		}
		deleted = append(deleted, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted tags: %w", err)
	}

	return deleted, nil
}

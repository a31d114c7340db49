package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// CharacteristicRepository provides read access to the debt model.
// Characteristics are managed outside of rule registration; Insert exists for seeding.
type CharacteristicRepository interface {
	SelectAll(ctx context.Context) ([]*models.Characteristic, error)
	// Insert serves seeding and the debt model administration outside registration.
	Insert(ctx context.Context, c *models.Characteristic) error
}

type characteristicRepository struct{}

// NewCharacteristicRepository creates a new CharacteristicRepository.
func NewCharacteristicRepository() CharacteristicRepository {
	return &characteristicRepository{}
}

var _ CharacteristicRepository = (*characteristicRepository)(nil)

func (r *characteristicRepository) SelectAll(ctx context.Context) ([]*models.Characteristic, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, kee, name, parent_id, enabled
		FROM characteristics
		ORDER BY id`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query characteristics: %w", err)
	}
	defer rows.Close()

	var chars []*models.Characteristic
	for rows.Next() {
		var c models.Characteristic
		if err := rows.Scan(&c.ID, &c.Key, &c.Name, &c.ParentID, &c.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan characteristic: %w", err)
		}
		chars = append(chars, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating characteristics: %w", err)
	}

	return chars, nil
}

func (r *characteristicRepository) Insert(ctx context.Context, c *models.Characteristic) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO characteristics (kee, name, parent_id, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := conn.QueryRow(ctx, query, c.Key, c.Name, c.ParentID, c.Enabled).Scan(&c.ID); err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to insert characteristic %s: %w", c.Key, err)
	}

	return nil
}

package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/metrics"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
)

// TagService manages the catalog-wide tag vocabulary.
type TagService interface {
	// CreateTag adds a tag. Invalid values return apperrors.ErrInvalidTag,
	// existing ones apperrors.ErrConflict.
	CreateTag(ctx context.Context, value string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]string, error)
	// CollectUnused deletes the tags no rule references, from the store and
	// from the index vocabulary, and returns them.
	CollectUnused(ctx context.Context) ([]string, error)
}

type tagService struct {
	scope   ScopeFunc
	tx      TxFunc
	tagRepo repositories.TagRepository
	index   index.RuleIndex
	logger  *zap.Logger
}

// NewTagService creates a new TagService.
func NewTagService(scope ScopeFunc, tx TxFunc, tagRepo repositories.TagRepository, idx index.RuleIndex, logger *zap.Logger) TagService {
	return &tagService{
		scope:   scope,
		tx:      tx,
		tagRepo: tagRepo,
		index:   idx,
		logger:  logger.Named("tags"),
	}
}

var _ TagService = (*tagService)(nil)

func (s *tagService) CreateTag(ctx context.Context, value string) (*models.Tag, error) {
	if !models.IsValidTag(value) {
		return nil, fmt.Errorf("%w: %q may only contain lowercase letters, digits and +#-.", apperrors.ErrInvalidTag, value)
	}

	var tag *models.Tag
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		tag, err = s.tagRepo.Create(ctx, value)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.index.PutTags(ctx, []string{value}); err != nil {
		s.logger.Warn("Failed to add tag to index vocabulary",
			zap.String("tag", value),
			zap.Error(err))
	}

	return tag, nil
}

func (s *tagService) ListTags(ctx context.Context) ([]string, error) {
	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	tags, err := s.tagRepo.SelectAll(scoped)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(tags))
	for _, t := range tags {
		values = append(values, t.Value)
	}
	return values, nil
}

func (s *tagService) CollectUnused(ctx context.Context) ([]string, error) {
	var deleted []string
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.tagRepo.DeleteUnused(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete unused tags: %w", err)
	}

	if len(deleted) == 0 {
		return nil, nil
	}

	metrics.TagsCollected.Add(float64(len(deleted)))
	s.logger.Info("Deleted unused tags", zap.Strings("tags", deleted))

	if err := s.index.DeleteTags(ctx, deleted); err != nil {
		return deleted, fmt.Errorf("failed to remove tags from index vocabulary: %w", err)
	}
	return deleted, nil
}

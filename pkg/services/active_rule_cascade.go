package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
)

// ActiveRuleCascade deactivates removed rules in every quality profile.
type ActiveRuleCascade interface {
	// CascadeRemoval deletes every active rule of ruleID with its parameter
	// overrides, then drops their index documents. No-op when the rule is not active.
	CascadeRemoval(ctx context.Context, ruleID int64) error

	// Deactivate deletes the active rules of rule in the store bound to ctx and
	// returns the index documents to drop once the caller commits.
	Deactivate(ctx context.Context, rule *models.Rule) ([]string, error)
}

type activeRuleCascade struct {
	tx             TxFunc
	ruleRepo       repositories.RuleRepository
	activeRuleRepo repositories.ActiveRuleRepository
	sync           RuleIndexSynchronizer
	logger         *zap.Logger
}

// NewActiveRuleCascade creates a new ActiveRuleCascade.
func NewActiveRuleCascade(
	tx TxFunc,
	ruleRepo repositories.RuleRepository,
	activeRuleRepo repositories.ActiveRuleRepository,
	sync RuleIndexSynchronizer,
	logger *zap.Logger,
) ActiveRuleCascade {
	return &activeRuleCascade{
		tx:             tx,
		ruleRepo:       ruleRepo,
		activeRuleRepo: activeRuleRepo,
		sync:           sync,
		logger:         logger.Named("active-rule-cascade"),
	}
}

var _ ActiveRuleCascade = (*activeRuleCascade)(nil)

func (s *activeRuleCascade) CascadeRemoval(ctx context.Context, ruleID int64) error {
	var docIDs []string
	err := s.tx(ctx, func(ctx context.Context) error {
		rules, err := s.ruleRepo.GetByIDs(ctx, []int64{ruleID})
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return apperrors.ErrNotFound
		}
		docIDs, err = s.Deactivate(ctx, rules[0])
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate rule %d: %w", ruleID, err)
	}

	if len(docIDs) == 0 {
		return nil
	}

	if err := s.sync.DeleteActiveRules(ctx, docIDs); err != nil {
		// The store is committed; a rebuild drops the stale documents.
		s.logger.Warn("Failed to drop active rule documents",
			zap.Int64("rule_id", ruleID),
			zap.Int("documents", len(docIDs)),
			zap.Error(err))
	}
	return nil
}

func (s *activeRuleCascade) Deactivate(ctx context.Context, rule *models.Rule) ([]string, error) {
	removed, err := s.activeRuleRepo.DeleteByRuleID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(removed))
	for _, ar := range removed {
		docIDs = append(docIDs, index.ActiveRuleDocID(ar.ProfileID, rule.Key()))
	}

	s.logger.Debug("Deactivated rule in profiles",
		zap.String("rule", rule.Key().String()),
		zap.Int("profiles", len(removed)))

	return docIDs, nil
}

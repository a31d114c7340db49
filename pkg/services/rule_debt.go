package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
)

// RuleDebtService exposes the effective debt model of rules to the quality
// profile subsystem and manages user overrides.
type RuleDebtService interface {
	// GetEffectiveDebt returns the debt model in use for a rule, nil when it has none.
	GetEffectiveDebt(ctx context.Context, key models.RuleKey) (*models.RuleDebt, error)
	SetDebtOverride(ctx context.Context, key models.RuleKey, override DebtOverride) (*models.RuleDebt, error)
	// ResetDebtOverride clears the override so the repository default applies again.
	ResetDebtOverride(ctx context.Context, key models.RuleKey) (*models.RuleDebt, error)
}

// DebtOverride is a user override of a rule's debt model.
// A nil Function keeps the default remediation function.
type DebtOverride struct {
	SubCharacteristicKey string
	Function             *models.RemediationFunction
}

type ruleDebtService struct {
	scope    ScopeFunc
	tx       TxFunc
	ruleRepo repositories.RuleRepository
	charRepo repositories.CharacteristicRepository
	sync     RuleIndexSynchronizer
	status   *RuleStatusManager
	logger   *zap.Logger
}

// NewRuleDebtService creates a new RuleDebtService.
func NewRuleDebtService(
	scope ScopeFunc,
	tx TxFunc,
	ruleRepo repositories.RuleRepository,
	charRepo repositories.CharacteristicRepository,
	sync RuleIndexSynchronizer,
	clock Clock,
	logger *zap.Logger,
) RuleDebtService {
	return &ruleDebtService{
		scope:    scope,
		tx:       tx,
		ruleRepo: ruleRepo,
		charRepo: charRepo,
		sync:     sync,
		status:   NewRuleStatusManager(clock),
		logger:   logger.Named("rule-debt"),
	}
}

var _ RuleDebtService = (*ruleDebtService)(nil)

func (s *ruleDebtService) GetEffectiveDebt(ctx context.Context, key models.RuleKey) (*models.RuleDebt, error) {
	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	rule, err := s.ruleRepo.GetByKey(scoped, key)
	if err != nil {
		return nil, err
	}
	resolver, err := s.loadResolver(scoped)
	if err != nil {
		return nil, err
	}
	return resolver.Effective(rule)
}

func (s *ruleDebtService) SetDebtOverride(ctx context.Context, key models.RuleKey, override DebtOverride) (*models.RuleDebt, error) {
	var rule *models.Rule
	var debt *models.RuleDebt

	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		rule, err = s.ruleRepo.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		resolver, err := s.loadResolver(ctx)
		if err != nil {
			return err
		}

		sub := resolver.ByKey(override.SubCharacteristicKey)
		if sub == nil {
			return fmt.Errorf("%w: %q", apperrors.ErrUnknownCharacteristic, override.SubCharacteristicKey)
		}
		if sub.IsRoot() {
			return apperrors.NewConfigurationError(key.String(), nil,
				"characteristic %q is a root characteristic, a sub-characteristic is required", sub.Key)
		}

		id := sub.ID
		rule.SubCharacteristicID = &id
		rule.RemediationFunction, rule.RemediationCoefficient, rule.RemediationOffset = "", "", ""
		if fn := override.Function; fn != nil {
			if err := ValidateRemediation(fn.Type, fn.Coefficient, fn.Offset); err != nil {
				return err
			}
			rule.RemediationFunction = string(fn.Type)
			rule.RemediationCoefficient = fn.Coefficient
			rule.RemediationOffset = fn.Offset
		}

		s.status.Touch(rule)
		if err := s.ruleRepo.UpdateDebtOverride(ctx, rule); err != nil {
			return err
		}

		debt, err = resolver.Effective(rule)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.reindex(ctx, rule)
	return debt, nil
}

func (s *ruleDebtService) ResetDebtOverride(ctx context.Context, key models.RuleKey) (*models.RuleDebt, error) {
	var rule *models.Rule
	var debt *models.RuleDebt

	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		rule, err = s.ruleRepo.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		resolver, err := s.loadResolver(ctx)
		if err != nil {
			return err
		}

		rule.SubCharacteristicID = nil
		rule.RemediationFunction, rule.RemediationCoefficient, rule.RemediationOffset = "", "", ""
		s.status.Touch(rule)
		if err := s.ruleRepo.UpdateDebtOverride(ctx, rule); err != nil {
			return err
		}

		debt, err = resolver.Effective(rule)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.reindex(ctx, rule)
	return debt, nil
}

func (s *ruleDebtService) loadResolver(ctx context.Context) (*CharacteristicResolver, error) {
	chars, err := s.charRepo.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewCharacteristicResolver(chars)
}

// reindex refreshes the rule document. The store is already committed, so a
// failure only leaves the index stale until the next rebuild.
func (s *ruleDebtService) reindex(ctx context.Context, rule *models.Rule) {
	if err := s.sync.IndexRules(ctx, []int64{rule.ID}); err != nil {
		s.logger.Warn("Failed to reindex rule after debt change",
			zap.String("rule", rule.Key().String()),
			zap.Error(err))
	}
}

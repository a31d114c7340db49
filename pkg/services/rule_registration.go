package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/catalog"
	"github.com/ekaya-inc/ekaya-rules/pkg/metrics"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
)

// registrationLockKey is the lock every registration run takes.
const registrationLockKey = "rule-registration"

// RunLocker serializes registration runs. WithLock returns an error matching
// apperrors.ErrRunInProgress when another run holds the lock.
type RunLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RuleRegistrationService reconciles the rule catalog with the store and the search index.
type RuleRegistrationService interface {
	// Register runs one reconciliation. A configuration error aborts it before
	// any write. Index failures do not fail the run; they set IndexStale.
	Register(ctx context.Context) (*RegistrationResult, error)
}

// RegistrationResult summarizes a registration run.
type RegistrationResult struct {
	RunID                  string           `json:"run_id"`
	Inserted               int              `json:"inserted"`
	Updated                int              `json:"updated"`
	Reactivated            int              `json:"reactivated"`
	Removed                int              `json:"removed"`
	CustomUpdated          int              `json:"custom_updated"`
	ActiveRulesDeactivated int              `json:"active_rules_deactivated"`
	TagsCollected          []string         `json:"tags_collected,omitempty"`
	Warnings               []models.Warning `json:"warnings,omitempty"`
	// IndexStale is set when the store committed but the index could not follow.
	IndexStale   bool          `json:"index_stale"`
	IndexRebuilt bool          `json:"index_rebuilt"`
	Duration     time.Duration `json:"duration"`
}

// Changed reports whether the run wrote any rule.
func (r *RegistrationResult) Changed() bool {
	return r.Inserted+r.Updated+r.Reactivated+r.Removed+r.CustomUpdated > 0
}

// RuleRegistrationServiceDeps contains the dependencies of the registration service.
type RuleRegistrationServiceDeps struct {
	Provider        catalog.Provider
	Scope           ScopeFunc
	Tx              TxFunc
	RuleRepo        repositories.RuleRepository
	CharRepo        repositories.CharacteristicRepository
	Cascade         ActiveRuleCascade
	IndexSync       RuleIndexSynchronizer
	Tags            TagService
	Locker          RunLocker // Optional: runs are not serialized when nil
	Clock           Clock     // Optional: defaults to NewSystemClock()
	CommitBatchSize int
	Logger          *zap.Logger
}

type ruleRegistrationService struct {
	provider  catalog.Provider
	scope     ScopeFunc
	tx        TxFunc
	ruleRepo  repositories.RuleRepository
	charRepo  repositories.CharacteristicRepository
	cascade   ActiveRuleCascade
	indexSync RuleIndexSynchronizer
	tags      TagService
	locker    RunLocker
	clock     Clock
	batchSize int
	logger    *zap.Logger
}

// NewRuleRegistrationService creates a new RuleRegistrationService.
func NewRuleRegistrationService(deps *RuleRegistrationServiceDeps) RuleRegistrationService {
	clock := deps.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	batchSize := deps.CommitBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ruleRegistrationService{
		provider:  deps.Provider,
		scope:     deps.Scope,
		tx:        deps.Tx,
		ruleRepo:  deps.RuleRepo,
		charRepo:  deps.CharRepo,
		cascade:   deps.Cascade,
		indexSync: deps.IndexSync,
		tags:      deps.Tags,
		locker:    deps.Locker,
		clock:     clock,
		batchSize: batchSize,
		logger:    deps.Logger.Named("rule-registration"),
	}
}

var _ RuleRegistrationService = (*ruleRegistrationService)(nil)

func (s *ruleRegistrationService) Register(ctx context.Context) (*RegistrationResult, error) {
	start := time.Now()

	var result *RegistrationResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.register(ctx)
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, registrationLockKey, run)
	} else {
		err = run(ctx)
	}

	metrics.RegistrationDuration.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, apperrors.ErrRunInProgress):
		metrics.RegistrationRuns.WithLabelValues("skipped").Inc()
		return nil, err
	case err != nil:
		metrics.RegistrationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.RegistrationRuns.WithLabelValues("success").Inc()
	result.Duration = time.Since(start)
	return result, nil
}

func (s *ruleRegistrationService) register(ctx context.Context) (*RegistrationResult, error) {
	result := &RegistrationResult{RunID: uuid.New().String()}
	logger := s.logger.With(zap.String("run_id", result.RunID))

	cat, err := s.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}
	defs, warnings, err := catalog.Flatten(cat)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	plan, err := s.plan(ctx, defs)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, plan.Warnings...)

	for _, w := range result.Warnings {
		logger.Warn("Rule registration warning",
			zap.String("rule", w.RuleKey),
			zap.String("message", w.Message))
	}
	metrics.RegistrationWarnings.Add(float64(len(result.Warnings)))

	committed, docIDs, err := s.commit(ctx, plan, result)
	if err != nil {
		// Batches already committed stay committed; the index follows them.
		s.syncIndex(ctx, logger, committed, docIDs, result)
		return nil, err
	}

	logger.Info("Rules registered",
		zap.Int("definitions", len(defs)),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("reactivated", result.Reactivated),
		zap.Int("removed", result.Removed),
		zap.Int("custom_updated", result.CustomUpdated),
		zap.Int("active_rules_deactivated", result.ActiveRulesDeactivated),
		zap.Int("warnings", len(result.Warnings)))

	s.syncIndex(ctx, logger, committed, docIDs, result)

	collected, err := s.tags.CollectUnused(ctx)
	result.TagsCollected = collected
	if err != nil {
		// Unused tags are collected again by the next run and dropped from the index by the next rebuild.
		logger.Warn("Failed to collect unused tags", zap.Error(err))
		if len(collected) > 0 {
			result.IndexStale = true
			metrics.IndexFailures.WithLabelValues("tags").Inc()
		}
	}

	return result, nil
}

// plan reads the store snapshot and computes every write in memory.
func (s *ruleRegistrationService) plan(ctx context.Context, defs []*models.RuleDefinition) (*ReconcilePlan, error) {
	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	chars, err := s.charRepo.SelectAll(scoped)
	if err != nil {
		return nil, fmt.Errorf("failed to load characteristics: %w", err)
	}
	resolver, err := NewCharacteristicResolver(chars)
	if err != nil {
		return nil, err
	}

	rules, err := s.ruleRepo.SelectNonManual(scoped)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	params, err := s.ruleRepo.SelectParams(scoped)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule parameters: %w", err)
	}

	reconciler := NewRuleReconciler(resolver, NewRuleStatusManager(s.clock))
	return reconciler.Plan(defs, rules, params)
}

// commit applies the plan in transactions of at most batchSize rules. It
// returns the committed changes and the active rule documents to drop from
// the index, also when a later batch fails.
func (s *ruleRegistrationService) commit(ctx context.Context, plan *ReconcilePlan, result *RegistrationResult) ([]*RuleChange, []string, error) {
	var committed []*RuleChange
	var docIDs []string

	for _, batch := range chunk(plan.Changes(), s.batchSize) {
		var batchDocIDs []string
		err := s.tx(ctx, func(ctx context.Context) error {
			batchDocIDs = nil
			for _, change := range batch {
				ids, err := s.apply(ctx, change)
				if err != nil {
					return fmt.Errorf("failed to write rule %s: %w", change.Rule.Key(), err)
				}
				batchDocIDs = append(batchDocIDs, ids...)
			}
			return nil
		})
		if err != nil {
			return committed, docIDs, err
		}

		committed = append(committed, batch...)
		docIDs = append(docIDs, batchDocIDs...)
		for _, change := range batch {
			result.count(change)
			metrics.RuleOperations.WithLabelValues(string(change.Kind)).Inc()
		}
		result.ActiveRulesDeactivated += len(batchDocIDs)
		metrics.ActiveRulesDeactivated.Add(float64(len(batchDocIDs)))
	}

	return committed, docIDs, nil
}

func (s *ruleRegistrationService) apply(ctx context.Context, change *RuleChange) ([]string, error) {
	rule := change.Rule

	if change.Kind == RuleOperationInsert {
		if err := s.ruleRepo.Insert(ctx, rule); err != nil {
			return nil, err
		}
		for _, p := range change.NewParams {
			p.RuleID = rule.ID
		}
	} else if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return nil, err
	}

	for _, p := range change.NewParams {
		if err := s.ruleRepo.InsertParam(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, p := range change.ChangedParams {
		if err := s.ruleRepo.UpdateParam(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, p := range change.DeletedParams {
		if err := s.ruleRepo.DeleteParam(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	if change.TagsChanged {
		if err := s.ruleRepo.SetTags(ctx, rule.ID, rule.SystemTags, rule.Tags); err != nil {
			return nil, err
		}
	}

	if change.Cascade && rule.Status == models.RuleStatusRemoved {
		return s.cascade.Deactivate(ctx, rule)
	}
	return nil, nil
}

func (r *RegistrationResult) count(change *RuleChange) {
	switch change.Kind {
	case RuleOperationInsert:
		r.Inserted++
	case RuleOperationUpdate:
		r.Updated++
	case RuleOperationReactivate:
		r.Reactivated++
	case RuleOperationRemove:
		r.Removed++
	case RuleOperationCustom:
		r.CustomUpdated++
	}
}

// syncIndex follows the committed store. Failures leave the index stale
// until EnsureIndex or a rebuild catches up.
func (s *ruleRegistrationService) syncIndex(ctx context.Context, logger *zap.Logger, changes []*RuleChange, docIDs []string, result *RegistrationResult) {
	var ruleIDs, paramChanged []int64
	for _, change := range changes {
		ruleIDs = append(ruleIDs, change.Rule.ID)
		if len(change.DeletedParams) > 0 && change.Rule.Status != models.RuleStatusRemoved {
			paramChanged = append(paramChanged, change.Rule.ID)
		}
	}

	stale := func(operation string, err error) {
		logger.Warn("Failed to update search index, it will be rebuilt",
			zap.String("operation", operation),
			zap.Error(err))
		metrics.IndexFailures.WithLabelValues(operation).Inc()
		result.IndexStale = true
	}

	if err := s.indexSync.IndexRules(ctx, ruleIDs); err != nil {
		stale("rules", err)
	}
	if err := s.indexSync.IndexActiveRules(ctx, paramChanged); err != nil {
		stale("active_rules", err)
	}
	if err := s.indexSync.DeleteActiveRules(ctx, docIDs); err != nil {
		stale("active_rules", err)
	}

	rebuilt, err := s.indexSync.EnsureIndex(ctx)
	if err != nil {
		stale("ensure", err)
		return
	}
	result.IndexRebuilt = rebuilt
}

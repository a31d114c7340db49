package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/metrics"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
	"github.com/ekaya-inc/ekaya-rules/pkg/retry"
)

// RuleIndexSynchronizer projects the rule store into the search index.
type RuleIndexSynchronizer interface {
	// IndexRules rewrites the documents of the given rules from the store.
	IndexRules(ctx context.Context, ruleIDs []int64) error
	// IndexActiveRules rewrites the active rule documents of the given rules.
	IndexActiveRules(ctx context.Context, ruleIDs []int64) error
	DeleteActiveRules(ctx context.Context, docIDs []string) error
	// Rebuild re-derives the whole index from a store snapshot and deletes
	// every document the snapshot does not contain.
	Rebuild(ctx context.Context) (*RebuildResult, error)
	// EnsureIndex rebuilds when the index is empty but the store is not.
	EnsureIndex(ctx context.Context) (bool, error)
}

// RebuildResult summarizes a full index rebuild.
type RebuildResult struct {
	Rules             int           `json:"rules"`
	ActiveRules       int           `json:"active_rules"`
	Tags              int           `json:"tags"`
	OrphanRules       int           `json:"orphan_rules"`
	OrphanActiveRules int           `json:"orphan_active_rules"`
	OrphanTags        int           `json:"orphan_tags"`
	Duration          time.Duration `json:"duration"`
}

type ruleIndexSync struct {
	scope          ScopeFunc
	ruleRepo       repositories.RuleRepository
	charRepo       repositories.CharacteristicRepository
	activeRuleRepo repositories.ActiveRuleRepository
	tagRepo        repositories.TagRepository
	index          index.RuleIndex
	batchSize      int
	retryConfig    *retry.Config
	logger         *zap.Logger

	// mu serializes rebuilds and incremental writes so a rebuild is never
	// interleaved with writes derived from an older store state.
	mu sync.Mutex
}

// NewRuleIndexSynchronizer creates a new RuleIndexSynchronizer writing at most
// batchSize documents per index write.
func NewRuleIndexSynchronizer(
	scope ScopeFunc,
	ruleRepo repositories.RuleRepository,
	charRepo repositories.CharacteristicRepository,
	activeRuleRepo repositories.ActiveRuleRepository,
	tagRepo repositories.TagRepository,
	idx index.RuleIndex,
	batchSize int,
	logger *zap.Logger,
) RuleIndexSynchronizer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ruleIndexSync{
		scope:          scope,
		ruleRepo:       ruleRepo,
		charRepo:       charRepo,
		activeRuleRepo: activeRuleRepo,
		tagRepo:        tagRepo,
		index:          idx,
		batchSize:      batchSize,
		retryConfig:    retry.DefaultConfig(),
		logger:         logger.Named("rule-index-sync"),
	}
}

var _ RuleIndexSynchronizer = (*ruleIndexSync)(nil)

// ============================================================================
// Incremental
// ============================================================================

func (s *ruleIndexSync) IndexRules(ctx context.Context, ruleIDs []int64) error {
	if len(ruleIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	chars, err := s.charRepo.SelectAll(scoped)
	if err != nil {
		return err
	}
	resolver, err := NewCharacteristicResolver(chars)
	if err != nil {
		return err
	}

	for _, ids := range chunk(ruleIDs, s.batchSize) {
		rules, err := s.ruleRepo.GetByIDs(scoped, ids)
		if err != nil {
			return err
		}
		params, err := s.ruleRepo.SelectParamsByRuleIDs(scoped, ids)
		if err != nil {
			return err
		}
		templates, err := s.templateKeys(scoped, rules)
		if err != nil {
			return err
		}

		docs, tags := s.buildRuleDocs(rules, params, templates, resolver)
		if err := s.putRules(ctx, docs, "incremental"); err != nil {
			return err
		}
		if err := s.withRetry(ctx, func() error { return s.index.PutTags(ctx, tags) }); err != nil {
			return fmt.Errorf("failed to index tags: %w", err)
		}
	}

	return nil
}

func (s *ruleIndexSync) IndexActiveRules(ctx context.Context, ruleIDs []int64) error {
	if len(ruleIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	for _, ids := range chunk(ruleIDs, s.batchSize) {
		rules, err := s.ruleRepo.GetByIDs(scoped, ids)
		if err != nil {
			return err
		}
		activeRules, err := s.activeRuleRepo.SelectByRuleIDs(scoped, ids)
		if err != nil {
			return err
		}

		docs := buildActiveRuleDocs(activeRules, ruleKeysByID(rules))
		if err := s.putActiveRules(ctx, docs, "incremental"); err != nil {
			return err
		}
	}

	return nil
}

func (s *ruleIndexSync) DeleteActiveRules(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ids := range chunk(docIDs, s.batchSize) {
		if err := s.withRetry(ctx, func() error { return s.index.DeleteActiveRules(ctx, ids) }); err != nil {
			return fmt.Errorf("failed to delete active rule documents: %w", err)
		}
	}
	return nil
}

// ============================================================================
// Full rebuild
// ============================================================================

type storeSnapshot struct {
	rules       []*models.Rule
	params      []*models.RuleParam
	chars       []*models.Characteristic
	activeRules []*models.ActiveRule
	tags        []*models.Tag
}

func (s *ruleIndexSync) Rebuild(ctx context.Context) (*RebuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rebuild(ctx)
}

func (s *ruleIndexSync) rebuild(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load store snapshot: %w", err)
	}

	resolver, err := NewCharacteristicResolver(snap.chars)
	if err != nil {
		return nil, err
	}

	keys := ruleKeysByID(snap.rules)
	templates := make(map[int64]string, len(keys))
	for id, key := range keys {
		templates[id] = key.String()
	}

	result := &RebuildResult{}

	ruleDocs, _ := s.buildRuleDocs(snap.rules, snap.params, templates, resolver)
	if err := s.putRules(ctx, ruleDocs, "rebuild"); err != nil {
		return nil, err
	}
	result.Rules = len(ruleDocs)

	activeDocs := buildActiveRuleDocs(snap.activeRules, keys)
	if err := s.putActiveRules(ctx, activeDocs, "rebuild"); err != nil {
		return nil, err
	}
	result.ActiveRules = len(activeDocs)

	tagValues := make([]string, 0, len(snap.tags))
	for _, t := range snap.tags {
		tagValues = append(tagValues, t.Value)
	}
	for _, values := range chunk(tagValues, s.batchSize) {
		if err := s.withRetry(ctx, func() error { return s.index.PutTags(ctx, values) }); err != nil {
			return nil, fmt.Errorf("failed to index tags: %w", err)
		}
	}
	result.Tags = len(tagValues)

	ruleIDs := make([]string, 0, len(ruleDocs))
	for _, d := range ruleDocs {
		ruleIDs = append(ruleIDs, d.ID)
	}
	if result.OrphanRules, err = s.deleteOrphans(ctx, "rule", ruleIDs, s.index.RuleIDs, s.index.DeleteRules); err != nil {
		return nil, err
	}

	activeIDs := make([]string, 0, len(activeDocs))
	for _, d := range activeDocs {
		activeIDs = append(activeIDs, d.ID)
	}
	if result.OrphanActiveRules, err = s.deleteOrphans(ctx, "active_rule", activeIDs, s.index.ActiveRuleIDs, s.index.DeleteActiveRules); err != nil {
		return nil, err
	}

	if result.OrphanTags, err = s.deleteOrphans(ctx, "tag", tagValues, s.index.Tags, s.index.DeleteTags); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	metrics.IndexRebuildDuration.Observe(result.Duration.Seconds())

	s.logger.Info("Search index rebuilt",
		zap.Int("rules", result.Rules),
		zap.Int("active_rules", result.ActiveRules),
		zap.Int("tags", result.Tags),
		zap.Int("orphan_rules", result.OrphanRules),
		zap.Int("orphan_active_rules", result.OrphanActiveRules),
		zap.Int("orphan_tags", result.OrphanTags),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// loadSnapshot reads every table the index is derived from. Each read uses
// its own connection since a connection runs one query at a time.
func (s *ruleIndexSync) loadSnapshot(ctx context.Context) (*storeSnapshot, error) {
	snap := &storeSnapshot{}
	g, gctx := errgroup.WithContext(ctx)

	load := func(fn func(ctx context.Context) error) {
		g.Go(func() error {
			scoped, cleanup, err := s.scope(gctx)
			if err != nil {
				return fmt.Errorf("failed to acquire database connection: %w", err)
			}
			defer cleanup()
			return fn(scoped)
		})
	}

	load(func(ctx context.Context) (err error) {
		snap.rules, err = s.ruleRepo.SelectAll(ctx)
		return err
	})
	load(func(ctx context.Context) (err error) {
		snap.params, err = s.ruleRepo.SelectParams(ctx)
		return err
	})
	load(func(ctx context.Context) (err error) {
		snap.chars, err = s.charRepo.SelectAll(ctx)
		return err
	})
	load(func(ctx context.Context) (err error) {
		snap.activeRules, err = s.activeRuleRepo.SelectAll(ctx)
		return err
	})
	load(func(ctx context.Context) (err error) {
		snap.tags, err = s.tagRepo.SelectAll(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// deleteOrphans removes index entries whose id is not in keep.
func (s *ruleIndexSync) deleteOrphans(
	ctx context.Context,
	kind string,
	keep []string,
	list func(context.Context) ([]string, error),
	remove func(context.Context, []string) error,
) (int, error) {
	indexed, err := list(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed %s entries: %w", kind, err)
	}

	wanted := make(map[string]bool, len(keep))
	for _, id := range keep {
		wanted[id] = true
	}

	var orphans []string
	for _, id := range indexed {
		if !wanted[id] {
			orphans = append(orphans, id)
		}
	}

	for _, ids := range chunk(orphans, s.batchSize) {
		if err := s.withRetry(ctx, func() error { return remove(ctx, ids) }); err != nil {
			return 0, fmt.Errorf("failed to delete orphan %s entries: %w", kind, err)
		}
	}

	if len(orphans) > 0 {
		metrics.IndexOrphansDeleted.WithLabelValues(kind).Add(float64(len(orphans)))
	}
	return len(orphans), nil
}

func (s *ruleIndexSync) EnsureIndex(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexed, err := s.index.RuleIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to inspect index: %w", err)
	}
	if len(indexed) > 0 {
		return false, nil
	}

	scoped, cleanup, err := s.scope(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	count, err := s.ruleRepo.Count(scoped)
	cleanup()
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	s.logger.Info("Search index is empty while the store holds rules, rebuilding",
		zap.Int("rules", count))

	if _, err := s.rebuild(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// Documents
// ============================================================================

// templateKeys returns the keys of the templates of the custom rules in rules.
func (s *ruleIndexSync) templateKeys(ctx context.Context, rules []*models.Rule) (map[int64]string, error) {
	keys := make(map[int64]string)
	var missing []int64
	for _, r := range rules {
		keys[r.ID] = r.Key().String()
	}
	for _, r := range rules {
		if r.ParentID != nil {
			if _, ok := keys[*r.ParentID]; !ok {
				missing = append(missing, *r.ParentID)
			}
		}
	}
	if len(missing) == 0 {
		return keys, nil
	}

	parents, err := s.ruleRepo.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		keys[p.ID] = p.Key().String()
	}
	return keys, nil
}

// buildRuleDocs builds the rule documents and collects their tag values.
// Rebuild and incremental indexing both go through here so they produce the
// same documents.
func (s *ruleIndexSync) buildRuleDocs(
	rules []*models.Rule,
	params []*models.RuleParam,
	templates map[int64]string,
	resolver *CharacteristicResolver,
) ([]*index.RuleDoc, []string) {
	paramsByRule := make(map[int64][]*models.RuleParam)
	for _, p := range params {
		paramsByRule[p.RuleID] = append(paramsByRule[p.RuleID], p)
	}

	tagSet := make(map[string]bool)
	docs := make([]*index.RuleDoc, 0, len(rules))
	for _, r := range rules {
		doc := buildRuleDoc(r, paramsByRule[r.ID], resolver)
		if r.ParentID != nil {
			doc.TemplateKey = templates[*r.ParentID]
		}
		if debt, err := resolver.Effective(r); err != nil {
			s.logger.Warn("Stored debt model is invalid, indexing rule without it",
				zap.String("rule", r.Key().String()),
				zap.Error(err))
		} else {
			doc.Debt = debt
		}
		for _, t := range doc.AllTags {
			tagSet[t] = true
		}
		docs = append(docs, doc)
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return docs, tags
}

func buildRuleDoc(r *models.Rule, params []*models.RuleParam, resolver *CharacteristicResolver) *index.RuleDoc {
	doc := &index.RuleDoc{
		ID:                     r.Key().String(),
		RuleID:                 r.ID,
		Repository:             r.RepositoryKey,
		RuleKey:                r.RuleKey,
		Name:                   r.Name,
		HTMLDescription:        r.Description,
		Severity:               r.Severity,
		Status:                 r.Status,
		Language:               r.Language,
		IsTemplate:             r.IsTemplate,
		InternalKey:            r.InternalKey,
		NoteData:               r.NoteData,
		NoteUserID:             r.NoteUserID,
		NoteCreatedAt:          utcPtr(r.NoteCreatedAt),
		NoteUpdatedAt:          utcPtr(r.NoteUpdatedAt),
		Tags:                   sortedUnique(r.Tags),
		SystemTags:             sortedUnique(r.SystemTags),
		AllTags:                sortedUnique(append(append([]string(nil), r.Tags...), r.SystemTags...)),
		DefaultDebt:            resolver.Default(r),
		EffortToFixDescription: r.EffortToFixDescription,
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}

	sorted := append([]*models.RuleParam(nil), params...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, p := range sorted {
		doc.Params = append(doc.Params, index.RuleParamDoc{
			Name:         p.Name,
			Type:         p.Type,
			DefaultValue: p.DefaultValue,
			Description:  p.Description,
		})
	}

	return doc
}

func buildActiveRuleDocs(activeRules []*models.ActiveRule, keys map[int64]models.RuleKey) []*index.ActiveRuleDoc {
	docs := make([]*index.ActiveRuleDoc, 0, len(activeRules))
	for _, ar := range activeRules {
		key, ok := keys[ar.RuleID]
		if !ok {
			continue
		}
		doc := &index.ActiveRuleDoc{
			ID:           index.ActiveRuleDocID(ar.ProfileID, key),
			ActiveRuleID: ar.ID,
			ProfileID:    ar.ProfileID,
			RuleKey:      key.String(),
			Severity:     ar.Severity,
			CreatedAt:    ar.CreatedAt.UTC(),
			UpdatedAt:    ar.UpdatedAt.UTC(),
		}
		params := append([]models.ActiveRuleParam(nil), ar.Params...)
		sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
		for _, p := range params {
			doc.Params = append(doc.Params, index.ActiveRuleParamDoc{Key: p.Key, Value: p.Value})
		}
		docs = append(docs, doc)
	}
	return docs
}

func ruleKeysByID(rules []*models.Rule) map[int64]models.RuleKey {
	keys := make(map[int64]models.RuleKey, len(rules))
	for _, r := range rules {
		keys[r.ID] = r.Key()
	}
	return keys
}

// ============================================================================
// Writes
// ============================================================================

func (s *ruleIndexSync) putRules(ctx context.Context, docs []*index.RuleDoc, mode string) error {
	for _, batch := range chunk(docs, s.batchSize) {
		if err := s.withRetry(ctx, func() error { return s.index.PutRules(ctx, batch) }); err != nil {
			return fmt.Errorf("failed to index rules: %w", err)
		}
		metrics.IndexDocuments.WithLabelValues(mode, "rule").Add(float64(len(batch)))
	}
	return nil
}

func (s *ruleIndexSync) putActiveRules(ctx context.Context, docs []*index.ActiveRuleDoc, mode string) error {
	for _, batch := range chunk(docs, s.batchSize) {
		if err := s.withRetry(ctx, func() error { return s.index.PutActiveRules(ctx, batch) }); err != nil {
			return fmt.Errorf("failed to index active rules: %w", err)
		}
		metrics.IndexDocuments.WithLabelValues(mode, "active_rule").Add(float64(len(batch)))
	}
	return nil
}

func (s *ruleIndexSync) withRetry(ctx context.Context, fn func() error) error {
	return retry.DoIfRetryable(ctx, s.retryConfig, fn)
}

// chunk splits items into slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[:size:size])
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

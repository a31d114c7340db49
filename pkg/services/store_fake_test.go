package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
)

// ============================================================================
// In-memory store
// ============================================================================

// memStore is an in-memory rule store shared by the fake repositories.
// Transactions run against a snapshot that is restored on error.
type memStore struct {
	mu sync.Mutex

	nextID      int64
	rules       map[int64]*models.Rule
	params      map[int64]*models.RuleParam
	chars       []*models.Characteristic
	activeRules map[int64]*models.ActiveRule
	tags        map[string]*models.Tag

	writes  int
	commits int

	// failOn makes the write of the named operation fail.
	failOn string
}

func newMemStore() *memStore {
	return &memStore{
		rules:       make(map[int64]*models.Rule),
		params:      make(map[int64]*models.RuleParam),
		activeRules: make(map[int64]*models.ActiveRule),
		tags:        make(map[string]*models.Tag),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) write(op string) error {
	if s.failOn == op {
		return fmt.Errorf("injected %s failure", op)
	}
	s.writes++
	return nil
}

func (s *memStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) scope() ScopeFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		return ctx, func() {}, nil
	}
}

func (s *memStore) tx() TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		s.mu.Lock()
		snap := s.snapshot()
		s.mu.Unlock()

		if err := fn(ctx); err != nil {
			s.mu.Lock()
			s.restore(snap)
			s.mu.Unlock()
			return err
		}

		s.mu.Lock()
		s.commits++
		s.mu.Unlock()
		return nil
	}
}

type memSnapshot struct {
	nextID      int64
	rules       map[int64]*models.Rule
	params      map[int64]*models.RuleParam
	activeRules map[int64]*models.ActiveRule
	tags        map[string]*models.Tag
	writes      int
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		nextID:      s.nextID,
		rules:       make(map[int64]*models.Rule, len(s.rules)),
		params:      make(map[int64]*models.RuleParam, len(s.params)),
		activeRules: make(map[int64]*models.ActiveRule, len(s.activeRules)),
		tags:        make(map[string]*models.Tag, len(s.tags)),
		writes:      s.writes,
	}
	for id, r := range s.rules {
		snap.rules[id] = r.Clone()
	}
	for id, p := range s.params {
		c := *p
		snap.params[id] = &c
	}
	for id, ar := range s.activeRules {
		snap.activeRules[id] = cloneActiveRule(ar)
	}
	for v, t := range s.tags {
		c := *t
		snap.tags[v] = &c
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.nextID = snap.nextID
	s.rules = snap.rules
	s.params = snap.params
	s.activeRules = snap.activeRules
	s.tags = snap.tags
	s.writes = snap.writes
}

func cloneActiveRule(ar *models.ActiveRule) *models.ActiveRule {
	c := *ar
	c.Params = append([]models.ActiveRuleParam(nil), ar.Params...)
	return &c
}

// Seeding helpers write directly, without counting.

func (s *memStore) seedChars(chars ...*models.Characteristic) {
	s.chars = append(s.chars, chars...)
}

func (s *memStore) seedRule(rule *models.Rule) *models.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.id()
	s.rules[rule.ID] = rule.Clone()
	for _, t := range append(append([]string(nil), rule.Tags...), rule.SystemTags...) {
		s.ensureTag(t)
	}
	return rule
}

func (s *memStore) seedParam(param *models.RuleParam) *models.RuleParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	param.ID = s.id()
	c := *param
	s.params[param.ID] = &c
	return param
}

func (s *memStore) seedActiveRule(ar *models.ActiveRule) *models.ActiveRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar.ID = s.id()
	for i := range ar.Params {
		ar.Params[i].ID = s.id()
		ar.Params[i].ActiveRuleID = ar.ID
	}
	s.activeRules[ar.ID] = cloneActiveRule(ar)
	return ar
}

func (s *memStore) ruleByKey(t *testing.T, repo, key string) *models.Rule {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.RepositoryKey == repo && r.RuleKey == key {
			return r.Clone()
		}
	}
	require.Failf(t, "rule not found", "%s:%s", repo, key)
	return nil
}

func (s *memStore) paramsOf(ruleID int64) []*models.RuleParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RuleParam
	for _, p := range s.params {
		if p.RuleID == ruleID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *memStore) activeRulesOf(ruleID int64) []*models.ActiveRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ActiveRule
	for _, ar := range s.activeRules {
		if ar.RuleID == ruleID {
			out = append(out, cloneActiveRule(ar))
		}
	}
	return out
}

func (s *memStore) tagValues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for v := range s.tags {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s *memStore) ensureTag(value string) {
	if _, ok := s.tags[value]; !ok {
		s.tags[value] = &models.Tag{ID: s.id(), Value: value}
	}
}

func (s *memStore) sortedRules(keep func(*models.Rule) bool) []*models.Rule {
	var out []*models.Rule
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Fake repositories
// ============================================================================

type memRuleRepository struct{ s *memStore }

var _ repositories.RuleRepository = (*memRuleRepository)(nil)

func (r *memRuleRepository) SelectNonManual(ctx context.Context) ([]*models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedRules(func(rule *models.Rule) bool { return !rule.IsManual() }), nil
}

func (r *memRuleRepository) SelectAll(ctx context.Context) ([]*models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedRules(func(*models.Rule) bool { return true }), nil
}

func (r *memRuleRepository) GetByKey(ctx context.Context, key models.RuleKey) (*models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rule := range r.s.rules {
		if rule.Key() == key {
			return rule.Clone(), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memRuleRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedRules(func(rule *models.Rule) bool { return slices.Contains(ids, rule.ID) }), nil
}

func (r *memRuleRepository) Count(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.rules), nil
}

func (r *memRuleRepository) Insert(ctx context.Context, rule *models.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("insert_rule"); err != nil {
		return err
	}
	for _, existing := range r.s.rules {
		if existing.Key() == rule.Key() {
			return apperrors.ErrConflict
		}
	}
	rule.ID = r.s.id()
	stored := rule.Clone()
	stored.Tags, stored.SystemTags = nil, nil
	r.s.rules[rule.ID] = stored
	return nil
}

func (r *memRuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("update_rule"); err != nil {
		return err
	}
	existing, ok := r.s.rules[rule.ID]
	if !ok {
		return apperrors.ErrNotFound
	}

	updated := rule.Clone()
	// User-owned columns are not written by Update
	updated.NoteData = existing.NoteData
	updated.NoteUserID = existing.NoteUserID
	updated.NoteCreatedAt = existing.NoteCreatedAt
	updated.NoteUpdatedAt = existing.NoteUpdatedAt
	updated.SubCharacteristicID = existing.SubCharacteristicID
	updated.RemediationFunction = existing.RemediationFunction
	updated.RemediationCoefficient = existing.RemediationCoefficient
	updated.RemediationOffset = existing.RemediationOffset
	updated.Tags = existing.Tags
	updated.SystemTags = existing.SystemTags
	updated.CreatedAt = existing.CreatedAt
	r.s.rules[rule.ID] = updated
	return nil
}

func (r *memRuleRepository) UpdateDebtOverride(ctx context.Context, rule *models.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("update_debt"); err != nil {
		return err
	}
	existing, ok := r.s.rules[rule.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	existing.SubCharacteristicID = copyIntPtr(rule.SubCharacteristicID)
	existing.RemediationFunction = rule.RemediationFunction
	existing.RemediationCoefficient = rule.RemediationCoefficient
	existing.RemediationOffset = rule.RemediationOffset
	existing.UpdatedAt = rule.UpdatedAt
	return nil
}

func (r *memRuleRepository) SelectParams(ctx context.Context) ([]*models.RuleParam, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.RuleParam
	for _, p := range r.s.params {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRuleRepository) SelectParamsByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.RuleParam, error) {
	all, _ := r.SelectParams(ctx)
	var out []*models.RuleParam
	for _, p := range all {
		if slices.Contains(ruleIDs, p.RuleID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRuleRepository) InsertParam(ctx context.Context, param *models.RuleParam) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("insert_param"); err != nil {
		return err
	}
	param.ID = r.s.id()
	c := *param
	r.s.params[param.ID] = &c
	return nil
}

func (r *memRuleRepository) UpdateParam(ctx context.Context, param *models.RuleParam) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("update_param"); err != nil {
		return err
	}
	c := *param
	r.s.params[param.ID] = &c
	return nil
}

func (r *memRuleRepository) DeleteParam(ctx context.Context, paramID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("delete_param"); err != nil {
		return err
	}
	delete(r.s.params, paramID)
	for _, ar := range r.s.activeRules {
		ar.Params = slices.DeleteFunc(ar.Params, func(p models.ActiveRuleParam) bool { return p.RuleParamID == paramID })
	}
	return nil
}

func (r *memRuleRepository) SetTags(ctx context.Context, ruleID int64, systemTags, userTags []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("set_tags"); err != nil {
		return err
	}
	rule, ok := r.s.rules[ruleID]
	if !ok {
		return apperrors.ErrNotFound
	}
	rule.SystemTags = sortedUnique(systemTags)
	rule.Tags = sortedUnique(userTags)
	for _, t := range append(append([]string(nil), systemTags...), userTags...) {
		r.s.ensureTag(t)
	}
	return nil
}

type memCharacteristicRepository struct{ s *memStore }

var _ repositories.CharacteristicRepository = (*memCharacteristicRepository)(nil)

func (r *memCharacteristicRepository) SelectAll(ctx context.Context) ([]*models.Characteristic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*models.Characteristic(nil), r.s.chars...), nil
}

func (r *memCharacteristicRepository) Insert(ctx context.Context, c *models.Characteristic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.chars = append(r.s.chars, c)
	return nil
}

type memActiveRuleRepository struct{ s *memStore }

var _ repositories.ActiveRuleRepository = (*memActiveRuleRepository)(nil)

func (r *memActiveRuleRepository) SelectAll(ctx context.Context) ([]*models.ActiveRule, error) {
	return r.selectWhere(func(*models.ActiveRule) bool { return true }), nil
}

func (r *memActiveRuleRepository) SelectByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.ActiveRule, error) {
	return r.selectWhere(func(ar *models.ActiveRule) bool { return slices.Contains(ruleIDs, ar.RuleID) }), nil
}

func (r *memActiveRuleRepository) selectWhere(keep func(*models.ActiveRule) bool) []*models.ActiveRule {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ActiveRule
	for _, ar := range r.s.activeRules {
		if keep(ar) {
			out = append(out, cloneActiveRule(ar))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memActiveRuleRepository) DeleteByRuleID(ctx context.Context, ruleID int64) ([]*models.ActiveRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed []*models.ActiveRule
	for id, ar := range r.s.activeRules {
		if ar.RuleID == ruleID {
			removed = append(removed, ar)
			delete(r.s.activeRules, id)
		}
	}
	if len(removed) > 0 {
		if err := r.s.write("delete_active_rules"); err != nil {
			return nil, err
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (r *memActiveRuleRepository) Insert(ctx context.Context, ar *models.ActiveRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.write("insert_active_rule"); err != nil {
		return err
	}
	ar.ID = r.s.id()
	r.s.activeRules[ar.ID] = cloneActiveRule(ar)
	return nil
}

type memTagRepository struct{ s *memStore }

var _ repositories.TagRepository = (*memTagRepository)(nil)

func (r *memTagRepository) Create(ctx context.Context, value string) (*models.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tags[value]; ok {
		return nil, apperrors.ErrConflict
	}
	if err := r.s.write("create_tag"); err != nil {
		return nil, err
	}
	r.s.ensureTag(value)
	c := *r.s.tags[value]
	return &c, nil
}

func (r *memTagRepository) SelectAll(ctx context.Context) ([]*models.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Tag
	for _, t := range r.s.tags {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (r *memTagRepository) DeleteUnused(ctx context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	used := make(map[string]bool)
	for _, rule := range r.s.rules {
		for _, t := range rule.Tags {
			used[t] = true
		}
		for _, t := range rule.SystemTags {
			used[t] = true
		}
	}
	var deleted []string
	for v := range r.s.tags {
		if !used[v] {
			deleted = append(deleted, v)
		}
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	if err := r.s.write("delete_tags"); err != nil {
		return nil, err
	}
	for _, v := range deleted {
		delete(r.s.tags, v)
	}
	sort.Strings(deleted)
	return deleted, nil
}

// ============================================================================
// Index and clock
// ============================================================================

// countingIndex wraps a RuleIndex and counts writes. failWrites makes every
// write fail.
type countingIndex struct {
	index.RuleIndex

	mu         sync.Mutex
	writes     int
	failWrites bool
}

func (c *countingIndex) count() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return fmt.Errorf("index unavailable")
	}
	c.writes++
	return nil
}

func (c *countingIndex) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingIndex) SetFailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = fail
}

func (c *countingIndex) PutRules(ctx context.Context, docs []*index.RuleDoc) error {
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.PutRules(ctx, docs)
}

func (c *countingIndex) DeleteRules(ctx context.Context, ids []string) error {
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.DeleteRules(ctx, ids)
}

func (c *countingIndex) PutActiveRules(ctx context.Context, docs []*index.ActiveRuleDoc) error {
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.PutActiveRules(ctx, docs)
}

func (c *countingIndex) DeleteActiveRules(ctx context.Context, ids []string) error {
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.DeleteActiveRules(ctx, ids)
}

func (c *countingIndex) PutTags(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return c.RuleIndex.PutTags(ctx, values)
	}
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.PutTags(ctx, values)
}

func (c *countingIndex) DeleteTags(ctx context.Context, values []string) error {
	if err := c.count(); err != nil {
		return err
	}
	return c.RuleIndex.DeleteTags(ctx, values)
}

func newTestRuleIndex(t *testing.T) *countingIndex {
	t.Helper()
	idx, err := index.Open(index.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return &countingIndex{RuleIndex: idx}
}

// fakeClock returns a fixed time that tests advance by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ============================================================================
// Fixture
// ============================================================================

// registrationFixture wires the registration service over the in-memory store
// and an in-memory index.
type registrationFixture struct {
	store    *memStore
	index    *countingIndex
	clock    *fakeClock
	provider *staticCatalog
	sync     RuleIndexSynchronizer
	cascade  ActiveRuleCascade
	tags     TagService
	debt     RuleDebtService
	service  RuleRegistrationService
}

// staticCatalog is a Provider whose catalog tests swap between runs.
type staticCatalog struct {
	catalog *models.Catalog
}

func (p *staticCatalog) Load(ctx context.Context) (*models.Catalog, error) {
	return p.catalog, nil
}

func newRegistrationFixture(t *testing.T) *registrationFixture {
	t.Helper()

	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	idx := newTestRuleIndex(t)
	clock := newFakeClock()
	logger := zap.NewNop()

	ruleRepo := &memRuleRepository{s: store}
	charRepo := &memCharacteristicRepository{s: store}
	activeRuleRepo := &memActiveRuleRepository{s: store}
	tagRepo := &memTagRepository{s: store}

	f := &registrationFixture{
		store:    store,
		index:    idx,
		clock:    clock,
		provider: &staticCatalog{catalog: &models.Catalog{}},
	}
	f.sync = NewRuleIndexSynchronizer(store.scope(), ruleRepo, charRepo, activeRuleRepo, tagRepo, idx, 50, logger)
	f.cascade = NewActiveRuleCascade(store.tx(), ruleRepo, activeRuleRepo, f.sync, logger)
	f.tags = NewTagService(store.scope(), store.tx(), tagRepo, idx, logger)
	f.debt = NewRuleDebtService(store.scope(), store.tx(), ruleRepo, charRepo, f.sync, clock, logger)
	f.service = NewRuleRegistrationService(&RuleRegistrationServiceDeps{
		Provider:        f.provider,
		Scope:           store.scope(),
		Tx:              store.tx(),
		RuleRepo:        ruleRepo,
		CharRepo:        charRepo,
		Cascade:         f.cascade,
		IndexSync:       f.sync,
		Tags:            f.tags,
		Clock:           clock,
		CommitBatchSize: 2,
		Logger:          logger,
	})
	return f
}

func (f *registrationFixture) load(repos ...*models.RepositoryDefinition) {
	f.provider.catalog = &models.Catalog{Repositories: repos}
}

func (f *registrationFixture) register(t *testing.T) *RegistrationResult {
	t.Helper()
	result, err := f.service.Register(context.Background())
	require.NoError(t, err)
	return result
}

// Characteristic ids used across tests:
// 1 reliability (root), 2 exception-handling, 3 fault-tolerance (disabled),
// 10 maintainability (root), 11 readability.
func defaultCharacteristics() []*models.Characteristic {
	root := func(id int, key string) *models.Characteristic {
		return &models.Characteristic{ID: id, Key: key, Name: key, Enabled: true}
	}
	sub := func(id int, key string, parent int, enabled bool) *models.Characteristic {
		return &models.Characteristic{ID: id, Key: key, Name: key, ParentID: &parent, Enabled: enabled}
	}
	return []*models.Characteristic{
		root(1, "reliability"),
		sub(2, "exception-handling", 1, true),
		sub(3, "fault-tolerance", 1, false),
		root(10, "maintainability"),
		sub(11, "readability", 10, true),
	}
}

func repoDef(key string, rules ...*models.RuleDefinition) *models.RepositoryDefinition {
	return &models.RepositoryDefinition{Key: key, Name: key, Language: key, Rules: rules}
}

func ruleDef(key string, opts ...func(*models.RuleDefinition)) *models.RuleDefinition {
	def := &models.RuleDefinition{
		Key:             key,
		Name:            "Rule " + key,
		HTMLDescription: "<p>" + key + "</p>",
		Severity:        models.SeverityMajor,
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

func withStatus(status models.RuleStatus) func(*models.RuleDefinition) {
	return func(d *models.RuleDefinition) { d.Status = status }
}

func withTags(tags ...string) func(*models.RuleDefinition) {
	return func(d *models.RuleDefinition) { d.Tags = tags }
}

func withParams(params ...models.ParamDefinition) func(*models.RuleDefinition) {
	return func(d *models.RuleDefinition) { d.Params = params }
}

func withDebt(sub string, fn *models.RemediationFunction) func(*models.RuleDefinition) {
	return func(d *models.RuleDefinition) {
		d.DebtSubCharacteristicKey = sub
		d.DebtRemediationFunction = fn
	}
}

func asTemplate() func(*models.RuleDefinition) {
	return func(d *models.RuleDefinition) { d.IsTemplate = true }
}

func linear(coefficient string) *models.RemediationFunction {
	return &models.RemediationFunction{Type: models.RemediationLinear, Coefficient: coefficient}
}

func intPtr(v int) *int { return &v }

func (s *memStore) updateRule(id int64, fn func(*models.Rule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.rules[id])
}

package services

import (
	"slices"
	"sort"

	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// RuleOperation is the kind of write a RuleChange produces.
type RuleOperation string

const (
	RuleOperationInsert     RuleOperation = "insert"
	RuleOperationUpdate     RuleOperation = "update"
	RuleOperationReactivate RuleOperation = "reactivate"
	RuleOperationRemove     RuleOperation = "remove"
	RuleOperationCustom     RuleOperation = "custom"
)

// RuleChange is the planned new state of one rule.
type RuleChange struct {
	Kind RuleOperation
	// Rule is the target state. Its ID is zero for inserts until written.
	Rule *models.Rule
	// Previous is the persisted state, nil for inserts.
	Previous    *models.Rule
	TagsChanged bool

	NewParams     []*models.RuleParam
	ChangedParams []*models.RuleParam
	DeletedParams []*models.RuleParam

	// Cascade is set on removals whose repository is still loaded: the rule's
	// active rules must be deleted from every profile.
	Cascade bool
}

// ReconcilePlan is the complete set of writes of a registration run.
type ReconcilePlan struct {
	Inserts  []*RuleChange
	Updates  []*RuleChange
	Removals []*RuleChange
	// Custom holds custom rules following a status change of their template.
	Custom   []*RuleChange
	Warnings []models.Warning
}

// Len returns the number of rules the plan writes.
func (p *ReconcilePlan) Len() int {
	return len(p.Inserts) + len(p.Updates) + len(p.Removals) + len(p.Custom)
}

// Changes returns every change in write order.
func (p *ReconcilePlan) Changes() []*RuleChange {
	all := make([]*RuleChange, 0, p.Len())
	all = append(all, p.Inserts...)
	all = append(all, p.Updates...)
	all = append(all, p.Custom...)
	all = append(all, p.Removals...)
	return all
}

// RuleReconciler diffs the catalog against the persisted rules.
// It never writes: the resulting plan is applied by the registration service.
type RuleReconciler struct {
	resolver *CharacteristicResolver
	status   *RuleStatusManager
}

// NewRuleReconciler creates a RuleReconciler.
func NewRuleReconciler(resolver *CharacteristicResolver, status *RuleStatusManager) *RuleReconciler {
	return &RuleReconciler{resolver: resolver, status: status}
}

// Plan computes the writes that bring rules in line with defs.
// rules is the snapshot of persisted non-manual rules, REMOVED ones included,
// and params their parameters. A configuration error aborts planning.
func (r *RuleReconciler) Plan(defs []*models.RuleDefinition, rules []*models.Rule, params []*models.RuleParam) (*ReconcilePlan, error) {
	plan := &ReconcilePlan{}

	persisted := make(map[models.RuleKey]*models.Rule, len(rules))
	for _, rule := range rules {
		if rule.IsManual() {
			continue
		}
		persisted[rule.Key()] = rule
	}

	paramsByRule := make(map[int64][]*models.RuleParam)
	for _, p := range params {
		paramsByRule[p.RuleID] = append(paramsByRule[p.RuleID], p)
	}

	loadedRepos := make(map[string]bool)
	declared := make(map[models.RuleKey]bool, len(defs))
	for _, def := range defs {
		loadedRepos[def.RepositoryKey] = true
		declared[def.RuleKey()] = true
	}

	// Final state of every rule by id, used by the custom rule cascade.
	final := make(map[int64]*models.Rule, len(rules))
	for _, rule := range rules {
		final[rule.ID] = rule
	}

	for _, def := range defs {
		existing := persisted[def.RuleKey()]

		var overrideID *int
		if existing != nil {
			overrideID = existing.SubCharacteristicID
		}
		debt, warnings, err := r.resolver.ResolveDefault(def, overrideID)
		if err != nil {
			return nil, err
		}
		plan.Warnings = append(plan.Warnings, warnings...)

		if existing == nil {
			change, err := r.planInsert(def, debt)
			if err != nil {
				return nil, err
			}
			plan.Inserts = append(plan.Inserts, change)
			continue
		}

		change, err := r.planUpdate(existing, def, debt, paramsByRule[existing.ID])
		if err != nil {
			return nil, err
		}
		if change != nil {
			plan.Updates = append(plan.Updates, change)
			final[existing.ID] = change.Rule
		}
	}

	for _, rule := range rules {
		if rule.IsManual() || rule.IsCustom() || declared[rule.Key()] || rule.Status == models.RuleStatusRemoved {
			continue
		}
		change, err := r.planRemoval(rule, loadedRepos[rule.RepositoryKey])
		if err != nil {
			return nil, err
		}
		plan.Removals = append(plan.Removals, change)
		final[rule.ID] = change.Rule
	}

	for _, rule := range rules {
		if rule.IsManual() || !rule.IsCustom() || declared[rule.Key()] {
			continue
		}
		change, err := r.planCustom(rule, final[*rule.ParentID], loadedRepos[rule.RepositoryKey])
		if err != nil {
			return nil, err
		}
		if change != nil {
			plan.Custom = append(plan.Custom, change)
		}
	}

	return plan, nil
}

func (r *RuleReconciler) planInsert(def *models.RuleDefinition, debt DefaultDebt) (*RuleChange, error) {
	rule := &models.Rule{
		RepositoryKey: def.RepositoryKey,
		RuleKey:       def.Key,
	}
	applyDefinition(rule, def, debt)
	rule.SystemTags, rule.Tags = mergeTags(def, nil)

	if err := r.status.Create(rule, def.EffectiveStatus()); err != nil {
		return nil, err
	}

	newParams, _, _ := diffParams(def.Params, nil)
	return &RuleChange{
		Kind:        RuleOperationInsert,
		Rule:        rule,
		TagsChanged: len(rule.SystemTags) > 0,
		NewParams:   newParams,
	}, nil
}

// planUpdate refreshes an existing rule from its definition. A REMOVED rule
// is reactivated and every catalog field is refreshed. Returns nil when
// nothing differs.
func (r *RuleReconciler) planUpdate(existing *models.Rule, def *models.RuleDefinition, debt DefaultDebt, params []*models.RuleParam) (*RuleChange, error) {
	target := existing.Clone()
	applyDefinition(target, def, debt)
	target.SystemTags, target.Tags = mergeTags(def, existing.Tags)

	statusChanged, err := r.status.Transition(target, def.EffectiveStatus())
	if err != nil {
		return nil, err
	}

	newParams, changedParams, deletedParams := diffParams(def.Params, params)
	for _, p := range newParams {
		p.RuleID = existing.ID
	}

	change := &RuleChange{
		Kind:          RuleOperationUpdate,
		Rule:          target,
		Previous:      existing,
		TagsChanged:   !tagsEqual(existing, target),
		NewParams:     newParams,
		ChangedParams: changedParams,
		DeletedParams: deletedParams,
	}

	if !statusChanged && !catalogFieldsDiffer(existing, target) && !change.TagsChanged &&
		len(newParams)+len(changedParams)+len(deletedParams) == 0 {
		return nil, nil
	}

	if IsReactivation(existing.Status, target.Status) {
		change.Kind = RuleOperationReactivate
	}
	r.status.Touch(target)
	return change, nil
}

// planRemoval retires a rule missing from the catalog. Active rules are only
// deleted when the rule's repository is still loaded: an absent repository
// means its plugin is not installed right now and profiles must survive.
func (r *RuleReconciler) planRemoval(rule *models.Rule, repositoryLoaded bool) (*RuleChange, error) {
	target := rule.Clone()
	if _, err := r.status.Transition(target, models.RuleStatusRemoved); err != nil {
		return nil, err
	}
	target.SystemTags = nil

	return &RuleChange{
		Kind:        RuleOperationRemove,
		Rule:        target,
		Previous:    rule,
		TagsChanged: len(rule.SystemTags) > 0,
		Cascade:     repositoryLoaded,
	}, nil
}

// planCustom makes a custom rule follow its template. A live template hands
// down its status, language and default debt; a removed or missing one
// removes the custom rule. Parameters of custom rules are never touched.
func (r *RuleReconciler) planCustom(rule, template *models.Rule, repositoryLoaded bool) (*RuleChange, error) {
	target := rule.Clone()

	if template == nil || template.Status == models.RuleStatusRemoved {
		if rule.Status == models.RuleStatusRemoved {
			return nil, nil
		}
		if _, err := r.status.Transition(target, models.RuleStatusRemoved); err != nil {
			return nil, err
		}
		target.SystemTags = nil
		return &RuleChange{
			Kind:        RuleOperationCustom,
			Rule:        target,
			Previous:    rule,
			TagsChanged: len(rule.SystemTags) > 0,
			Cascade:     repositoryLoaded,
		}, nil
	}

	target.Language = template.Language
	target.DefaultSubCharacteristicID = copyIntPtr(template.DefaultSubCharacteristicID)
	target.DefaultRemediationFunction = template.DefaultRemediationFunction
	target.DefaultRemediationCoefficient = template.DefaultRemediationCoefficient
	target.DefaultRemediationOffset = template.DefaultRemediationOffset
	target.EffortToFixDescription = template.EffortToFixDescription

	statusChanged, err := r.status.Transition(target, template.Status)
	if err != nil {
		return nil, err
	}
	if !statusChanged && !catalogFieldsDiffer(rule, target) {
		return nil, nil
	}

	r.status.Touch(target)
	return &RuleChange{
		Kind:     RuleOperationCustom,
		Rule:     target,
		Previous: rule,
	}, nil
}

// applyDefinition copies the catalog-owned fields of def onto rule.
// Notes, user tags and debt overrides are left alone.
func applyDefinition(rule *models.Rule, def *models.RuleDefinition, debt DefaultDebt) {
	rule.Name = def.Name
	rule.Description = def.HTMLDescription
	rule.Severity = def.Severity
	rule.Language = def.Language
	rule.IsTemplate = def.IsTemplate
	rule.InternalKey = def.InternalKey
	rule.DefaultSubCharacteristicID = copyIntPtr(debt.SubCharacteristicID)
	rule.DefaultRemediationFunction = debt.Function
	rule.DefaultRemediationCoefficient = debt.Coefficient
	rule.DefaultRemediationOffset = debt.Offset
	rule.EffortToFixDescription = def.EffortToFixDescription
}

func catalogFieldsDiffer(a, b *models.Rule) bool {
	return a.Name != b.Name ||
		a.Description != b.Description ||
		a.Severity != b.Severity ||
		a.Status != b.Status ||
		a.Language != b.Language ||
		a.IsTemplate != b.IsTemplate ||
		a.InternalKey != b.InternalKey ||
		!intPtrEqual(a.DefaultSubCharacteristicID, b.DefaultSubCharacteristicID) ||
		a.DefaultRemediationFunction != b.DefaultRemediationFunction ||
		a.DefaultRemediationCoefficient != b.DefaultRemediationCoefficient ||
		a.DefaultRemediationOffset != b.DefaultRemediationOffset ||
		a.EffortToFixDescription != b.EffortToFixDescription
}

// mergeTags returns the system tags declared by def and the user tags that
// remain once the ones now declared by the catalog are promoted.
func mergeTags(def *models.RuleDefinition, userTags []string) (system, user []string) {
	system = sortedUnique(append(append([]string(nil), def.Tags...), def.SystemTags...))
	for _, t := range userTags {
		if !slices.Contains(system, t) {
			user = append(user, t)
		}
	}
	return system, sortedUnique(user)
}

func tagsEqual(a, b *models.Rule) bool {
	return slices.Equal(sortedUnique(a.Tags), sortedUnique(b.Tags)) &&
		slices.Equal(sortedUnique(a.SystemTags), sortedUnique(b.SystemTags))
}

// diffParams compares declared parameters with the stored ones by name.
func diffParams(declared []models.ParamDefinition, stored []*models.RuleParam) (added, changed, deleted []*models.RuleParam) {
	byName := make(map[string]*models.RuleParam, len(stored))
	for _, p := range stored {
		byName[p.Name] = p
	}

	seen := make(map[string]bool, len(declared))
	for _, d := range declared {
		seen[d.Name] = true
		p, ok := byName[d.Name]
		if !ok {
			added = append(added, &models.RuleParam{
				Name:         d.Name,
				Type:         d.Type,
				DefaultValue: d.DefaultValue,
				Description:  d.Description,
			})
			continue
		}
		if p.Type != d.Type || p.DefaultValue != d.DefaultValue || p.Description != d.Description {
			updated := *p
			updated.Type = d.Type
			updated.DefaultValue = d.DefaultValue
			updated.Description = d.Description
			changed = append(changed, &updated)
		}
	}

	for _, p := range stored {
		if !seen[p.Name] {
			deleted = append(deleted, p)
		}
	}
	return added, changed, deleted
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return slices.Compact(out)
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

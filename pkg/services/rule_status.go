package services

import (
	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// ruleTransitions lists the statuses reachable from each status.
// Moving out of REMOVED is a reactivation.
var ruleTransitions = map[models.RuleStatus][]models.RuleStatus{
	models.RuleStatusReady:      {models.RuleStatusBeta, models.RuleStatusDeprecated, models.RuleStatusRemoved},
	models.RuleStatusBeta:       {models.RuleStatusReady, models.RuleStatusDeprecated, models.RuleStatusRemoved},
	models.RuleStatusDeprecated: {models.RuleStatusReady, models.RuleStatusBeta, models.RuleStatusRemoved},
	models.RuleStatusRemoved:    {models.RuleStatusReady, models.RuleStatusBeta, models.RuleStatusDeprecated},
}

// RuleStatusManager applies status transitions and maintains rule timestamps.
type RuleStatusManager struct {
	clock Clock
}

// NewRuleStatusManager creates a RuleStatusManager reading time from clock.
func NewRuleStatusManager(clock Clock) *RuleStatusManager {
	return &RuleStatusManager{clock: clock}
}

// Create sets the initial status and both timestamps of a new rule.
func (m *RuleStatusManager) Create(rule *models.Rule, status models.RuleStatus) error {
	if !status.IsValid() {
		return apperrors.NewConfigurationError(rule.Key().String(), nil, "unknown status %q", status)
	}
	now := m.clock.Now()
	rule.Status = status
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// Transition moves rule to status. It returns false when the rule already has
// that status. createdAt is never touched.
func (m *RuleStatusManager) Transition(rule *models.Rule, to models.RuleStatus) (bool, error) {
	key := rule.Key().String()
	if !to.IsValid() {
		return false, apperrors.NewConfigurationError(key, nil, "unknown status %q", to)
	}
	if rule.Status == to {
		return false, nil
	}

	allowed, ok := ruleTransitions[rule.Status]
	if !ok {
		return false, apperrors.NewConfigurationError(key, nil, "stored status %q is unknown", rule.Status)
	}
	for _, s := range allowed {
		if s == to {
			rule.Status = to
			m.Touch(rule)
			return true, nil
		}
	}
	return false, apperrors.NewConfigurationError(key, nil, "transition %s -> %s is not allowed", rule.Status, to)
}

// Touch records a modification of rule.
func (m *RuleStatusManager) Touch(rule *models.Rule) {
	rule.UpdatedAt = m.clock.Now()
}

// IsReactivation reports whether moving from -> to brings a removed rule back.
func IsReactivation(from, to models.RuleStatus) bool {
	return from == models.RuleStatusRemoved && to != models.RuleStatusRemoved
}

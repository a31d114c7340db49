package models

import (
	"regexp"
	"time"
)

// ActiveRule associates a rule with a quality profile. Stored in active_rules.
type ActiveRule struct {
	ID        int64             `json:"id"`
	ProfileID int64             `json:"profile_id"`
	RuleID    int64             `json:"rule_id"`
	Severity  string            `json:"severity"`
	Params    []ActiveRuleParam `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ActiveRuleParam overrides a rule parameter value in a profile.
type ActiveRuleParam struct {
	ID           int64  `json:"id"`
	ActiveRuleID int64  `json:"active_rule_id"`
	RuleParamID  int64  `json:"rule_param_id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

// Tag is a catalog-wide tag value. Stored in rule_tags.
type Tag struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// Tag association types in rules_rule_tags
const (
	TagTypeSystem = "SYSTEM"
	TagTypeUser   = "USER"
)

var tagPattern = regexp.MustCompile(`^[a-z0-9+#\-.]+$`)

// IsValidTag reports whether v only uses lowercase letters, digits and "+#-.".
func IsValidTag(v string) bool {
	return tagPattern.MatchString(v)
}

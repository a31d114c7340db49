package models

import (
	"fmt"
	"strings"
	"time"
)

// RuleStatus is the lifecycle status of a rule.
type RuleStatus string

const (
	RuleStatusReady      RuleStatus = "READY"
	RuleStatusBeta       RuleStatus = "BETA"
	RuleStatusDeprecated RuleStatus = "DEPRECATED"
	RuleStatusRemoved    RuleStatus = "REMOVED"
)

// ManualRepositoryKey is the repository of rules created by end-users.
// Manual rules never come from a catalog and are never removed by registration.
const ManualRepositoryKey = "manual"

// Rule severities
const (
	SeverityInfo     = "INFO"
	SeverityMinor    = "MINOR"
	SeverityMajor    = "MAJOR"
	SeverityCritical = "CRITICAL"
	SeverityBlocker  = "BLOCKER"
)

// IsValid reports whether s is one of the known statuses.
func (s RuleStatus) IsValid() bool {
	switch s {
	case RuleStatusReady, RuleStatusBeta, RuleStatusDeprecated, RuleStatusRemoved:
		return true
	}
	return false
}

// RuleKey identifies a rule across the catalog, the store and the index.
type RuleKey struct {
	Repository string `json:"repository"`
	Rule       string `json:"rule"`
}

// String returns the "repository:rule" form.
func (k RuleKey) String() string {
	return k.Repository + ":" + k.Rule
}

// ParseRuleKey parses the "repository:rule" form. The rule part may itself contain colons.
func ParseRuleKey(s string) (RuleKey, error) {
	repo, rule, ok := strings.Cut(s, ":")
	if !ok || repo == "" || rule == "" {
		return RuleKey{}, fmt.Errorf("invalid rule key %q", s)
	}
	return RuleKey{Repository: repo, Rule: rule}, nil
}

// Rule is the persisted form of a rule. Stored in the rules table.
// Empty strings are stored as NULL for optional columns.
type Rule struct {
	ID            int64      `json:"id"`
	RepositoryKey string     `json:"repository_key"`
	RuleKey       string     `json:"rule_key"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Severity      string     `json:"severity"`
	Status        RuleStatus `json:"status"`
	Language      string     `json:"language,omitempty"`
	IsTemplate    bool       `json:"is_template"`
	InternalKey   string     `json:"internal_key,omitempty"`
	ParentID      *int64     `json:"parent_id,omitempty"` // Set on custom rules created from a template

	// User note, never written by registration
	NoteData      string     `json:"note_data,omitempty"`
	NoteUserID    string     `json:"note_user_id,omitempty"`
	NoteCreatedAt *time.Time `json:"note_created_at,omitempty"`
	NoteUpdatedAt *time.Time `json:"note_updated_at,omitempty"`

	Tags       []string `json:"tags,omitempty"`        // Written by end-users
	SystemTags []string `json:"system_tags,omitempty"` // Written by the catalog

	// Debt: overrides are written by end-users, defaults by the catalog
	SubCharacteristicID           *int   `json:"sub_characteristic_id,omitempty"`
	DefaultSubCharacteristicID    *int   `json:"default_sub_characteristic_id,omitempty"`
	RemediationFunction           string `json:"remediation_function,omitempty"`
	RemediationCoefficient        string `json:"remediation_coefficient,omitempty"`
	RemediationOffset             string `json:"remediation_offset,omitempty"`
	DefaultRemediationFunction    string `json:"default_remediation_function,omitempty"`
	DefaultRemediationCoefficient string `json:"default_remediation_coefficient,omitempty"`
	DefaultRemediationOffset      string `json:"default_remediation_offset,omitempty"`
	EffortToFixDescription        string `json:"effort_to_fix_description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the rule identity.
func (r *Rule) Key() RuleKey {
	return RuleKey{Repository: r.RepositoryKey, Rule: r.RuleKey}
}

// IsCustom reports whether the rule was instantiated from a template.
func (r *Rule) IsCustom() bool {
	return r.ParentID != nil
}

// IsManual reports whether the rule belongs to the manual repository.
func (r *Rule) IsManual() bool {
	return r.RepositoryKey == ManualRepositoryKey
}

// Clone returns a deep copy so planners can mutate without touching the snapshot.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	c.SystemTags = append([]string(nil), r.SystemTags...)
	if r.ParentID != nil {
		v := *r.ParentID
		c.ParentID = &v
	}
	if r.SubCharacteristicID != nil {
		v := *r.SubCharacteristicID
		c.SubCharacteristicID = &v
	}
	if r.DefaultSubCharacteristicID != nil {
		v := *r.DefaultSubCharacteristicID
		c.DefaultSubCharacteristicID = &v
	}
	return &c
}

// RuleParam is a parameter declared by a rule. Stored in rules_parameters.
type RuleParam struct {
	ID           int64  `json:"id"`
	RuleID       int64  `json:"rule_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	DefaultValue string `json:"default_value,omitempty"`
	Description  string `json:"description,omitempty"`
}

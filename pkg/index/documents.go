package index

import (
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// RuleDoc is the denormalized search document of a rule.
// Its ID is the rule key ("repository:rule").
type RuleDoc struct {
	ID              string            `json:"id"`
	RuleID          int64             `json:"rule_id"`
	Repository      string            `json:"repository"`
	RuleKey         string            `json:"rule_key"`
	Name            string            `json:"name"`
	HTMLDescription string            `json:"html_description,omitempty"`
	Severity        string            `json:"severity,omitempty"`
	Status          models.RuleStatus `json:"status"`
	Language        string            `json:"language,omitempty"`
	IsTemplate      bool              `json:"is_template"`
	TemplateKey     string            `json:"template_key,omitempty"`
	InternalKey     string            `json:"internal_key,omitempty"`

	NoteData      string     `json:"note_data,omitempty"`
	NoteUserID    string     `json:"note_user_id,omitempty"`
	NoteCreatedAt *time.Time `json:"note_created_at,omitempty"`
	NoteUpdatedAt *time.Time `json:"note_updated_at,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	SystemTags []string `json:"system_tags,omitempty"`
	// AllTags is the sorted union of Tags and SystemTags, used for search.
	AllTags []string `json:"all_tags,omitempty"`

	Params []RuleParamDoc `json:"params,omitempty"`

	// Debt is the effective debt model, DefaultDebt the one declared by the repository.
	Debt                   *models.RuleDebt `json:"debt,omitempty"`
	DefaultDebt            *models.RuleDebt `json:"default_debt,omitempty"`
	EffortToFixDescription string           `json:"effort_to_fix_description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleParamDoc is a rule parameter embedded in a RuleDoc.
type RuleParamDoc struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	DefaultValue string `json:"default_value,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ActiveRuleDoc is the search document of a rule activated in a profile.
type ActiveRuleDoc struct {
	ID           string               `json:"id"`
	ActiveRuleID int64                `json:"active_rule_id"`
	ProfileID    int64                `json:"profile_id"`
	RuleKey      string               `json:"rule_key"`
	Severity     string               `json:"severity"`
	Params       []ActiveRuleParamDoc `json:"params,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// ActiveRuleParamDoc is a parameter override embedded in an ActiveRuleDoc.
type ActiveRuleParamDoc struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ActiveRuleDocID returns the document id of a rule activated in a profile.
func ActiveRuleDocID(profileID int64, ruleKey models.RuleKey) string {
	return fmt.Sprintf("%d:%s", profileID, ruleKey)
}

// RuleQuery filters SearchRules. Empty fields match everything.
type RuleQuery struct {
	Repositories []string
	Statuses     []models.RuleStatus
	// Tags matches rules carrying any of the values, user or system.
	Tags []string
	// Text matches a case-insensitive substring of the rule name or key.
	Text string
	// IncludeRemoved returns REMOVED rules, which default search hides.
	IncludeRemoved bool
	Limit          int
}

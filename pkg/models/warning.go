package models

// Warning is a non-fatal data-quality finding of a registration run.
// RuleKey is empty for findings that concern a whole repository.
type Warning struct {
	RuleKey string `json:"rule_key,omitempty"`
	Message string `json:"message"`
}

package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrInvalidConfiguration    = errors.New("invalid rule configuration")
	ErrInvalidTag              = errors.New("invalid tag")
	ErrInvalidRemediation      = errors.New("invalid remediation function")
	ErrRunInProgress           = errors.New("rule registration already in progress")
	ErrUnknownCharacteristic   = errors.New("unknown characteristic")
	ErrCharacteristicHierarchy = errors.New("characteristic hierarchy deeper than two levels")
)

// ConfigurationError is a catalog-author mistake that aborts a registration run.
// It matches ErrInvalidConfiguration with errors.Is.
type ConfigurationError struct {
	RuleKey string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.RuleKey == "" {
		return fmt.Sprintf("invalid rule configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule configuration for %s: %s", e.RuleKey, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError for the given rule.
func NewConfigurationError(ruleKey string, err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{RuleKey: ruleKey, Reason: fmt.Sprintf(format, args...), Err: err}
}

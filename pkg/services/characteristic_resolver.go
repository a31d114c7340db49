package services

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// CharacteristicResolver resolves the debt model of rules against the
// two-level characteristic tree.
type CharacteristicResolver struct {
	byID  map[int]*models.Characteristic
	byKey map[string]*models.Characteristic
}

// DefaultDebt is the debt model a rule definition declares, as stored in the
// rule's default columns.
type DefaultDebt struct {
	SubCharacteristicID *int
	Function            string
	Coefficient         string
	Offset              string
}

// NewCharacteristicResolver indexes chars by id and key.
// A characteristic whose parent itself has a parent is rejected.
func NewCharacteristicResolver(chars []*models.Characteristic) (*CharacteristicResolver, error) {
	r := &CharacteristicResolver{
		byID:  make(map[int]*models.Characteristic, len(chars)),
		byKey: make(map[string]*models.Characteristic, len(chars)),
	}
	for _, c := range chars {
		r.byID[c.ID] = c
		r.byKey[c.Key] = c
	}

	for _, c := range chars {
		if c.IsRoot() {
			continue
		}
		parent, ok := r.byID[*c.ParentID]
		if !ok {
			return nil, apperrors.NewConfigurationError("", apperrors.ErrCharacteristicHierarchy,
				"characteristic %q references unknown parent %d", c.Key, *c.ParentID)
		}
		if !parent.IsRoot() {
			return nil, apperrors.NewConfigurationError("", apperrors.ErrCharacteristicHierarchy,
				"characteristic %q is nested under sub-characteristic %q", c.Key, parent.Key)
		}
	}

	return r, nil
}

// ByID returns the characteristic with the given id, or nil.
func (r *CharacteristicResolver) ByID(id int) *models.Characteristic {
	return r.byID[id]
}

// ByKey returns the characteristic with the given key, or nil.
func (r *CharacteristicResolver) ByKey(key string) *models.Characteristic {
	return r.byKey[key]
}

// root walks up once from a sub-characteristic.
func (r *CharacteristicResolver) root(sub *models.Characteristic) *models.Characteristic {
	if sub.IsRoot() {
		return sub
	}
	return r.byID[*sub.ParentID]
}

// validOverride reports whether the stored override points to an enabled sub-characteristic.
func (r *CharacteristicResolver) validOverride(overrideID *int) bool {
	if overrideID == nil {
		return false
	}
	c := r.byID[*overrideID]
	return c != nil && c.Enabled && !c.IsRoot()
}

// ResolveDefault computes the default debt of a definition.
// overrideID is the stored override of an existing rule and only affects warnings.
func (r *CharacteristicResolver) ResolveDefault(def *models.RuleDefinition, overrideID *int) (DefaultDebt, []models.Warning, error) {
	key := def.RuleKey().String()

	var debt DefaultDebt
	if fn := def.DebtRemediationFunction; fn != nil {
		if err := ValidateRemediation(fn.Type, fn.Coefficient, fn.Offset); err != nil {
			return DefaultDebt{}, nil, apperrors.NewConfigurationError(key, err, "%v", err)
		}
		debt.Function = string(fn.Type)
		debt.Coefficient = fn.Coefficient
		debt.Offset = fn.Offset
	}

	if def.DebtSubCharacteristicKey == "" {
		return DefaultDebt{}, nil, nil
	}

	c := r.byKey[def.DebtSubCharacteristicKey]
	if c == nil {
		if r.validOverride(overrideID) {
			return DefaultDebt{}, nil, nil
		}
		return DefaultDebt{}, []models.Warning{{
			RuleKey: key,
			Message: fmt.Sprintf("characteristic %q does not exist, debt definition ignored", def.DebtSubCharacteristicKey),
		}}, nil
	}

	if c.IsRoot() {
		return DefaultDebt{}, nil, apperrors.NewConfigurationError(key, nil,
			"characteristic %q is a root characteristic, a sub-characteristic is required", c.Key)
	}

	var warnings []models.Warning
	if !c.Enabled {
		warnings = append(warnings, models.Warning{
			RuleKey: key,
			Message: fmt.Sprintf("characteristic %q is disabled", c.Key),
		})
	}

	id := c.ID
	debt.SubCharacteristicID = &id
	return debt, warnings, nil
}

// Effective resolves the debt model in use for a persisted rule: the override
// sub-characteristic when it is set and enabled, otherwise the default; the
// override remediation function when set, otherwise the default. The two
// halves resolve independently: a remediation function survives without a
// sub-characteristic. Returns nil when neither half resolves.
func (r *CharacteristicResolver) Effective(rule *models.Rule) (*models.RuleDebt, error) {
	overloaded := false

	var sub *models.Characteristic
	if r.validOverride(rule.SubCharacteristicID) {
		sub = r.byID[*rule.SubCharacteristicID]
		overloaded = true
	} else if rule.DefaultSubCharacteristicID != nil {
		if c := r.byID[*rule.DefaultSubCharacteristicID]; c != nil && !c.IsRoot() {
			sub = c
		}
	}

	fn, coeff, offset := rule.DefaultRemediationFunction, rule.DefaultRemediationCoefficient, rule.DefaultRemediationOffset
	if rule.RemediationFunction != "" {
		fn, coeff, offset = rule.RemediationFunction, rule.RemediationCoefficient, rule.RemediationOffset
		overloaded = true
	}

	if sub == nil && fn == "" {
		return nil, nil
	}

	if fn != "" {
		if err := ValidateRemediation(models.RemediationFunctionType(fn), coeff, offset); err != nil {
			return nil, apperrors.NewConfigurationError(rule.Key().String(), err, "%v", err)
		}
	}

	return r.debt(sub, fn, coeff, offset, overloaded), nil
}

// Default resolves the debt model the repository declared for a persisted rule,
// ignoring overrides.
func (r *CharacteristicResolver) Default(rule *models.Rule) *models.RuleDebt {
	if rule.DefaultSubCharacteristicID == nil {
		return nil
	}
	sub := r.byID[*rule.DefaultSubCharacteristicID]
	if sub == nil || sub.IsRoot() {
		return nil
	}
	return r.debt(sub, rule.DefaultRemediationFunction, rule.DefaultRemediationCoefficient, rule.DefaultRemediationOffset, false)
}

// debt assembles a RuleDebt. sub may be nil, leaving only the remediation part.
func (r *CharacteristicResolver) debt(sub *models.Characteristic, fn, coeff, offset string, overloaded bool) *models.RuleDebt {
	debt := &models.RuleDebt{
		RemediationFunction:    models.RemediationFunctionType(fn),
		RemediationCoefficient: coeff,
		RemediationOffset:      offset,
		Overloaded:             overloaded,
	}
	if sub == nil {
		return debt
	}
	debt.SubCharacteristicKey = sub.Key
	debt.SubCharacteristicName = sub.Name
	if root := r.root(sub); root != nil {
		debt.CharacteristicKey = root.Key
		debt.CharacteristicName = root.Name
	}
	return debt
}

// ValidateRemediation checks that a remediation function carries the fields its type requires.
func ValidateRemediation(fn models.RemediationFunctionType, coefficient, offset string) error {
	switch fn {
	case models.RemediationLinear:
		if coefficient == "" {
			return fmt.Errorf("%w: LINEAR requires a coefficient", apperrors.ErrInvalidRemediation)
		}
		if offset != "" {
			return fmt.Errorf("%w: LINEAR does not accept an offset", apperrors.ErrInvalidRemediation)
		}
	case models.RemediationConstantIssue:
		if offset == "" {
			return fmt.Errorf("%w: CONSTANT_ISSUE requires an offset", apperrors.ErrInvalidRemediation)
		}
		if coefficient != "" {
			return fmt.Errorf("%w: CONSTANT_ISSUE does not accept a coefficient", apperrors.ErrInvalidRemediation)
		}
	case models.RemediationLinearOffset:
		if coefficient == "" || offset == "" {
			return fmt.Errorf("%w: LINEAR_OFFSET requires a coefficient and an offset", apperrors.ErrInvalidRemediation)
		}
	default:
		return fmt.Errorf("%w: unknown function %q", apperrors.ErrInvalidRemediation, fn)
	}
	return nil
}

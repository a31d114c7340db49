package models

// Characteristic is a node of the two-level debt model.
// Roots have no parent; sub-characteristics point to a root.
type Characteristic struct {
	ID       int    `json:"id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	ParentID *int   `json:"parent_id,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// IsRoot reports whether the characteristic is a root.
func (c *Characteristic) IsRoot() bool {
	return c.ParentID == nil
}

// RuleDebt is the resolved debt model of a rule.
type RuleDebt struct {
	CharacteristicKey      string                  `json:"characteristic_key,omitempty"`
	CharacteristicName     string                  `json:"characteristic_name,omitempty"`
	SubCharacteristicKey   string                  `json:"sub_characteristic_key,omitempty"`
	SubCharacteristicName  string                  `json:"sub_characteristic_name,omitempty"`
	RemediationFunction    RemediationFunctionType `json:"remediation_function,omitempty"`
	RemediationCoefficient string                  `json:"remediation_coefficient,omitempty"`
	RemediationOffset      string                  `json:"remediation_offset,omitempty"`
	// Overloaded is true when the user override is the effective value.
	Overloaded bool `json:"overloaded"`
}

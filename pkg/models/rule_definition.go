package models

// RemediationFunctionType names the formula used to estimate remediation effort.
type RemediationFunctionType string

const (
	RemediationLinear        RemediationFunctionType = "LINEAR"
	RemediationLinearOffset  RemediationFunctionType = "LINEAR_OFFSET"
	RemediationConstantIssue RemediationFunctionType = "CONSTANT_ISSUE"
)

// RemediationFunction is a remediation formula with its parameters.
type RemediationFunction struct {
	Type        RemediationFunctionType `yaml:"type" json:"type" validate:"required,oneof=LINEAR LINEAR_OFFSET CONSTANT_ISSUE"`
	Coefficient string                  `yaml:"coefficient" json:"coefficient,omitempty"`
	Offset      string                  `yaml:"offset" json:"offset,omitempty"`
}

// ParamDefinition is a rule parameter as declared by a repository.
type ParamDefinition struct {
	Name         string `yaml:"name" json:"name" validate:"required"`
	Type         string `yaml:"type" json:"type"`
	DefaultValue string `yaml:"default_value" json:"default_value,omitempty"`
	Description  string `yaml:"description" json:"description,omitempty"`
}

// RuleDefinition is a rule as contributed by an analyzer repository.
// It lives only for the duration of a registration run.
type RuleDefinition struct {
	RepositoryKey            string               `yaml:"-" json:"repository_key"`
	Language                 string               `yaml:"-" json:"language,omitempty"`
	Key                      string               `yaml:"key" json:"key" validate:"required"`
	Name                     string               `yaml:"name" json:"name" validate:"required"`
	HTMLDescription          string               `yaml:"html_description" json:"html_description"`
	Severity                 string               `yaml:"severity" json:"severity" validate:"required,oneof=INFO MINOR MAJOR CRITICAL BLOCKER"`
	Status                   RuleStatus           `yaml:"status" json:"status,omitempty" validate:"omitempty,oneof=READY BETA DEPRECATED"`
	IsTemplate               bool                 `yaml:"template" json:"template"`
	Tags                     []string             `yaml:"tags" json:"tags,omitempty" validate:"dive,ruletag"`
	SystemTags               []string             `yaml:"system_tags" json:"system_tags,omitempty" validate:"dive,ruletag"`
	Params                   []ParamDefinition    `yaml:"params" json:"params,omitempty" validate:"dive"`
	InternalKey              string               `yaml:"internal_key" json:"internal_key,omitempty"`
	DebtSubCharacteristicKey string               `yaml:"debt_sub_characteristic" json:"debt_sub_characteristic,omitempty"`
	DebtRemediationFunction  *RemediationFunction `yaml:"debt_remediation_function" json:"debt_remediation_function,omitempty"`
	EffortToFixDescription   string               `yaml:"effort_to_fix_description" json:"effort_to_fix_description,omitempty"`
}

// RuleKey returns the definition identity.
func (d *RuleDefinition) RuleKey() RuleKey {
	return RuleKey{Repository: d.RepositoryKey, Rule: d.Key}
}

// EffectiveStatus returns the declared status, READY when none is declared.
func (d *RuleDefinition) EffectiveStatus() RuleStatus {
	if d.Status == "" {
		return RuleStatusReady
	}
	return d.Status
}

// Param returns the declared parameter with the given name, or nil.
func (d *RuleDefinition) Param(name string) *ParamDefinition {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i]
		}
	}
	return nil
}

// RepositoryDefinition is a set of rules contributed by one analyzer.
type RepositoryDefinition struct {
	Key      string            `yaml:"key" json:"key" validate:"required"`
	Name     string            `yaml:"name" json:"name"`
	Language string            `yaml:"language" json:"language"`
	Rules    []*RuleDefinition `yaml:"rules" json:"rules" validate:"dive"`
}

// Catalog is the complete set of repositories loaded for one registration run.
// Extensions add rules to a repository declared elsewhere in Repositories.
type Catalog struct {
	Repositories []*RepositoryDefinition
	Extensions   []*RepositoryDefinition
}

// Repository returns the base repository with the given key, or nil.
func (c *Catalog) Repository(key string) *RepositoryDefinition {
	for _, repo := range c.Repositories {
		if repo.Key == key {
			return repo
		}
	}
	return nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// RuleRepository is the relational system-of-record for rules, their
// parameters and their tag associations.
type RuleRepository interface {
	// SelectNonManual returns every rule outside the manual repository, REMOVED ones included.
	SelectNonManual(ctx context.Context) ([]*models.Rule, error)
	// SelectAll returns every persisted rule.
	SelectAll(ctx context.Context) ([]*models.Rule, error)
	GetByKey(ctx context.Context, key models.RuleKey) (*models.Rule, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Rule, error)
	Count(ctx context.Context) (int, error)

	// Insert stores a new rule and sets its ID.
	Insert(ctx context.Context, rule *models.Rule) error
	// Update writes the catalog-owned columns. Notes and debt overrides are left untouched.
	Update(ctx context.Context, rule *models.Rule) error
	// UpdateDebtOverride writes the user-owned debt override columns.
	UpdateDebtOverride(ctx context.Context, rule *models.Rule) error

	SelectParams(ctx context.Context) ([]*models.RuleParam, error)
	SelectParamsByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.RuleParam, error)
	InsertParam(ctx context.Context, param *models.RuleParam) error
	UpdateParam(ctx context.Context, param *models.RuleParam) error
	// DeleteParam removes a parameter and the active rule values that reference it.
	DeleteParam(ctx context.Context, paramID int64) error

	// SetTags replaces the tag associations of a rule. Missing tag values are created.
	SetTags(ctx context.Context, ruleID int64, systemTags, userTags []string) error
}

type ruleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() RuleRepository {
	return &ruleRepository{}
}

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = `
		r.id, r.plugin_name, r.plugin_rule_key, r.plugin_config_key, r.name, r.description,
		r.severity, r.status, r.language, r.is_template, r.template_id,
		r.note_data, r.note_user_id, r.note_created_at, r.note_updated_at,
		r.characteristic_id, r.default_characteristic_id,
		r.remediation_function, r.remediation_coeff, r.remediation_offset,
		r.default_remediation_function, r.default_remediation_coeff, r.default_remediation_offset,
		r.effort_to_fix_description, r.created_at, r.updated_at,
		ARRAY(SELECT t.tag FROM rules_rule_tags rrt JOIN rule_tags t ON t.id = rrt.rule_tag_id
		      WHERE rrt.rule_id = r.id AND rrt.tag_type = 'USER' ORDER BY t.tag) AS tags,
		ARRAY(SELECT t.tag FROM rules_rule_tags rrt JOIN rule_tags t ON t.id = rrt.rule_tag_id
		      WHERE rrt.rule_id = r.id AND rrt.tag_type = 'SYSTEM' ORDER BY t.tag) AS system_tags`

// ============================================================================
// Rules
// ============================================================================

func (r *ruleRepository) SelectNonManual(ctx context.Context) ([]*models.Rule, error) {
	return r.selectRules(ctx, `SELECT `+ruleColumns+` FROM rules r WHERE r.plugin_name <> $1 ORDER BY r.id`,
		models.ManualRepositoryKey)
}

func (r *ruleRepository) SelectAll(ctx context.Context) ([]*models.Rule, error) {
	return r.selectRules(ctx, `SELECT `+ruleColumns+` FROM rules r ORDER BY r.id`)
}

func (r *ruleRepository) GetByKey(ctx context.Context, key models.RuleKey) (*models.Rule, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules r WHERE r.plugin_name = $1 AND r.plugin_rule_key = $2`

	rule, err := scanRule(conn.QueryRow(ctx, query, key.Repository, key.Rule))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule %s: %w", key, err)
	}
	return rule, nil
}

func (r *ruleRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Rule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.selectRules(ctx, `SELECT `+ruleColumns+` FROM rules r WHERE r.id = ANY($1) ORDER BY r.id`, ids)
}

func (r *ruleRepository) Count(ctx context.Context) (int, error) {
	conn, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

func (r *ruleRepository) selectRules(ctx context.Context, query string, args ...any) ([]*models.Rule, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func (r *ruleRepository) Insert(ctx context.Context, rule *models.Rule) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (
			plugin_name, plugin_rule_key, plugin_config_key, name, description,
			severity, status, language, is_template, template_id,
			characteristic_id, default_characteristic_id,
			remediation_function, remediation_coeff, remediation_offset,
			default_remediation_function, default_remediation_coeff, default_remediation_offset,
			effort_to_fix_description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`

	err = conn.QueryRow(ctx, query,
		rule.RepositoryKey,
		rule.RuleKey,
		nullString(rule.InternalKey),
		rule.Name,
		nullString(rule.Description),
		nullString(rule.Severity),
		string(rule.Status),
		nullString(rule.Language),
		rule.IsTemplate,
		rule.ParentID,
		rule.SubCharacteristicID,
		rule.DefaultSubCharacteristicID,
		nullString(rule.RemediationFunction),
		nullString(rule.RemediationCoefficient),
		nullString(rule.RemediationOffset),
		nullString(rule.DefaultRemediationFunction),
		nullString(rule.DefaultRemediationCoefficient),
		nullString(rule.DefaultRemediationOffset),
		nullString(rule.EffortToFixDescription),
		rule.CreatedAt,
		rule.UpdatedAt,
	).Scan(&rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to insert rule %s: %w", rule.Key(), err)
	}

	return nil
}

func (r *ruleRepository) Update(ctx context.Context, rule *models.Rule) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules
		SET plugin_config_key = $2, name = $3, description = $4, severity = $5, status = $6,
		    language = $7, is_template = $8, default_characteristic_id = $9,
		    default_remediation_function = $10, default_remediation_coeff = $11,
		    default_remediation_offset = $12, effort_to_fix_description = $13, updated_at = $14
		WHERE id = $1`

	result, err := conn.Exec(ctx, query,
		rule.ID,
		nullString(rule.InternalKey),
		rule.Name,
		nullString(rule.Description),
		nullString(rule.Severity),
		string(rule.Status),
		nullString(rule.Language),
		rule.IsTemplate,
		rule.DefaultSubCharacteristicID,
		nullString(rule.DefaultRemediationFunction),
		nullString(rule.DefaultRemediationCoefficient),
		nullString(rule.DefaultRemediationOffset),
		nullString(rule.EffortToFixDescription),
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", rule.Key(), err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *ruleRepository) UpdateDebtOverride(ctx context.Context, rule *models.Rule) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules
		SET characteristic_id = $2, remediation_function = $3, remediation_coeff = $4,
		    remediation_offset = $5, updated_at = $6
		WHERE id = $1`

	result, err := conn.Exec(ctx, query,
		rule.ID,
		rule.SubCharacteristicID,
		nullString(rule.RemediationFunction),
		nullString(rule.RemediationCoefficient),
		nullString(rule.RemediationOffset),
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update debt override of rule %s: %w", rule.Key(), err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ============================================================================
// Parameters
// ============================================================================

func (r *ruleRepository) SelectParams(ctx context.Context) ([]*models.RuleParam, error) {
	return r.selectParams(ctx, `
		SELECT id, rule_id, name, param_type, default_value, description
		FROM rules_parameters
		ORDER BY rule_id, name`)
}

func (r *ruleRepository) SelectParamsByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.RuleParam, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}
	return r.selectParams(ctx, `
		SELECT id, rule_id, name, param_type, default_value, description
		FROM rules_parameters
		WHERE rule_id = ANY($1)
		ORDER BY rule_id, name`, ruleIDs)
}

func (r *ruleRepository) selectParams(ctx context.Context, query string, args ...any) ([]*models.RuleParam, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule parameters: %w", err)
	}
	defer rows.Close()

	var params []*models.RuleParam
	for rows.Next() {
		var p models.RuleParam
		var defaultValue, description *string
		if err := rows.Scan(&p.ID, &p.RuleID, &p.Name, &p.Type, &defaultValue, &description); err != nil {
			return nil, fmt.Errorf("failed to scan rule parameter: %w", err)
		}
		p.DefaultValue = derefString(defaultValue)
		p.Description = derefString(description)
		params = append(params, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule parameters: %w", err)
	}

	return params, nil
}

func (r *ruleRepository) InsertParam(ctx context.Context, param *models.RuleParam) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules_parameters (rule_id, name, param_type, default_value, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err = conn.QueryRow(ctx, query,
		param.RuleID,
		param.Name,
		param.Type,
		nullString(param.DefaultValue),
		nullString(param.Description),
	).Scan(&param.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to insert rule parameter %s: %w", param.Name, err)
	}

	return nil
}

func (r *ruleRepository) UpdateParam(ctx context.Context, param *models.RuleParam) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules_parameters
		SET param_type = $2, default_value = $3, description = $4
		WHERE id = $1`

	result, err := conn.Exec(ctx, query,
		param.ID,
		param.Type,
		nullString(param.DefaultValue),
		nullString(param.Description),
	)
	if err != nil {
		return fmt.Errorf("failed to update rule parameter %s: %w", param.Name, err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *ruleRepository) DeleteParam(ctx context.Context, paramID int64) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM active_rule_parameters WHERE rules_parameter_id = $1`, paramID)
	batch.Queue(`DELETE FROM rules_parameters WHERE id = $1`, paramID)

	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to delete rule parameter %d: %w", paramID, err)
		}
	}

	return nil
}

// ============================================================================
// Tags
// ============================================================================

func (r *ruleRepository) SetTags(ctx context.Context, ruleID int64, systemTags, userTags []string) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM rules_rule_tags WHERE rule_id = $1`, ruleID)
	queueTagLinks(batch, ruleID, systemTags, models.TagTypeSystem)
	queueTagLinks(batch, ruleID, userTags, models.TagTypeUser)

	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to set tags of rule %d: %w", ruleID, err)
		}
	}

	return nil
}

func queueTagLinks(batch *pgx.Batch, ruleID int64, tags []string, tagType string) {
	for _, tag := range tags {
		batch.Queue(`INSERT INTO rule_tags (tag) VALUES ($1) ON CONFLICT (tag) DO NOTHING`, tag)
		batch.Queue(`
			INSERT INTO rules_rule_tags (rule_id, rule_tag_id, tag_type)
			SELECT $1, id, $3 FROM rule_tags WHERE tag = $2
			ON CONFLICT (rule_id, rule_tag_id) DO NOTHING`, ruleID, tag, tagType)
	}
}

// scanRule scans a row selected with ruleColumns.
func scanRule(row pgx.Row) (*models.Rule, error) {
	var rule models.Rule
	var internalKey, description, severity, language *string
	var noteData, noteUserID *string
	var remFn, remCoeff, remOffset, defRemFn, defRemCoeff, defRemOffset, effort *string
	var status string

	err := row.Scan(
		&rule.ID, &rule.RepositoryKey, &rule.RuleKey, &internalKey, &rule.Name, &description,
		&severity, &status, &language, &rule.IsTemplate, &rule.ParentID,
		&noteData, &noteUserID, &rule.NoteCreatedAt, &rule.NoteUpdatedAt,
		&rule.SubCharacteristicID, &rule.DefaultSubCharacteristicID,
		&remFn, &remCoeff, &remOffset,
		&defRemFn, &defRemCoeff, &defRemOffset,
		&effort, &rule.CreatedAt, &rule.UpdatedAt,
		&rule.Tags, &rule.SystemTags,
	)
	if err != nil {
		return nil, err
	}

	rule.Status = models.RuleStatus(status)
	rule.InternalKey = derefString(internalKey)
	rule.Description = derefString(description)
	rule.Severity = derefString(severity)
	rule.Language = derefString(language)
	rule.NoteData = derefString(noteData)
	rule.NoteUserID = derefString(noteUserID)
	rule.RemediationFunction = derefString(remFn)
	rule.RemediationCoefficient = derefString(remCoeff)
	rule.RemediationOffset = derefString(remOffset)
	rule.DefaultRemediationFunction = derefString(defRemFn)
	rule.DefaultRemediationCoefficient = derefString(defRemCoeff)
	rule.DefaultRemediationOffset = derefString(defRemOffset)
	rule.EffortToFixDescription = derefString(effort)
	if len(rule.Tags) == 0 {
		rule.Tags = nil
	}
	if len(rule.SystemTags) == 0 {
		rule.SystemTags = nil
	}

	return &rule, nil
}

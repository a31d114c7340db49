package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// ActiveRuleRepository provides data access for rules activated in quality profiles.
type ActiveRuleRepository interface {
	SelectAll(ctx context.Context) ([]*models.ActiveRule, error)
	SelectByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.ActiveRule, error)
	// DeleteByRuleID removes every activation of a rule and returns what was removed.
	DeleteByRuleID(ctx context.Context, ruleID int64) ([]*models.ActiveRule, error)
	// Insert activates a rule in a profile. Registration never activates
	// rules; this serves seeding and the quality profile subsystem.
	Insert(ctx context.Context, ar *models.ActiveRule) error
}

type activeRuleRepository struct{}

// NewActiveRuleRepository creates a new ActiveRuleRepository.
func NewActiveRuleRepository() ActiveRuleRepository {
	return &activeRuleRepository{}
}

var _ ActiveRuleRepository = (*activeRuleRepository)(nil)

func (r *activeRuleRepository) SelectAll(ctx context.Context) ([]*models.ActiveRule, error) {
	return r.selectActiveRules(ctx, `
		SELECT id, profile_id, rule_id, failure_level, created_at, updated_at
		FROM active_rules
		ORDER BY id`)
}

func (r *activeRuleRepository) SelectByRuleIDs(ctx context.Context, ruleIDs []int64) ([]*models.ActiveRule, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}
	return r.selectActiveRules(ctx, `
		SELECT id, profile_id, rule_id, failure_level, created_at, updated_at
		FROM active_rules
		WHERE rule_id = ANY($1)
		ORDER BY id`, ruleIDs)
}

func (r *activeRuleRepository) DeleteByRuleID(ctx context.Context, ruleID int64) ([]*models.ActiveRule, error) {
	removed, err := r.SelectByRuleIDs(ctx, []int64{ruleID})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	// Parameter rows go with ON DELETE CASCADE.
	if _, err := conn.Exec(ctx, `DELETE FROM active_rules WHERE rule_id = $1`, ruleID); err != nil {
		return nil, fmt.Errorf("failed to delete active rules of rule %d: %w", ruleID, err)
	}

	return removed, nil
}

func (r *activeRuleRepository) Insert(ctx context.Context, ar *models.ActiveRule) error {
	conn, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO active_rules (profile_id, rule_id, failure_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err = conn.QueryRow(ctx, query, ar.ProfileID, ar.RuleID, ar.Severity, ar.CreatedAt, ar.UpdatedAt).Scan(&ar.ID)
	if err != nil {
		return fmt.Errorf("failed to insert active rule: %w", err)
	}

	if len(ar.Params) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range ar.Params {
		ar.Params[i].ActiveRuleID = ar.ID
		batch.Queue(`
			INSERT INTO active_rule_parameters (active_rule_id, rules_parameter_id, rules_parameter_key, value)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, ar.ID, ar.Params[i].RuleParamID, ar.Params[i].Key, nullString(ar.Params[i].Value))
	}

	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	for i := range ar.Params {
		if err := results.QueryRow().Scan(&ar.Params[i].ID); err != nil {
			return fmt.Errorf("failed to insert active rule parameter %s: %w", ar.Params[i].Key, err)
		}
	}

	return nil
}

func (r *activeRuleRepository) selectActiveRules(ctx context.Context, query string, args ...any) ([]*models.ActiveRule, error) {
	conn, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}

	var activeRules []*models.ActiveRule
	byID := make(map[int64]*models.ActiveRule)
	for rows.Next() {
		var ar models.ActiveRule
		if err := rows.Scan(&ar.ID, &ar.ProfileID, &ar.RuleID, &ar.Severity, &ar.CreatedAt, &ar.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan active rule: %w", err)
		}
		activeRules = append(activeRules, &ar)
		byID[ar.ID] = &ar
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active rules: %w", err)
	}

	if len(activeRules) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(activeRules))
	for _, ar := range activeRules {
		ids = append(ids, ar.ID)
	}

	paramRows, err := conn.Query(ctx, `
		SELECT id, active_rule_id, rules_parameter_id, rules_parameter_key, value
		FROM active_rule_parameters
		WHERE active_rule_id = ANY($1)
		ORDER BY active_rule_id, rules_parameter_key`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rule parameters: %w", err)
	}
	defer paramRows.Close()

	for paramRows.Next() {
		var p models.ActiveRuleParam
		var value *string
		if err := paramRows.Scan(&p.ID, &p.ActiveRuleID, &p.RuleParamID, &p.Key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan active rule parameter: %w", err)
		}
		p.Value = derefString(value)
		if ar, ok := byID[p.ActiveRuleID]; ok {
			ar.Params = append(ar.Params, p)
		}
	}

	if err := paramRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active rule parameters: %w", err)
	}

	return activeRules, nil
}

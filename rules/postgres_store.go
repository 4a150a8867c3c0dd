package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// The schema lives in the migrations package.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, type, status, priority, is_enabled, category, tags,
	current_version, created_by, updated_by, created_at, updated_at`

const versionColumns = `id, rule_id, version, conditions, logical_operator, actions, status, test_cases,
	is_backward_compatible, effective_date, expiry_date, change_description, created_by, created_at`

const executionColumns = `id, rule_id, rule_version, context, result, status, error_message,
	execution_time_ms, triggered_by, entity_type, entity_id, metadata, executed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*BusinessRule, error) {
	var r BusinessRule
	var tags pq.StringArray
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Type, &r.Status, &r.Priority, &r.IsEnabled,
		&r.Category, &tags, &r.CurrentVersion, &r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		r.Tags = []string(tags)
	}
	return &r, nil
}

func scanVersion(row scanner) (*RuleVersion, error) {
	var v RuleVersion
	var conditions, actions, testCases []byte
	var effective, expiry sql.NullTime
	err := row.Scan(&v.ID, &v.RuleID, &v.Version, &conditions, &v.LogicalOperator, &actions, &v.Status,
		&testCases, &v.IsBackwardCompatible, &effective, &expiry, &v.ChangeDescription, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &v.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &v.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	if err := json.Unmarshal(testCases, &v.TestCases); err != nil {
		return nil, fmt.Errorf("failed to decode test cases: %w", err)
	}
	if effective.Valid {
		t := effective.Time
		v.EffectiveDate = &t
	}
	if expiry.Valid {
		t := expiry.Time
		v.ExpiryDate = &t
	}
	return &v, nil
}

func scanExecution(row scanner) (*RuleExecution, error) {
	var e RuleExecution
	var rctx, result, metadata []byte
	err := row.Scan(&e.ID, &e.RuleID, &e.RuleVersion, &rctx, &result, &e.Status, &e.ErrorMessage,
		&e.ExecutionTimeMs, &e.TriggeredBy, &e.EntityType, &e.EntityID, &metadata, &e.ExecutedAt)
	if err != nil {
		return nil, err
	}

	e.Context = &RuleContext{}
	if err := json.Unmarshal(rctx, e.Context); err != nil {
		return nil, fmt.Errorf("failed to decode execution context: %w", err)
	}
	if result != nil {
		e.Result = &ExecutionResult{}
		if err := json.Unmarshal(result, e.Result); err != nil {
			return nil, fmt.Errorf("failed to decode execution result: %w", err)
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode execution metadata: %w", err)
		}
	}
	return &e, nil
}

// mapError turns driver errors into package sentinels where one applies.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case "business_rules_name_key":
			return fmt.Errorf("%w: %s", ErrDuplicateName, pqErr.Detail)
		case "rule_versions_rule_id_version_key", "rule_versions_one_active":
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Detail)
		default:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	return storeError(op, err)
}

func getRule(ctx context.Context, q queryer, id string, lock bool) (*BusinessRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM business_rules WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rule, err := scanRule(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, mapError("get rule", err)
	}
	return rule, nil
}

func getRuleByName(ctx context.Context, q queryer, name string) (*BusinessRule, error) {
	rule, err := scanRule(q.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM business_rules WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: name %q", ErrRuleNotFound, name)
	}
	if err != nil {
		return nil, mapError("get rule by name", err)
	}
	return rule, nil
}

func listVersions(ctx context.Context, q queryer, ruleID string) ([]*RuleVersion, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM rule_versions WHERE rule_id = $1 ORDER BY version DESC`, ruleID)
	if err != nil {
		return nil, mapError("list versions", err)
	}
	defer rows.Close()

	var versions []*RuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, mapError("scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate versions", err)
	}
	return versions, nil
}

// GetRule retrieves a rule by ID
func (s *PostgresRuleStore) GetRule(ctx context.Context, id string) (*BusinessRule, error) {
	return getRule(ctx, s.db, id, false)
}

// GetRuleByName retrieves a rule by its unique name
func (s *PostgresRuleStore) GetRuleByName(ctx context.Context, name string) (*BusinessRule, error) {
	return getRuleByName(ctx, s.db, name)
}

// ListRules returns rules matching the filter in creation order
func (s *PostgresRuleStore) ListRules(ctx context.Context, filter RuleFilter) ([]*BusinessRule, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Enabled != nil {
		add("is_enabled = $%d", *filter.Enabled)
	}

	query := `SELECT ` + ruleColumns + ` FROM business_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list rules", err)
	}
	defer rows.Close()

	var rulesList []*BusinessRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, mapError("scan rule", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate rules", err)
	}
	return rulesList, nil
}

// ListActiveRules returns active, enabled rules of the type in creation order
func (s *PostgresRuleStore) ListActiveRules(ctx context.Context, ruleType RuleType) ([]*BusinessRule, error) {
	enabled := true
	return s.ListRules(ctx, RuleFilter{Type: ruleType, Status: RuleStatusActive, Enabled: &enabled})
}

// ListVersions returns the rule's versions, newest first
func (s *PostgresRuleStore) ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error) {
	return listVersions(ctx, s.db, ruleID)
}

// GetVersion retrieves one version of a rule
func (s *PostgresRuleStore) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM rule_versions WHERE rule_id = $1 AND version = $2`, ruleID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s version %d", ErrVersionNotFound, ruleID, version)
	}
	if err != nil {
		return nil, mapError("get version", err)
	}
	return v, nil
}

// GetActiveVersion retrieves the rule's ACTIVE version
func (s *PostgresRuleStore) GetActiveVersion(ctx context.Context, ruleID string) (*RuleVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM rule_versions WHERE rule_id = $1 AND status = 'ACTIVE'`, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", ErrNoActiveVersion, ruleID)
	}
	if err != nil {
		return nil, mapError("get active version", err)
	}
	return v, nil
}

// InTx runs fn in a database transaction and commits when fn returns nil
func (s *PostgresRuleStore) InTx(ctx context.Context, fn func(tx RuleTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// RecordExecution appends to the execution log
func (s *PostgresRuleStore) RecordExecution(ctx context.Context, exec *RuleExecution) error {
	rctx, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("failed to encode execution context: %w", err)
	}
	// nil interface values are sent as SQL NULL
	var result, metadata any
	if exec.Result != nil {
		b, err := json.Marshal(exec.Result)
		if err != nil {
			return fmt.Errorf("failed to encode execution result: %w", err)
		}
		result = b
	}
	if exec.Metadata != nil {
		b, err := json.Marshal(exec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode execution metadata: %w", err)
		}
		metadata = b
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, exec.ID, exec.RuleID, exec.RuleVersion, rctx, result, string(exec.Status), exec.ErrorMessage,
		exec.ExecutionTimeMs, exec.TriggeredBy, exec.EntityType, exec.EntityID, metadata, exec.ExecutedAt)
	if err != nil {
		return mapError("record execution", err)
	}
	return nil
}

// ListExecutions returns the rule's newest executions first
func (s *PostgresRuleStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*RuleExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM rule_executions WHERE rule_id = $1 ORDER BY executed_at DESC, seq DESC`
	args := []any{ruleID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list executions", err)
	}
	defer rows.Close()

	var executions []*RuleExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, mapError("scan execution", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate executions", err)
	}
	return executions, nil
}

// pgTx is the RuleTx of a PostgresRuleStore transaction.
type pgTx struct {
	tx *sql.Tx
}

// GetRule locks the rule row until the transaction ends, which serializes concurrent
// activations of the same rule.
func (t *pgTx) GetRule(ctx context.Context, id string) (*BusinessRule, error) {
	return getRule(ctx, t.tx, id, true)
}

func (t *pgTx) GetRuleByName(ctx context.Context, name string) (*BusinessRule, error) {
	return getRuleByName(ctx, t.tx, name)
}

func (t *pgTx) InsertRule(ctx context.Context, rule *BusinessRule) error {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO business_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rule.ID, rule.Name, rule.Description, string(rule.Type), string(rule.Status), int(rule.Priority),
		rule.IsEnabled, rule.Category, pq.Array(nonNil(rule.Tags)), rule.CurrentVersion, rule.CreatedBy,
		rule.UpdatedBy, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return mapError("insert rule", err)
	}
	return nil
}

func (t *pgTx) UpdateRule(ctx context.Context, rule *BusinessRule) error {
	rule.UpdatedAt = time.Now()

	result, err := t.tx.ExecContext(ctx, `
		UPDATE business_rules
		SET name = $1, description = $2, type = $3, status = $4, priority = $5, is_enabled = $6,
		    category = $7, tags = $8, current_version = $9, updated_by = $10, updated_at = $11
		WHERE id = $12
	`, rule.Name, rule.Description, string(rule.Type), string(rule.Status), int(rule.Priority), rule.IsEnabled,
		rule.Category, pq.Array(nonNil(rule.Tags)), rule.CurrentVersion, rule.UpdatedBy, rule.UpdatedAt, rule.ID)
	if err != nil {
		return mapError("update rule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return mapError("update rule", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	return nil
}

func (t *pgTx) DeleteRule(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM business_rules WHERE id = $1`, id)
	if err != nil {
		return mapError("delete rule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return mapError("delete rule", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func (t *pgTx) ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error) {
	return listVersions(ctx, t.tx, ruleID)
}

func (t *pgTx) InsertVersion(ctx context.Context, v *RuleVersion) error {
	conditions, err := json.Marshal(nonNil(v.Conditions))
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(nonNil(v.Actions))
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	testCases, err := json.Marshal(nonNil(v.TestCases))
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}
	v.CreatedAt = time.Now()

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO rule_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, v.ID, v.RuleID, v.Version, conditions, string(v.LogicalOperator), actions, string(v.Status), testCases,
		v.IsBackwardCompatible, v.EffectiveDate, v.ExpiryDate, v.ChangeDescription, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return mapError("insert version", err)
	}
	return nil
}

func (t *pgTx) SetVersionStatus(ctx context.Context, ruleID string, version int, status VersionStatus) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE rule_versions SET status = $1 WHERE rule_id = $2 AND version = $3`,
		string(status), ruleID, version)
	if err != nil {
		return mapError("set version status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return mapError("set version status", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: rule %s version %d", ErrVersionNotFound, ruleID, version)
	}
	return nil
}

func (t *pgTx) SetAllVersionStatus(ctx context.Context, ruleID string, status VersionStatus) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE rule_versions SET status = $1 WHERE rule_id = $2`, string(status), ruleID)
	if err != nil {
		return mapError("set version statuses", err)
	}
	return nil
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

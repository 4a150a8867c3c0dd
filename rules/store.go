package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore persists rules, their versions and the execution log.
//
// Reads run outside transactions. Every multi-row mutation goes through InTx so the
// lifecycle protocol (for example version activation) is applied atomically: either all of
// fn's writes become visible or none do.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (*BusinessRule, error)
	GetRuleByName(ctx context.Context, name string) (*BusinessRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]*BusinessRule, error)

	// ListActiveRules returns rules of the type with status ACTIVE that are enabled,
	// in store iteration order (creation order).
	ListActiveRules(ctx context.Context, ruleType RuleType) ([]*BusinessRule, error)

	// ListVersions returns the rule's versions sorted by version descending.
	ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error)
	GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error)
	GetActiveVersion(ctx context.Context, ruleID string) (*RuleVersion, error)

	// InTx runs fn inside one transaction. A non-nil error from fn rolls back.
	InTx(ctx context.Context, fn func(tx RuleTx) error) error

	RecordExecution(ctx context.Context, exec *RuleExecution) error

	// ListExecutions returns the rule's most recent executions, newest first.
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]*RuleExecution, error)
}

// RuleTx is the write side of a RuleStore, valid only inside InTx.
type RuleTx interface {
	// GetRule returns the rule and locks it against concurrent transactions.
	GetRule(ctx context.Context, id string) (*BusinessRule, error)
	GetRuleByName(ctx context.Context, name string) (*BusinessRule, error)
	InsertRule(ctx context.Context, rule *BusinessRule) error
	UpdateRule(ctx context.Context, rule *BusinessRule) error
	DeleteRule(ctx context.Context, id string) error

	ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error)
	InsertVersion(ctx context.Context, version *RuleVersion) error
	SetVersionStatus(ctx context.Context, ruleID string, version int, status VersionStatus) error
	SetAllVersionStatus(ctx context.Context, ruleID string, status VersionStatus) error
}

// InMemoryRuleStore implements RuleStore with maps guarded by a RWMutex.
// Transactions hold the write lock and work on a staged copy that replaces the live state
// only when fn succeeds.
type InMemoryRuleStore struct {
	state      *memState
	executions []*RuleExecution
	mu         sync.RWMutex
	execMu     sync.RWMutex
}

type memState struct {
	rules    map[string]*BusinessRule
	order    []string // rule ids in insertion order
	versions map[string][]*RuleVersion
}

func (s *memState) clone() *memState {
	c := &memState{
		rules:    make(map[string]*BusinessRule, len(s.rules)),
		order:    append([]string(nil), s.order...),
		versions: make(map[string][]*RuleVersion, len(s.versions)),
	}
	for id, r := range s.rules {
		c.rules[id] = r.Clone()
	}
	for id, vs := range s.versions {
		cp := make([]*RuleVersion, len(vs))
		for i, v := range vs {
			cp[i] = v.Clone()
		}
		c.versions[id] = cp
	}
	return c
}

// NewInMemoryRuleStore creates an empty in-memory store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		state: &memState{
			rules:    make(map[string]*BusinessRule),
			versions: make(map[string][]*RuleVersion),
		},
	}
}

// GetRule returns a copy of the rule.
func (s *InMemoryRuleStore) GetRule(ctx context.Context, id string) (*BusinessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.state.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// GetRuleByName returns a copy of the rule with the given name.
func (s *InMemoryRuleStore) GetRuleByName(ctx context.Context, name string) (*BusinessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.byName(name)
}

func (st *memState) byName(name string) (*BusinessRule, error) {
	for _, id := range st.order {
		if r := st.rules[id]; r.Name == name {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", ErrRuleNotFound, name)
}

// ListRules returns rules matching the filter in creation order.
func (s *InMemoryRuleStore) ListRules(ctx context.Context, filter RuleFilter) ([]*BusinessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*BusinessRule
	for _, id := range s.state.order {
		if r := s.state.rules[id]; filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// ListActiveRules returns active, enabled rules of the given type.
func (s *InMemoryRuleStore) ListActiveRules(ctx context.Context, ruleType RuleType) ([]*BusinessRule, error) {
	enabled := true
	return s.ListRules(ctx, RuleFilter{Type: ruleType, Status: RuleStatusActive, Enabled: &enabled})
}

// ListVersions returns the rule's versions, newest first.
func (s *InMemoryRuleStore) ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.listVersions(ruleID), nil
}

func (st *memState) listVersions(ruleID string) []*RuleVersion {
	vs := st.versions[ruleID]
	out := make([]*RuleVersion, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// GetVersion returns one version of a rule.
func (s *InMemoryRuleStore) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.state.versions[ruleID] {
		if v.Version == version {
			return v.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: rule %s version %d", ErrVersionNotFound, ruleID, version)
}

// GetActiveVersion returns the rule's ACTIVE version.
func (s *InMemoryRuleStore) GetActiveVersion(ctx context.Context, ruleID string) (*RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.state.versions[ruleID] {
		if v.Status == VersionStatusActive {
			return v.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: rule %s", ErrNoActiveVersion, ruleID)
}

// InTx runs fn against a staged copy and commits it when fn returns nil.
func (s *InMemoryRuleStore) InTx(ctx context.Context, fn func(tx RuleTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// RecordExecution appends a snapshot of exec to the execution log. Later changes to the
// caller's context or result do not reach the log.
func (s *InMemoryRuleStore) RecordExecution(ctx context.Context, exec *RuleExecution) error {
	cp, err := snapshotExecution(exec)
	if err != nil {
		return storeError("record execution", err)
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.executions = append(s.executions, cp)
	return nil
}

// snapshotExecution deep-copies an execution through its JSON form, the same
// encoding the Postgres store persists.
func snapshotExecution(exec *RuleExecution) (*RuleExecution, error) {
	raw, err := json.Marshal(exec)
	if err != nil {
		return nil, err
	}
	var cp RuleExecution
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListExecutions returns the newest executions of a rule.
func (s *InMemoryRuleStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*RuleExecution, error) {
	s.execMu.RLock()
	defer s.execMu.RUnlock()

	var out []*RuleExecution
	for i := len(s.executions) - 1; i >= 0; i-- {
		if e := s.executions[i]; e.RuleID == ruleID {
			cp, err := snapshotExecution(e)
			if err != nil {
				return nil, storeError("list executions", err)
			}
			out = append(out, cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memTx struct {
	state *memState
}

func (t *memTx) GetRule(ctx context.Context, id string) (*BusinessRule, error) {
	rule, ok := t.state.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

func (t *memTx) GetRuleByName(ctx context.Context, name string) (*BusinessRule, error) {
	return t.state.byName(name)
}

func (t *memTx) InsertRule(ctx context.Context, rule *BusinessRule) error {
	if _, exists := t.state.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	if _, err := t.state.byName(rule.Name); err == nil {
		return fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	t.state.rules[rule.ID] = rule.Clone()
	t.state.order = append(t.state.order, rule.ID)
	return nil
}

func (t *memTx) UpdateRule(ctx context.Context, rule *BusinessRule) error {
	existing, ok := t.state.rules[rule.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if other, err := t.state.byName(rule.Name); err == nil && other.ID != rule.ID {
		return fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name)
	}

	// Preserve original CreatedAt timestamp
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	t.state.rules[rule.ID] = rule.Clone()
	return nil
}

func (t *memTx) DeleteRule(ctx context.Context, id string) error {
	if _, ok := t.state.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(t.state.rules, id)
	delete(t.state.versions, id)
	for i, rid := range t.state.order {
		if rid == id {
			t.state.order = append(t.state.order[:i], t.state.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *memTx) ListVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error) {
	return t.state.listVersions(ruleID), nil
}

func (t *memTx) InsertVersion(ctx context.Context, version *RuleVersion) error {
	if _, ok := t.state.rules[version.RuleID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, version.RuleID)
	}
	for _, v := range t.state.versions[version.RuleID] {
		if v.Version == version.Version {
			return fmt.Errorf("version %d of rule %s already exists", version.Version, version.RuleID)
		}
	}
	version.CreatedAt = time.Now()
	t.state.versions[version.RuleID] = append(t.state.versions[version.RuleID], version.Clone())
	return nil
}

func (t *memTx) SetVersionStatus(ctx context.Context, ruleID string, version int, status VersionStatus) error {
	for _, v := range t.state.versions[ruleID] {
		if v.Version == version {
			v.Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: rule %s version %d", ErrVersionNotFound, ruleID, version)
}

func (t *memTx) SetAllVersionStatus(ctx context.Context, ruleID string, status VersionStatus) error {
	for _, v := range t.state.versions[ruleID] {
		v.Status = status
	}
	return nil
}

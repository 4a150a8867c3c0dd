package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/businessrules/internal/logger"
)

// VersionInput carries the write-once content of a new rule version.
type VersionInput struct {
	Conditions           []RuleCondition `json:"conditions" yaml:"conditions"`
	LogicalOperator      LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	Actions              []RuleAction    `json:"actions" yaml:"actions"`
	TestCases            []RuleTestCase  `json:"testCases,omitempty" yaml:"testCases,omitempty"`
	IsBackwardCompatible bool            `json:"isBackwardCompatible,omitempty" yaml:"isBackwardCompatible,omitempty"`
	EffectiveDate        *time.Time      `json:"effectiveDate,omitempty" yaml:"effectiveDate,omitempty"`
	ExpiryDate           *time.Time      `json:"expiryDate,omitempty" yaml:"expiryDate,omitempty"`
	ChangeDescription    string          `json:"changeDescription,omitempty" yaml:"changeDescription,omitempty"`
}

// CreateRuleInput describes a new rule and its first version.
type CreateRuleInput struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Type        RuleType `json:"type" yaml:"type"`
	Priority    Priority `json:"priority" yaml:"priority"`
	// IsEnabled defaults to true.
	IsEnabled *bool    `json:"isEnabled,omitempty" yaml:"isEnabled,omitempty"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedBy string   `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`

	VersionInput `yaml:",inline"`
}

// UpdateRuleInput patches rule metadata. Nil fields are left unchanged.
// Status is not patchable: use ActivateRuleVersion and DeactivateRule.
type UpdateRuleInput struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Type        *RuleType `json:"type,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	IsEnabled   *bool     `json:"isEnabled,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
}

func (in VersionInput) version(ruleID string, number int, actor string) *RuleVersion {
	op := in.LogicalOperator
	if op == "" {
		op = LogicalAnd
	}
	return &RuleVersion{
		ID:                   uuid.New().String(),
		RuleID:               ruleID,
		Version:              number,
		Conditions:           in.Conditions,
		LogicalOperator:      op,
		Actions:              in.Actions,
		Status:               VersionStatusDraft,
		TestCases:            in.TestCases,
		IsBackwardCompatible: in.IsBackwardCompatible,
		EffectiveDate:        in.EffectiveDate,
		ExpiryDate:           in.ExpiryDate,
		ChangeDescription:    in.ChangeDescription,
		CreatedBy:            actor,
	}
}

func (en *Engine) compiler() ExpressionCompiler {
	c, _ := en.expressions.(ExpressionCompiler)
	return c
}

// CreateRule stores a DRAFT rule together with its version 1 in one transaction.
func (en *Engine) CreateRule(ctx context.Context, in CreateRuleInput) (*BusinessRule, error) {
	enabled := true
	if in.IsEnabled != nil {
		enabled = *in.IsEnabled
	}

	priority := in.Priority
	if priority == 0 {
		priority = PriorityMedium
	}

	rule := &BusinessRule{
		ID:             uuid.New().String(),
		Name:           in.Name,
		Description:    in.Description,
		Type:           in.Type,
		Status:         RuleStatusDraft,
		Priority:       priority,
		IsEnabled:      enabled,
		Category:       in.Category,
		Tags:           in.Tags,
		CurrentVersion: 1,
		CreatedBy:      in.CreatedBy,
		UpdatedBy:      in.CreatedBy,
	}
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}

	version := in.VersionInput.version(rule.ID, 1, in.CreatedBy)
	if in.ChangeDescription == "" {
		version.ChangeDescription = "Initial version"
	}
	if err := ValidateVersion(version, en.compiler()); err != nil {
		return nil, err
	}

	err := en.store.InTx(ctx, func(tx RuleTx) error {
		if _, err := tx.GetRuleByName(ctx, rule.Name); err == nil {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name)
		}
		if err := tx.InsertRule(ctx, rule); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, version)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rule %q: %w", in.Name, err)
	}

	en.afterMutation(AuditRuleCreated, rule, 1, in.CreatedBy, nil)
	return en.store.GetRule(ctx, rule.ID)
}

// UpdateRule applies a metadata patch. Conditions and actions only change through new
// versions.
func (en *Engine) UpdateRule(ctx context.Context, id string, in UpdateRuleInput) (*BusinessRule, error) {
	var updated *BusinessRule
	err := en.store.InTx(ctx, func(tx RuleTx) error {
		rule, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}

		if in.Name != nil {
			rule.Name = *in.Name
		}
		if in.Description != nil {
			rule.Description = *in.Description
		}
		if in.Type != nil {
			rule.Type = *in.Type
		}
		if in.Priority != nil {
			rule.Priority = *in.Priority
		}
		if in.IsEnabled != nil {
			rule.IsEnabled = *in.IsEnabled
		}
		if in.Category != nil {
			rule.Category = *in.Category
		}
		if in.Tags != nil {
			rule.Tags = in.Tags
		}
		rule.UpdatedBy = in.UpdatedBy

		if err := ValidateRule(rule); err != nil {
			return err
		}
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", id, err)
	}

	en.afterMutation(AuditRuleUpdated, updated, updated.CurrentVersion, in.UpdatedBy, nil)
	return en.store.GetRule(ctx, id)
}

// DeleteRule removes a rule and its versions. ACTIVE rules must be deactivated first.
func (en *Engine) DeleteRule(ctx context.Context, id, actor string) error {
	var deleted *BusinessRule
	err := en.store.InTx(ctx, func(tx RuleTx) error {
		rule, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}
		if rule.Status == RuleStatusActive {
			return fmt.Errorf("%w: rule %q is ACTIVE, deactivate it before deleting", ErrConflict, rule.Name)
		}
		deleted = rule
		return tx.DeleteRule(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}

	en.afterMutation(AuditRuleDeleted, deleted, 0, actor, nil)
	return nil
}

// GetRule returns a rule by id.
func (en *Engine) GetRule(ctx context.Context, id string) (*BusinessRule, error) {
	return en.store.GetRule(ctx, id)
}

// GetRuleByName returns a rule by its unique name.
func (en *Engine) GetRuleByName(ctx context.Context, name string) (*BusinessRule, error) {
	return en.store.GetRuleByName(ctx, name)
}

// ListRules returns the rules matching filter.
func (en *Engine) ListRules(ctx context.Context, filter RuleFilter) ([]*BusinessRule, error) {
	return en.store.ListRules(ctx, filter)
}

// CreateRuleVersion appends a DRAFT version numbered one past the highest existing version.
// The rule's current version is unchanged unless this is its first version.
func (en *Engine) CreateRuleVersion(ctx context.Context, ruleID string, in VersionInput, actor string) (*RuleVersion, error) {
	var created *RuleVersion
	var owner *BusinessRule
	err := en.store.InTx(ctx, func(tx RuleTx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}

		existing, err := tx.ListVersions(ctx, ruleID)
		if err != nil {
			return err
		}
		next := 1
		if len(existing) > 0 {
			next = existing[0].Version + 1
		}

		version := in.version(ruleID, next, actor)
		if err := ValidateVersion(version, en.compiler()); err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}

		if len(existing) == 0 {
			rule.CurrentVersion = next
			rule.UpdatedBy = actor
			if err := tx.UpdateRule(ctx, rule); err != nil {
				return err
			}
		}
		created, owner = version, rule
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create version for rule %s: %w", ruleID, err)
	}

	en.afterMutation(AuditVersionCreated, owner, created.Version, actor, nil)
	return en.store.GetVersion(ctx, ruleID, created.Version)
}

// GetRuleVersions returns the rule's versions sorted by version descending.
func (en *Engine) GetRuleVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error) {
	if _, err := en.store.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	return en.store.ListVersions(ctx, ruleID)
}

// GetRuleVersion returns one version of a rule.
func (en *Engine) GetRuleVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	return en.store.GetVersion(ctx, ruleID, version)
}

// GetActiveVersion returns the rule's ACTIVE version.
func (en *Engine) GetActiveVersion(ctx context.Context, ruleID string) (*RuleVersion, error) {
	return en.store.GetActiveVersion(ctx, ruleID)
}

// ActivateRuleVersion makes version the rule's only ACTIVE version and marks the rule
// ACTIVE with that current version, all in one transaction. A missing version leaves
// every record untouched.
func (en *Engine) ActivateRuleVersion(ctx context.Context, ruleID string, version int, actor string) (*BusinessRule, error) {
	var activated *BusinessRule
	err := en.store.InTx(ctx, func(tx RuleTx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}

		versions, err := tx.ListVersions(ctx, ruleID)
		if err != nil {
			return err
		}
		found := false
		for _, v := range versions {
			if v.Version == version {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: rule %s version %d", ErrVersionNotFound, ruleID, version)
		}

		if err := tx.SetAllVersionStatus(ctx, ruleID, VersionStatusInactive); err != nil {
			return err
		}
		if err := tx.SetVersionStatus(ctx, ruleID, version, VersionStatusActive); err != nil {
			return err
		}

		rule.CurrentVersion = version
		rule.Status = RuleStatusActive
		rule.UpdatedBy = actor
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		activated = rule
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate version %d of rule %s: %w", version, ruleID, err)
	}

	logger.Info("rule version activated", "rule_id", ruleID, "rule", activated.Name, "version", version, "actor", actor)
	en.afterMutation(AuditVersionActivated, activated, version, actor, nil)
	return en.store.GetRule(ctx, ruleID)
}

// DeactivateRule marks the rule INACTIVE and disabled and every version INACTIVE.
func (en *Engine) DeactivateRule(ctx context.Context, ruleID, actor string) (*BusinessRule, error) {
	var deactivated *BusinessRule
	err := en.store.InTx(ctx, func(tx RuleTx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if err := tx.SetAllVersionStatus(ctx, ruleID, VersionStatusInactive); err != nil {
			return err
		}
		rule.Status = RuleStatusInactive
		rule.IsEnabled = false
		rule.UpdatedBy = actor
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		deactivated = rule
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate rule %s: %w", ruleID, err)
	}

	logger.Info("rule deactivated", "rule_id", ruleID, "rule", deactivated.Name, "actor", actor)
	en.afterMutation(AuditRuleDeactivated, deactivated, 0, actor, nil)
	return en.store.GetRule(ctx, ruleID)
}

// afterMutation runs once a lifecycle transaction has committed.
func (en *Engine) afterMutation(event AuditEventType, rule *BusinessRule, version int, actor string, details map[string]any) {
	en.invalidate()
	en.metrics.observeLifecycle(event)

	if rule == nil {
		return
	}
	en.audit.Publish(AuditEvent{
		Type:      event,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Version:   version,
		Actor:     actor,
		Timestamp: en.now(),
		Details:   details,
	})
}

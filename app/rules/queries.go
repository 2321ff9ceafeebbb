package rules

import (
	"context"
	"fmt"

	"github.com/ruleforge/automation-core/app/store"
)

// AddRule inserts rule under key, failing if key already exists — grounded
// on add_rule.
func (e *Engine) AddRule(ctx context.Context, key string, rule Rule) error {
	return store.WithFileLock(ctx, e.Paths.Rules, func() error {
		var doc RulesDocument
		if err := store.ReadJSON(e.Paths.Rules, &doc); err != nil {
			return err
		}
		if doc.Rules == nil {
			doc.Rules = map[string]Rule{}
		}
		if _, exists := doc.Rules[key]; exists {
			return fmt.Errorf("%w: rule %q", ErrAlreadyExists, key)
		}
		doc.Rules[key] = rule
		return store.WriteJSON(e.Paths.Rules, doc)
	})
}

// UpdateRule replaces an existing rule's definition, failing if key is
// absent — grounded on update_rule.
func (e *Engine) UpdateRule(ctx context.Context, key string, rule Rule) error {
	return store.WithFileLock(ctx, e.Paths.Rules, func() error {
		var doc RulesDocument
		if err := store.ReadJSON(e.Paths.Rules, &doc); err != nil {
			return err
		}
		if doc.Rules == nil {
			return fmt.Errorf("%w: rule %q", ErrNotFound, key)
		}
		if _, exists := doc.Rules[key]; !exists {
			return fmt.Errorf("%w: rule %q", ErrNotFound, key)
		}
		doc.Rules[key] = rule
		return store.WriteJSON(e.Paths.Rules, doc)
	})
}

// DeleteRule removes a rule, failing if key is absent — grounded on
// delete_rule.
func (e *Engine) DeleteRule(ctx context.Context, key string) error {
	return store.WithFileLock(ctx, e.Paths.Rules, func() error {
		var doc RulesDocument
		if err := store.ReadJSON(e.Paths.Rules, &doc); err != nil {
			return err
		}
		if _, exists := doc.Rules[key]; !exists {
			return fmt.Errorf("%w: rule %q", ErrNotFound, key)
		}
		delete(doc.Rules, key)
		return store.WriteJSON(e.Paths.Rules, doc)
	})
}

// ToggleRuleEnabled flips a rule's enabled flag and returns its new value
// — grounded on toggle_rule.
func (e *Engine) ToggleRuleEnabled(ctx context.Context, key string) (bool, error) {
	var newValue bool
	err := store.WithFileLock(ctx, e.Paths.Rules, func() error {
		var doc RulesDocument
		if err := store.ReadJSON(e.Paths.Rules, &doc); err != nil {
			return err
		}
		rule, exists := doc.Rules[key]
		if !exists {
			return fmt.Errorf("%w: rule %q", ErrNotFound, key)
		}
		newValue = !rule.IsEnabled()
		rule.Enabled = &newValue
		doc.Rules[key] = rule
		return store.WriteJSON(e.Paths.Rules, doc)
	})
	return newValue, err
}

// GetRule returns one rule by key.
func (e *Engine) GetRule(key string) (Rule, bool, error) {
	rules, err := e.loadRules()
	if err != nil {
		return Rule{}, false, err
	}
	rule, ok := rules[key]
	return rule, ok, nil
}

// ListRules returns every rule, keyed by id — grounded on list_rules.
func (e *Engine) ListRules() (map[string]Rule, error) {
	return e.loadRules()
}

// AddEventType inserts a new trigger test expression, failing if key
// already exists — grounded on add_event_type.
func (e *Engine) AddEventType(ctx context.Context, key string, eventType EventType) error {
	return store.WithFileLock(ctx, e.Paths.EventTypes, func() error {
		doc := EventTypesDocument{}
		if err := store.ReadJSON(e.Paths.EventTypes, &doc); err != nil {
			return err
		}
		if _, exists := doc[key]; exists {
			return fmt.Errorf("%w: event type %q", ErrAlreadyExists, key)
		}
		doc[key] = eventType
		return store.WriteJSON(e.Paths.EventTypes, doc)
	})
}

// UpdateEventType replaces an existing trigger test expression, failing if
// key is absent — grounded on update_event_type.
func (e *Engine) UpdateEventType(ctx context.Context, key string, eventType EventType) error {
	return store.WithFileLock(ctx, e.Paths.EventTypes, func() error {
		doc := EventTypesDocument{}
		if err := store.ReadJSON(e.Paths.EventTypes, &doc); err != nil {
			return err
		}
		if _, exists := doc[key]; !exists {
			return fmt.Errorf("%w: event type %q", ErrNotFound, key)
		}
		doc[key] = eventType
		return store.WriteJSON(e.Paths.EventTypes, doc)
	})
}

// GetEventTypes returns every registered trigger test expression.
func (e *Engine) GetEventTypes() (EventTypesDocument, error) {
	return e.loadEventTypes()
}

// DispatchEvent fires every enabled rule whose trigger is type "event" and
// whose event_key matches eventKey, synchronously, against payload —
// grounded on dispatch_event (the manual/webhook trigger path, distinct
// from the file-watching entry_added/entry_updated triggers).
func (e *Engine) DispatchEvent(ctx context.Context, eventKey string, payload map[string]any) ([]ActionOutcome, error) {
	rulesByKey, err := e.loadRules()
	if err != nil {
		return nil, err
	}

	var outcomes []ActionOutcome
	for ruleKey, rule := range rulesByKey {
		if !rule.IsEnabled() || rule.Trigger.Type != "event" || rule.Trigger.EventKey != eventKey {
			continue
		}
		if rule.Condition != "" && !e.Eval.Eval(rule.Condition, payload) {
			continue
		}
		outcome := e.RunAction(ctx, rule.Action, payload, 0)
		e.logHistory(ruleKey, "event:"+eventKey, "n/a", rule.Action, outcome)
		e.runPostAction(ctx, rule, outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// GetExecutionHistory delegates to the state store's history file,
// grounded on get_execution_history.
func (e *Engine) GetExecutionHistory(filter store.HistoryFilter) (store.HistoryPage, error) {
	return store.GetHistory(e.Paths.ExecutionHistory, filter)
}

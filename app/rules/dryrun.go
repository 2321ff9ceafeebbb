package rules

import (
	"time"

	"github.com/ruleforge/automation-core/app/resolve"
)

// DryRunResult reports what a rule would do against a given context,
// without invoking any tool — grounded on dry_run_rule.
type DryRunResult struct {
	WouldFire      bool
	ConditionMet   bool
	ResolvedParams map[string]any
	Reason         string
}

// DryRunRule evaluates rule's condition against scope and resolves its
// action's params, but never calls Invoker.
func (e *Engine) DryRunRule(rule Rule, scope map[string]any) DryRunResult {
	if !rule.IsEnabled() {
		return DryRunResult{WouldFire: false, Reason: "rule is disabled"}
	}
	if rule.Condition != "" && !e.Eval.Eval(rule.Condition, scope) {
		return DryRunResult{WouldFire: false, ConditionMet: false, Reason: "condition not satisfied"}
	}

	var resolved map[string]any
	if !rule.Action.IsWorkflow() {
		resolved, _ = resolve.Resolve(rule.Action.Params, scope).(map[string]any)
	}

	return DryRunResult{
		WouldFire:      true,
		ConditionMet:   true,
		ResolvedParams: resolved,
	}
}

// DryRunAllRules runs DryRunRule for every rule whose trigger type matches
// triggerType, evaluating each one against the same sampleScope (an empty
// scope when nil) — grounded on dry_run_all_rules.
func (e *Engine) DryRunAllRules(triggerType string, sampleScope map[string]any) (map[string]DryRunResult, error) {
	rulesByKey, err := e.loadRules()
	if err != nil {
		return nil, err
	}

	results := map[string]DryRunResult{}
	for key, rule := range rulesByKey {
		if rule.Trigger.Type != triggerType {
			continue
		}
		scope := sampleScope
		if scope == nil {
			scope = map[string]any{}
		}
		results[key] = e.DryRunRule(rule, scope)
	}
	return results, nil
}

// nextFireEstimate estimates when a time/interval rule will next fire,
// purely informational. It has no caller, and DryRunResult carries no
// next-fire time.
func nextFireEstimate(rule Rule, now time.Time) (time.Time, bool) {
	switch rule.Trigger.Type {
	case "time":
		target := rule.Trigger.At
		if target == "" {
			target = rule.Trigger.Daily
		}
		if target == "" {
			return time.Time{}, false
		}
		t, err := time.Parse("15:04", target)
		if err != nil {
			return time.Time{}, false
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next, true
	case "interval":
		if rule.Trigger.Minutes <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(rule.Trigger.Minutes) * time.Minute), true
	default:
		return time.Time{}, false
	}
}

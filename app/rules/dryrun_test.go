package rules

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunRule_DisabledRuleNeverFires(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	disabled := false
	rule := Rule{Enabled: &disabled, Action: Action{Tool: "t", Action: "a"}}

	result := e.DryRunRule(rule, map[string]any{})
	assert.False(t, result.WouldFire)
}

func TestDryRunRule_ConditionGatesFiring(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	rule := Rule{Condition: ".value > 10", Action: Action{Tool: "t", Action: "a"}}

	result := e.DryRunRule(rule, map[string]any{"value": 5})
	assert.False(t, result.WouldFire)

	result = e.DryRunRule(rule, map[string]any{"value": 20})
	assert.True(t, result.WouldFire)
}

func TestDryRunRule_ResolvesActionParamsWithoutInvoking(t *testing.T) {
	invoker := newFakeInvoker()
	e, _ := newTestEngine(t, invoker)
	rule := Rule{Action: Action{Tool: "t", Action: "a", Params: map[string]any{"msg": "{value}"}}}

	result := e.DryRunRule(rule, map[string]any{"value": "hi"})
	assert.True(t, result.WouldFire)
	assert.Equal(t, "hi", result.ResolvedParams["msg"])
	assert.Equal(t, 0, invoker.callCount())
}

func TestDryRunRule_ResolvesNestedParams(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	rule := Rule{Action: Action{
		Tool: "t", Action: "a",
		Params: map[string]any{"nested": map[string]any{"a": "{x}", "b": []any{"{y}", "lit"}}},
	}}

	result := e.DryRunRule(rule, map[string]any{"x": "1", "y": "2"})
	require.True(t, result.WouldFire)

	want := map[string]any{"nested": map[string]any{"a": "1", "b": []any{"2", "lit"}}}
	if diff := cmp.Diff(want, result.ResolvedParams); diff != "" {
		t.Errorf("resolved params mismatch (-want +got):\n%s", diff)
	}
}

func TestDryRunAllRules_FiltersByTriggerType(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	ctx := context.Background()
	require.NoError(t, e.AddRule(ctx, "r1", Rule{
		Trigger: Trigger{Type: "interval", Minutes: 5},
		Action:  Action{Tool: "t", Action: "a"},
	}))
	require.NoError(t, e.AddRule(ctx, "r2", Rule{
		Trigger: Trigger{Type: "event", EventKey: "x"},
		Action:  Action{Tool: "t", Action: "a"},
	}))

	results, err := e.DryRunAllRules("interval", nil)
	require.NoError(t, err)
	assert.Contains(t, results, "r1")
	assert.NotContains(t, results, "r2")
}

package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/automation-core/app/store"
)

func TestAddRule_RejectsDuplicateKey(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	ctx := context.Background()

	rule := Rule{Trigger: Trigger{Type: "event", EventKey: "deploy"}, Action: Action{Tool: "t", Action: "a"}}
	require.NoError(t, e.AddRule(ctx, "r1", rule))
	err := e.AddRule(ctx, "r1", rule)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateRule_RequiresExisting(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	ctx := context.Background()

	err := e.UpdateRule(ctx, "missing", Rule{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRule_RemovesEntry(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	ctx := context.Background()

	rule := Rule{Trigger: Trigger{Type: "event", EventKey: "deploy"}, Action: Action{Tool: "t", Action: "a"}}
	require.NoError(t, e.AddRule(ctx, "r1", rule))
	require.NoError(t, e.DeleteRule(ctx, "r1"))

	rules, err := e.ListRules()
	require.NoError(t, err)
	assert.NotContains(t, rules, "r1")
}

func TestToggleRuleEnabled_FlipsValue(t *testing.T) {
	e, _ := newTestEngine(t, newFakeInvoker())
	ctx := context.Background()

	rule := Rule{Trigger: Trigger{Type: "event", EventKey: "deploy"}, Action: Action{Tool: "t", Action: "a"}}
	require.NoError(t, e.AddRule(ctx, "r1", rule))

	newVal, err := e.ToggleRuleEnabled(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, newVal)

	newVal, err = e.ToggleRuleEnabled(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, newVal)
}

func TestDispatchEvent_FiresMatchingRulesOnly(t *testing.T) {
	invoker := newFakeInvoker()
	e, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	require.NoError(t, e.AddRule(ctx, "deploy-rule", Rule{
		Trigger: Trigger{Type: "event", EventKey: "deploy"},
		Action:  Action{Tool: "slack", Action: "notify"},
	}))
	require.NoError(t, e.AddRule(ctx, "other-rule", Rule{
		Trigger: Trigger{Type: "event", EventKey: "other"},
		Action:  Action{Tool: "slack", Action: "notify"},
	}))

	outcomes, err := e.DispatchEvent(ctx, "deploy", map[string]any{"version": "1.2.3"})
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, 1, invoker.callCount())
}

func TestGetExecutionHistory_ReturnsAppendedRecords(t *testing.T) {
	invoker := newFakeInvoker()
	e, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	require.NoError(t, e.AddRule(ctx, "deploy-rule", Rule{
		Trigger: Trigger{Type: "event", EventKey: "deploy"},
		Action:  Action{Tool: "slack", Action: "notify"},
	}))
	_, err := e.DispatchEvent(ctx, "deploy", map[string]any{})
	require.NoError(t, err)

	page, err := e.GetExecutionHistory(store.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

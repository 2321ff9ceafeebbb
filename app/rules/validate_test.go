package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ruleforge/automation-core/app/toolinvoker"
)

func testRegistry() *toolinvoker.Registry {
	return &toolinvoker.Registry{Tools: map[string]toolinvoker.ToolEntry{
		"slack": {ScriptPath: "/bin/slack.sh", Actions: map[string][]string{"notify": nil, "archive": nil}},
	}}
}

func TestValidateRule_MissingTriggerFields(t *testing.T) {
	issues := ValidateRule(Rule{
		Trigger: Trigger{Type: "entry_added"},
		Action:  Action{Tool: "slack", Action: "notify"},
	}, testRegistry())
	assertHasField(t, issues, "trigger.file")
}

func TestValidateRule_UnknownToolSuggestsClosestMatch(t *testing.T) {
	issues := ValidateRule(Rule{
		Trigger: Trigger{Type: "event", EventKey: "x"},
		Action:  Action{Tool: "slak", Action: "notify"},
	}, testRegistry())
	issue := findField(issues, "action.tool")
	if assert.NotNil(t, issue) {
		assert.Equal(t, "slack", issue.Suggestion)
	}
}

func TestValidateRule_UnknownActionSuggestsClosestMatch(t *testing.T) {
	issues := ValidateRule(Rule{
		Trigger: Trigger{Type: "event", EventKey: "x"},
		Action:  Action{Tool: "slack", Action: "notifyy"},
	}, testRegistry())
	issue := findField(issues, "action.action")
	if assert.NotNil(t, issue) {
		assert.Equal(t, "notify", issue.Suggestion)
	}
}

func TestValidateRule_ValidRuleHasNoIssues(t *testing.T) {
	issues := ValidateRule(Rule{
		Trigger: Trigger{Type: "event", EventKey: "x"},
		Action:  Action{Tool: "slack", Action: "notify"},
	}, testRegistry())
	assert.Empty(t, issues)
}

func TestValidateRule_ForeachStepRequiresArray(t *testing.T) {
	issues := ValidateRule(Rule{
		Trigger: Trigger{Type: "event", EventKey: "x"},
		Action: Action{Steps: []Step{
			{Type: "foreach", Steps: []Step{{Tool: "slack", Action: "notify"}}},
		}},
	}, testRegistry())
	assertHasField(t, issues, "action.steps[0].array")
}

func assertHasField(t *testing.T, issues []ValidationIssue, field string) {
	t.Helper()
	assert.NotNil(t, findField(issues, field), "expected an issue for field %q, got %+v", field, issues)
}

func findField(issues []ValidationIssue, field string) *ValidationIssue {
	for i := range issues {
		if issues[i].Field == field {
			return &issues[i]
		}
	}
	return nil
}

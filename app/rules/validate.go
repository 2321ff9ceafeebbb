package rules

import (
	"fmt"

	"github.com/ruleforge/automation-core/app/similarity"
	"github.com/ruleforge/automation-core/app/toolinvoker"
)

// ValidationIssue is one problem ValidateRule found, with an optional
// fuzzy-matched suggestion — grounded on validate_rule's
// {field, message, suggestion} shape.
type ValidationIssue struct {
	Field      string
	Message    string
	Suggestion string
}

// ValidateRule checks rule's trigger and action(s) against registry,
// reporting every problem rather than stopping at the first — grounded on
// validate_rule. The rule's condition expression is not checked.
func ValidateRule(rule Rule, registry *toolinvoker.Registry) []ValidationIssue {
	var issues []ValidationIssue

	switch rule.Trigger.Type {
	case "":
		issues = append(issues, ValidationIssue{Field: "trigger.type", Message: "trigger type is required"})
	case "entry_added", "entry_updated":
		if rule.Trigger.File == "" {
			issues = append(issues, ValidationIssue{Field: "trigger.file", Message: "file trigger requires a file path"})
		}
	case "time":
		if rule.Trigger.At == "" && rule.Trigger.Daily == "" {
			issues = append(issues, ValidationIssue{Field: "trigger.at", Message: "time trigger requires at or daily"})
		}
	case "interval":
		if rule.Trigger.Minutes <= 0 {
			issues = append(issues, ValidationIssue{Field: "trigger.minutes", Message: "interval trigger requires minutes > 0"})
		}
	case "event":
		if rule.Trigger.EventKey == "" {
			issues = append(issues, ValidationIssue{Field: "trigger.event_key", Message: "event trigger requires event_key"})
		}
	default:
		issues = append(issues, ValidationIssue{Field: "trigger.type", Message: fmt.Sprintf("unknown trigger type %q", rule.Trigger.Type)})
	}

	issues = append(issues, validateAction(rule.Action, "action", registry)...)

	if rule.PostAction != nil {
		if rule.PostAction.ForEach == "" {
			issues = append(issues, ValidationIssue{Field: "post_action.for_each", Message: "post_action requires for_each"})
		}
		issues = append(issues, validateAction(rule.PostAction.Action, "post_action.action", registry)...)
	}

	return issues
}

func validateAction(action Action, field string, registry *toolinvoker.Registry) []ValidationIssue {
	if action.IsWorkflow() {
		var issues []ValidationIssue
		for i, step := range action.Steps {
			stepField := fmt.Sprintf("%s.steps[%d]", field, i)
			if step.Type == "foreach" {
				if step.Array == "" {
					issues = append(issues, ValidationIssue{Field: stepField + ".array", Message: "foreach step requires array"})
				}
				for j, sub := range step.Steps {
					issues = append(issues, validateToolAction(sub.Tool, sub.Action, fmt.Sprintf("%s.steps[%d]", stepField, j), registry)...)
				}
				continue
			}
			issues = append(issues, validateToolAction(step.Tool, step.Action, stepField, registry)...)
		}
		return issues
	}
	return validateToolAction(action.Tool, action.Action, field, registry)
}

func validateToolAction(tool, actionName, field string, registry *toolinvoker.Registry) []ValidationIssue {
	var issues []ValidationIssue
	if tool == "" {
		issues = append(issues, ValidationIssue{Field: field + ".tool", Message: "tool is required"})
		return issues
	}
	if registry == nil {
		return issues
	}

	entry, ok := registry.Tools[tool]
	if !ok {
		issue := ValidationIssue{Field: field + ".tool", Message: fmt.Sprintf("unknown tool %q", tool)}
		if suggestion, found := similarity.Best(tool, toolNames(registry), 0.6); found {
			issue.Suggestion = suggestion
		}
		issues = append(issues, issue)
		return issues
	}

	if actionName == "" {
		issues = append(issues, ValidationIssue{Field: field + ".action", Message: "action is required"})
		return issues
	}
	if _, ok := entry.Actions[actionName]; !ok {
		issue := ValidationIssue{Field: field + ".action", Message: fmt.Sprintf("tool %q has no action %q", tool, actionName)}
		if suggestion, found := similarity.Best(actionName, actionNames(entry), 0.6); found {
			issue.Suggestion = suggestion
		}
		issues = append(issues, issue)
	}
	return issues
}

func toolNames(registry *toolinvoker.Registry) []string {
	names := make([]string, 0, len(registry.Tools))
	for name := range registry.Tools {
		names = append(names, name)
	}
	return names
}

func actionNames(entry toolinvoker.ToolEntry) []string {
	names := make([]string, 0, len(entry.Actions))
	for name := range entry.Actions {
		names = append(names, name)
	}
	return names
}

package rules

import (
	"context"
	"strconv"
	"time"

	"github.com/ruleforge/automation-core/app/resolve"
)

// ActionOutcome is what RunAction/RunWorkflowSteps report back, grounded
// on run_action's {status, message, duration, ...} return shapes plus the
// history metadata callers log alongside it.
type ActionOutcome struct {
	Status   string         // "success", "error", "timeout_failed"
	Message  string
	Output   map[string]any
	Duration time.Duration
}

// RunAction executes a single action or, if it carries Steps, a workflow,
// against context, bounded by timeout (falling back to action.Timeout,
// then 30s, matching run_action's action_timeout precedence).
func (e *Engine) RunAction(ctx context.Context, action Action, scope map[string]any, timeout time.Duration) ActionOutcome {
	if timeout <= 0 {
		timeout = time.Duration(action.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if action.IsWorkflow() {
		return e.runWorkflowSteps(ctx, action.Steps, scope, timeout)
	}

	resolvedParams, _ := resolve.Resolve(action.Params, scope).(map[string]any)
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.Invoker.Invoke(runCtx, action.Tool, action.Action, resolvedParams)
	duration := time.Since(start)
	if runCtx.Err() == context.DeadlineExceeded {
		return ActionOutcome{Status: "timeout_failed", Message: "action timed out", Duration: duration}
	}
	if err != nil {
		return ActionOutcome{Status: "error", Message: err.Error(), Duration: duration}
	}

	status, _ := output["status"].(string)
	if status == "" {
		status = "success"
	}
	message, _ := output["message"].(string)
	return ActionOutcome{Status: status, Message: message, Output: output, Duration: duration}
}

// runWorkflowSteps threads previous_output through each step via the
// "prev" context key, matching run_workflow_steps. A step reporting
// "error" or "timeout_failed" short-circuits the remaining steps.
func (e *Engine) runWorkflowSteps(ctx context.Context, steps []Step, initialScope map[string]any, defaultTimeout time.Duration) ActionOutcome {
	scope := cloneScope(initialScope)
	var previous map[string]any

	for i, step := range steps {
		stepScope := cloneScope(scope)
		stepScope["prev"] = previous

		stepTimeout := defaultTimeout
		if step.Timeout > 0 {
			stepTimeout = time.Duration(step.Timeout) * time.Second
		}

		if step.Type == "foreach" {
			outcome := e.runForeach(ctx, step, stepScope, stepTimeout)
			if outcome.Status == "error" || outcome.Status == "timeout_failed" {
				return outcome
			}
			previous = outcome.Output
			continue
		}

		resolvedParams, _ := resolve.Resolve(step.Params, stepScope).(map[string]any)
		start := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		output, err := e.Invoker.Invoke(runCtx, step.Tool, step.Action, resolvedParams)
		cancel()
		duration := time.Since(start)

		if runCtx.Err() == context.DeadlineExceeded {
			return ActionOutcome{Status: "timeout_failed", Message: stepMessage(i, "timed out"), Duration: duration}
		}
		if err != nil {
			return ActionOutcome{Status: "error", Message: err.Error(), Duration: duration}
		}

		status, _ := output["status"].(string)
		previous = output
		if status == "error" || status == "timeout_failed" {
			message, _ := output["message"].(string)
			return ActionOutcome{Status: status, Message: message, Output: output, Duration: duration}
		}
	}
	return ActionOutcome{Status: "success", Output: previous}
}

// runForeach resolves step.Array against scope, then runs step.Steps once
// per item with "item"/"index" added to context, collecting results into
// {results, processed_count} as runWorkflowSteps' previous_output.
func (e *Engine) runForeach(ctx context.Context, step Step, scope map[string]any, timeout time.Duration) ActionOutcome {
	array, ok := lookupPath(scope, step.Array)
	if !ok {
		return ActionOutcome{Status: "error", Message: "foreach array path not found: " + step.Array}
	}
	items, ok := array.([]any)
	if !ok {
		return ActionOutcome{Status: "error", Message: "foreach array path is not a list: " + step.Array}
	}

	results := make([]any, 0, len(items))
	for idx, item := range items {
		itemScope := cloneScope(scope)
		itemScope["item"] = item
		itemScope["index"] = idx

		var subPrev map[string]any
		for _, subStep := range step.Steps {
			subStep.Params = resolveStepParams(subStep, itemScope)
			itemScope["prev"] = subPrev

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			out, err := e.Invoker.Invoke(runCtx, subStep.Tool, subStep.Action, subStep.Params)
			cancel()
			if runCtx.Err() == context.DeadlineExceeded {
				return ActionOutcome{Status: "timeout_failed", Message: "foreach step timed out"}
			}
			if err != nil {
				subPrev = map[string]any{"status": "error", "message": err.Error()}
				continue
			}
			subPrev = out
		}
		results = append(results, subPrev)
	}

	return ActionOutcome{
		Status: "success",
		Output: map[string]any{"results": results, "processed_count": len(results)},
	}
}

func resolveStepParams(step Step, scope map[string]any) map[string]any {
	resolved, _ := resolve.Resolve(step.Params, scope).(map[string]any)
	return resolved
}

func cloneScope(scope map[string]any) map[string]any {
	out := make(map[string]any, len(scope)+2)
	for k, v := range scope {
		out[k] = v
	}
	return out
}

func stepMessage(index int, suffix string) string {
	return "step " + strconv.Itoa(index+1) + " " + suffix
}

func lookupPath(scope map[string]any, path string) (any, bool) {
	var current any = scope
	for _, part := range splitDots(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func splitDots(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}


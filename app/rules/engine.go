package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruleforge/automation-core/app/metrics"
	"github.com/ruleforge/automation-core/app/predicate"
	"github.com/ruleforge/automation-core/app/store"
	"github.com/ruleforge/automation-core/app/toolinvoker"
)

// PollInterval is the engine loop's fixed polling cadence, matching
// engine_loop's time.sleep(5).
var PollInterval = 5 * time.Second

// sessionDedupLimit mirrors engine_loop's processed_this_session.clear()
// trigger at 10,000 entries — an unbounded-memory guard, not a
// correctness requirement.
const sessionDedupLimit = 10000

// Paths collects every state-file location the Engine reads and writes.
type Paths struct {
	Rules          string
	EventTypes     string
	State          string
	ExecutionHistory string
	ProjectRoot    string
}

// Engine runs the polling loop and the on-demand rule operations
// (add/update/validate/dry-run/...). It owns no goroutines itself; Run
// blocks until ctx is cancelled.
type Engine struct {
	Paths      Paths
	Invoker    toolinvoker.ToolInvoker
	Registry   *toolinvoker.Registry
	Eval       *predicate.Evaluator
	Log        zerolog.Logger

	sessionSeen map[string]struct{}
}

// New builds an Engine ready to Run.
func New(paths Paths, invoker toolinvoker.ToolInvoker, registry *toolinvoker.Registry, log zerolog.Logger) *Engine {
	metrics.Init()
	return &Engine{
		Paths:       paths,
		Invoker:     invoker,
		Registry:    registry,
		Eval:        predicate.NewEvaluator(),
		Log:         log,
		sessionSeen: map[string]struct{}{},
	}
}

// Run polls forever at PollInterval until ctx is cancelled, matching
// engine_loop's while True loop.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.tick(ctx); err != nil {
			e.Log.Error().Err(err).Msg("engine tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (e *Engine) resolveFilePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.Paths.ProjectRoot, path)
}

func (e *Engine) loadRules() (map[string]Rule, error) {
	var doc RulesDocument
	if err := store.ReadJSON(e.Paths.Rules, &doc); err != nil {
		return nil, err
	}
	if doc.Rules == nil {
		doc.Rules = map[string]Rule{}
	}
	return doc.Rules, nil
}

func (e *Engine) loadEventTypes() (EventTypesDocument, error) {
	doc := EventTypesDocument{}
	if err := store.ReadJSON(e.Paths.EventTypes, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type engineState struct {
	Files              map[string]json.RawMessage
	IntervalExecutions map[string]string
}

func (e *Engine) loadState() (engineState, error) {
	raw := map[string]json.RawMessage{}
	if err := store.ReadJSON(e.Paths.State, &raw); err != nil {
		return engineState{}, err
	}
	state := engineState{Files: map[string]json.RawMessage{}, IntervalExecutions: map[string]string{}}
	for k, v := range raw {
		if k == "interval_executions" {
			_ = json.Unmarshal(v, &state.IntervalExecutions)
			continue
		}
		state.Files[k] = v
	}
	return state, nil
}

func (e *Engine) saveState(state engineState) error {
	raw := map[string]json.RawMessage{}
	for k, v := range state.Files {
		raw[k] = v
	}
	if len(state.IntervalExecutions) > 0 {
		data, _ := json.Marshal(state.IntervalExecutions)
		raw["interval_executions"] = data
	}
	return store.WriteJSON(e.Paths.State, raw)
}

// entriesDoc is the on-disk shape of an entry_added/entry_updated watched
// file.
type entriesDoc struct {
	Entries map[string]map[string]any `json:"entries"`
}

func (e *Engine) tick(ctx context.Context) error {
	rulesByKey, err := e.loadRules()
	if err != nil {
		return err
	}
	eventTypes, err := e.loadEventTypes()
	if err != nil {
		return err
	}
	state, err := e.loadState()
	if err != nil {
		return err
	}

	fileRules := map[string]map[string][]string{} // path -> trigger type -> rule keys
	for ruleKey, rule := range rulesByKey {
		if !rule.IsEnabled() {
			continue
		}
		if rule.Trigger.Type != "entry_added" && rule.Trigger.Type != "entry_updated" {
			continue
		}
		path := e.resolveFilePath(rule.Trigger.File)
		if path == "" {
			continue
		}
		if fileRules[path] == nil {
			fileRules[path] = map[string][]string{"entry_added": {}, "entry_updated": {}}
		}
		fileRules[path][rule.Trigger.Type] = append(fileRules[path][rule.Trigger.Type], ruleKey)
	}

	for path, typeRules := range fileRules {
		var newDoc entriesDoc
		if err := store.ReadJSON(path, &newDoc); err != nil {
			e.Log.Warn().Err(err).Str("file", path).Msg("failed to read watched file")
			continue
		}
		var oldDoc entriesDoc
		if raw, ok := state.Files[path]; ok {
			_ = json.Unmarshal(raw, &oldDoc)
		}

		e.processEntryAdded(ctx, path, typeRules["entry_added"], rulesByKey, eventTypes, newDoc, oldDoc)
		e.processEntryUpdated(ctx, path, typeRules["entry_updated"], rulesByKey, eventTypes, newDoc, oldDoc)

		snapshot, _ := json.Marshal(newDoc)
		state.Files[path] = snapshot
	}

	e.processTimeAndIntervalTriggers(ctx, rulesByKey, &state)

	if len(e.sessionSeen) > sessionDedupLimit {
		e.sessionSeen = map[string]struct{}{}
	}

	return e.saveState(state)
}

func (e *Engine) processEntryAdded(ctx context.Context, path string, ruleKeys []string, rulesByKey map[string]Rule, eventTypes EventTypesDocument, newDoc, oldDoc entriesDoc) {
	testExpr := eventTypes["entry_added"].Test
	if testExpr == "" {
		return
	}
	for _, ruleKey := range ruleKeys {
		rule := rulesByKey[ruleKey]
		for key, newEntry := range newDoc.Entries {
			status, _ := newEntry["status"].(string)
			if status == "processed" || status == "processing" || status == "failed" {
				continue
			}

			sessionKey := fmt.Sprintf("%s:%s:added", path, key)
			if _, seen := e.sessionSeen[sessionKey]; seen {
				continue
			}

			oldEntry := oldDoc.Entries[key]
			scope := map[string]any{"key": key, "old_entry": oldEntry, "new_entry": newEntry}
			if !e.Eval.Eval(testExpr, scope) {
				continue
			}
			if rule.Condition != "" && !e.Eval.Eval(rule.Condition, scope) {
				continue
			}

			e.sessionSeen[sessionKey] = struct{}{}
			metrics.RulesFired.WithLabelValues(ruleKey, "entry_added").Inc()
			e.processQueueEntryWithLock(ctx, path, key, newEntry, rule, ruleKey)
		}
	}
}

func (e *Engine) processEntryUpdated(ctx context.Context, path string, ruleKeys []string, rulesByKey map[string]Rule, eventTypes EventTypesDocument, newDoc, oldDoc entriesDoc) {
	testExpr := eventTypes["entry_updated"].Test
	if testExpr == "" {
		return
	}
	for _, ruleKey := range ruleKeys {
		rule := rulesByKey[ruleKey]
		for key, newEntry := range newDoc.Entries {
			oldEntry, existed := oldDoc.Entries[key]
			if !existed {
				continue
			}
			status, _ := newEntry["status"].(string)
			if status == "processing" || status == "failed" {
				continue
			}

			scope := map[string]any{"key": key, "old_entry": oldEntry, "new_entry": newEntry}
			if !e.Eval.Eval(testExpr, scope) {
				continue
			}

			// Dedup on status + rule key, not updated_at, so a changing
			// timestamp between polls never causes a duplicate fire.
			sessionKey := fmt.Sprintf("%s:%s:%s:%s", path, key, ruleKey, status)
			if _, seen := e.sessionSeen[sessionKey]; seen {
				continue
			}

			if rule.Condition != "" && !e.Eval.Eval(rule.Condition, scope) {
				continue
			}

			e.sessionSeen[sessionKey] = struct{}{}
			metrics.RulesFired.WithLabelValues(ruleKey, "entry_updated").Inc()
			entryScope := entryContext(key, newEntry)
			e.Log.Info().Str("rule", ruleKey).Str("entry", key).Msg("processing")
			outcome := e.RunAction(ctx, rule.Action, entryScope, time.Duration(rule.Timeout)*time.Second)
			e.logHistory(ruleKey, "entry_updated", key, rule.Action, outcome)
		}
	}
}

func (e *Engine) processTimeAndIntervalTriggers(ctx context.Context, rulesByKey map[string]Rule, state *engineState) {
	now := time.Now()
	currentHHMM := now.Format("15:04")

	for ruleKey, rule := range rulesByKey {
		if !rule.IsEnabled() {
			continue
		}

		switch rule.Trigger.Type {
		case "time":
			triggerTime := rule.Trigger.At
			if triggerTime == "" {
				triggerTime = rule.Trigger.Daily
			}
			if triggerTime == "" || triggerTime != currentHHMM {
				continue
			}
			e.Log.Info().Str("rule", ruleKey).Msg("time trigger fired")
			metrics.RulesFired.WithLabelValues(ruleKey, "time").Inc()
			outcome := e.RunAction(ctx, rule.Action, map[string]any{}, time.Duration(rule.Timeout)*time.Second)
			e.logHistory(ruleKey, "time", "n/a", rule.Action, outcome)
			e.runPostAction(ctx, rule, outcome)

		case "interval":
			minutes := rule.Trigger.Minutes
			if minutes <= 0 {
				minutes = 5
			}
			last, hasLast := state.IntervalExecutions[ruleKey]
			shouldRun := !hasLast
			if hasLast {
				lastTime, err := time.Parse(time.RFC3339Nano, last)
				if err != nil {
					shouldRun = true
				} else if now.Sub(lastTime).Minutes() >= float64(minutes) {
					shouldRun = true
				}
			}
			if !shouldRun {
				continue
			}
			e.Log.Info().Str("rule", ruleKey).Msg("interval trigger fired")
			metrics.RulesFired.WithLabelValues(ruleKey, "interval").Inc()
			outcome := e.RunAction(ctx, rule.Action, map[string]any{}, time.Duration(rule.Timeout)*time.Second)
			e.logHistory(ruleKey, "interval", "n/a", rule.Action, outcome)
			e.runPostAction(ctx, rule, outcome)
			state.IntervalExecutions[ruleKey] = now.Format(time.RFC3339Nano)
		}
	}
}

// runPostAction fans a fired rule's result out over post_action.for_each,
// matching engine_loop's duplicated time/interval post_action handling.
func (e *Engine) runPostAction(ctx context.Context, rule Rule, outcome ActionOutcome) {
	if rule.PostAction == nil || outcome.Output == nil {
		return
	}
	post := *rule.PostAction
	rawItems, ok := outcome.Output[post.ForEach]
	if !ok {
		return
	}

	type indexedItem struct {
		key  any
		item any
	}
	var items []indexedItem
	switch v := rawItems.(type) {
	case map[string]any:
		for k, val := range v {
			items = append(items, indexedItem{key: k, item: val})
		}
	case []any:
		for _, val := range v {
			items = append(items, indexedItem{key: nil, item: val})
		}
	default:
		return
	}

	for _, it := range items {
		if post.Condition != "" {
			scope := map[string]any{"item": it.item}
			if !e.Eval.Eval(post.Condition, scope) {
				continue
			}
		}
		itemScope := map[string]any{"item": it.item, "item_key": it.key}
		e.RunAction(ctx, post.Action, itemScope, 0)
	}
}

// processQueueEntryWithLock is the single-entry processing pipeline:
// atomically claim the entry, run its rule's action, and record the
// outcome — grounded on process_queue_entry_with_lock.
func (e *Engine) processQueueEntryWithLock(ctx context.Context, path, key string, entry map[string]any, rule Rule, ruleKey string) bool {
	claimed := false
	err := store.UpdateEntry(ctx, path, key, func(raw json.RawMessage, exists bool) (json.RawMessage, bool, error) {
		if !exists {
			return nil, false, nil
		}
		var current map[string]any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &current)
		}
		status, _ := current["status"].(string)
		switch status {
		case "processing", "processed", "failed", "timeout_failed":
			return nil, false, nil
		}
		current["status"] = "processing"
		current["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		claimed = true
		data, _ := json.Marshal(current)
		return data, true, nil
	})
	if err != nil {
		e.Log.Error().Err(err).Str("key", key).Msg("failed to claim entry")
		return false
	}
	if !claimed {
		return false
	}

	ctxScope := entryContext(key, entry)
	timeout := time.Duration(rule.Timeout) * time.Second
	outcome := e.RunAction(ctx, rule.Action, ctxScope, timeout)
	e.logHistory(ruleKey, "entry_added", key, rule.Action, outcome)

	switch outcome.Status {
	case "timeout_failed":
		store.UpdateEntryStatus(ctx, path, key, "timeout_failed", map[string]any{"error": outcome.Message, "duration": outcome.Duration.Milliseconds()})
		return false
	case "error":
		store.UpdateEntryStatus(ctx, path, key, "failed", map[string]any{"error": outcome.Message})
		return false
	}

	_ = store.UpdateEntry(ctx, path, key, func(raw json.RawMessage, exists bool) (json.RawMessage, bool, error) {
		if !exists {
			return nil, false, nil
		}
		var current map[string]any
		_ = json.Unmarshal(raw, &current)
		if status, _ := current["status"].(string); status == "processing" {
			current["status"] = "processed"
			current["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
			data, _ := json.Marshal(current)
			return data, true, nil
		}
		return nil, false, nil
	})
	return true
}

func (e *Engine) logHistory(ruleID, trigger, entryID string, action Action, outcome ActionOutcome) {
	actionName := action.Tool + "." + action.Action
	if action.IsWorkflow() {
		actionName = "workflow[" + strconv.Itoa(len(action.Steps)) + "]"
	}
	result := outcome.Status
	if result == "" {
		result = "success"
	}
	metrics.ActionsRun.WithLabelValues(actionName, result).Inc()
	err := store.AppendHistory(context.Background(), e.Paths.ExecutionHistory, store.HistoryRecord{
		Timestamp:  time.Now(),
		RuleID:     ruleID,
		Trigger:    trigger,
		EntryID:    entryID,
		Action:     actionName,
		Result:     result,
		DurationMs: outcome.Duration.Milliseconds(),
	})
	if err != nil {
		e.Log.Warn().Err(err).Msg("failed to append execution history")
	}
}

func entryContext(key string, entry map[string]any) map[string]any {
	ctx := map[string]any{"entry_key": key}
	for k, v := range entry {
		if k != "entry_key" {
			ctx[k] = v
		}
	}
	return ctx
}

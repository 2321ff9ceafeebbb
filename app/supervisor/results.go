package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ruleforge/automation-core/app/metrics"
	"github.com/ruleforge/automation-core/app/store"
)

// Supervisor dispatches queued tasks to a bounded pool of worker
// processes and archives their results, grounded on the original's agent
// dispatch loop plus the teacher's worker-pool conventions.
type Supervisor struct {
	Queue       *Queue
	Spawner     WorkerSpawner
	ResultsDir  string
	// ResultsPath is the capped `{results: {task_id: entry}}` document
	// (spec.md §6): at most maxResults entries, most recent kept in
	// place, oldest overflow flushed to ArchivePath.
	ResultsPath string
	// ArchivePath is the append-only JSON-lines overflow archive.
	ArchivePath string
	LockPath    string
	manager     *Manager
}

// maxResults is the results file's retention cap (spec.md invariant 8).
const maxResults = 10

// New builds a Supervisor capped at maxParallel concurrent worker
// processes (DefaultMaxParallelAgents if <= 0).
func New(queue *Queue, spawner WorkerSpawner, resultsDir, archivePath string, maxParallel int) *Supervisor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelAgents
	}
	metrics.Init()
	return &Supervisor{
		Queue:       queue,
		Spawner:     spawner,
		ResultsDir:  resultsDir,
		ResultsPath: filepath.Join(resultsDir, "results.json"),
		ArchivePath: archivePath,
		manager:     NewManager(maxParallel),
	}
}

// DrainOnce claims every currently queued task and runs it through the
// worker pool, blocking until all of them finish. Returns the first batch
// of spawn/archival errors encountered, if any.
func (s *Supervisor) DrainOnce(ctx context.Context) []error {
	waiter := NewWaiter()

	tasks, err := s.Queue.Claim("")
	if err != nil {
		return []error{err}
	}
	for _, task := range tasks {
		task := task
		s.manager.Run(func() error {
			return s.runOne(ctx, task)
		}, waiter)
	}

	waiter.Wait()
	var errs []error
	for err := range waiter.Err() {
		errs = append(errs, err)
	}
	return errs
}

func (s *Supervisor) runOne(ctx context.Context, task Task) error {
	resultPath := filepath.Join(s.ResultsDir, task.ID+".json")
	logPath := filepath.Join(s.ResultsDir, "logs", task.ID+".log")

	if err := s.Queue.MarkInProgress(task.ID); err == nil {
		if marked, ok, err := s.Queue.Get(task.ID); err == nil && ok {
			task = marked
		}
	}
	spawnErr := s.Spawner.Spawn(ctx, task, resultPath, logPath)
	if spawnErr != nil {
		metrics.TasksTotal.WithLabelValues(task.Category, "error").Inc()
		_ = s.Queue.MarkCompleted(task.ID, "error", spawnErr.Error())
		return spawnErr
	}

	result, err := s.waitForResult(resultPath)
	if err != nil {
		metrics.TasksTotal.WithLabelValues(task.Category, "error").Inc()
		_ = s.Queue.MarkCompleted(task.ID, "error", err.Error())
		return err
	}
	if result.ExecutionTimeSeconds == 0 {
		result.ExecutionTimeSeconds = time.Since(task.ExecutionStartedAt()).Seconds()
	}

	if err := s.logTaskCompletion(task, result); err != nil {
		return err
	}

	metrics.TasksTotal.WithLabelValues(task.Category, normalizeTaskStatus(result.Status)).Inc()
	if tasks, err := s.Queue.List(); err == nil {
		metrics.QueueDepth.Set(float64(activeCount(tasks)))
	}
	return nil
}

// waitForResult polls for a worker's result file up to a fixed timeout,
// matching the original's wait-for-result-file pattern for detached
// subprocess workers.
func (s *Supervisor) waitForResult(resultPath string) (TaskResult, error) {
	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(resultPath); err == nil {
			var result TaskResult
			if err := store.ReadJSON(resultPath, &result); err != nil {
				return TaskResult{}, err
			}
			return result, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return TaskResult{}, ErrResultMissing
}

var (
	tagPattern       = regexp.MustCompile(`#(\w+)`)
	requestIDPattern = regexp.MustCompile(`REQUEST_ID:\s*(\S+)`)
)

// normalizeTaskStatus maps a worker's reported status onto the task
// status state machine's two completion outcomes (spec.md §4.5 point 1):
// completed|complete|done (case-insensitive) normalize to "done"; anything
// else — including an empty status — normalizes to "error".
func normalizeTaskStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "done":
		return "done"
	default:
		return "error"
	}
}

// extractTags pulls every "#tag" mention out of description, in order of
// first appearance, deduplicated.
func extractTags(description string) []string {
	if description == "" {
		return nil
	}
	var tags []string
	seen := map[string]bool{}
	for _, m := range tagPattern.FindAllStringSubmatch(description, -1) {
		tag := m[1]
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// extractRequestID finds a "REQUEST_ID: <id>" mention in description.
func extractRequestID(description string) (string, bool) {
	m := requestIDPattern.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// mergeTags unions base with extra, preserving base's order and appending
// any new tags not already present.
func mergeTags(base []string, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := map[string]bool{}
	merged := append([]string{}, base...)
	for _, t := range merged {
		seen[t] = true
	}
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}

// inferCategory falls back to the first extracted tag, then "general",
// when the task itself carries no explicit category.
func inferCategory(category string, tags []string) string {
	if category != "" {
		return category
	}
	if len(tags) > 0 {
		return tags[0]
	}
	return "general"
}

func taskDescription(task Task) string {
	if task.Description != "" {
		return task.Description
	}
	if d, ok := task.Payload["description"].(string); ok {
		return d
	}
	return ""
}

// logTaskCompletion realizes log_task_completion (spec.md §4.5 point
// list): normalizes the worker's reported status, extracts #tag mentions
// into the archived entry, records the entry into the
// capped results file (overflowing the oldest to the JSON-lines archive),
// writes a REQUEST_ID form-style result alongside, and finally removes
// the task from the queue on a "done" outcome — or leaves it in the queue
// with status "error" for inspection otherwise.
func (s *Supervisor) logTaskCompletion(task Task, result TaskResult) error {
	description := taskDescription(task)
	normalized := normalizeTaskStatus(result.Status)
	extracted := extractTags(description)
	tags := mergeTags(task.ProjectTags, extracted)
	category := inferCategory(task.Category, extracted)

	entry := TaskResultArchiveEntry{
		TaskID:               task.ID,
		CompletedAt:          time.Now().UTC(),
		Status:               normalized,
		ExecutionTimeSeconds: result.ExecutionTimeSeconds,
		Category:             category,
		ProjectTags:          tags,
		Output:               result.Output,
		Tokens:               result.Tokens,
	}

	telemetryPath := filepath.Join(s.ResultsDir, ".telemetry-"+task.ID+".json")
	if _, err := os.Stat(telemetryPath); err == nil {
		var usage TokenUsage
		if err := store.ReadJSON(telemetryPath, &usage); err == nil {
			entry.Tokens = &usage
		}
		_ = os.Remove(telemetryPath)
	}

	if err := s.recordResult(entry); err != nil {
		return err
	}

	if requestID, ok := extractRequestID(description); ok {
		formPath := filepath.Join(s.ResultsDir, requestID+".json")
		if err := store.WriteJSON(formPath, entry); err != nil {
			return err
		}
	}

	resultPath := filepath.Join(s.ResultsDir, task.ID+".json")
	_ = os.Remove(resultPath)

	if normalized == "done" {
		return s.Queue.RemoveTask(task.ID)
	}
	return s.Queue.MarkCompleted(task.ID, "error", result.Status)
}

// resultsDoc is the `{results: {task_id: entry}}` shape of ResultsPath.
type resultsDoc struct {
	Results map[string]TaskResultArchiveEntry `json:"results"`
}

// recordResult stores entry in the capped results document, flushing the
// oldest entry to the JSON-lines archive whenever the cap is exceeded —
// spec.md §4.5 point 2 and the TaskResult data-model row.
func (s *Supervisor) recordResult(entry TaskResultArchiveEntry) error {
	return store.WithFileLock(context.Background(), s.ResultsPath, func() error {
		var doc resultsDoc
		if err := store.ReadJSON(s.ResultsPath, &doc); err != nil {
			return err
		}
		if doc.Results == nil {
			doc.Results = map[string]TaskResultArchiveEntry{}
		}
		doc.Results[entry.TaskID] = entry

		for len(doc.Results) > maxResults {
			oldestID := ""
			var oldest time.Time
			for id, e := range doc.Results {
				if oldestID == "" || e.CompletedAt.Before(oldest) {
					oldestID, oldest = id, e.CompletedAt
				}
			}
			if err := appendArchiveLine(s.ArchivePath, doc.Results[oldestID]); err != nil {
				return err
			}
			delete(doc.Results, oldestID)
		}
		return store.WriteJSON(s.ResultsPath, doc)
	})
}

// GetTaskResult returns the result for one task id, checking the live
// results file first and falling back to the JSON-lines archive.
func (s *Supervisor) GetTaskResult(taskID string) (TaskResultArchiveEntry, bool, error) {
	results, err := readResultsDoc(s.ResultsPath)
	if err != nil {
		return TaskResultArchiveEntry{}, false, err
	}
	if e, ok := results[taskID]; ok {
		return e, true, nil
	}

	archived, err := readArchiveLines(s.ArchivePath)
	if err != nil {
		return TaskResultArchiveEntry{}, false, err
	}
	for _, e := range archived {
		if e.TaskID == taskID {
			return e, true, nil
		}
	}
	return TaskResultArchiveEntry{}, false, nil
}

// GetAllResults returns every result: the live results file plus the
// JSON-lines overflow archive.
func (s *Supervisor) GetAllResults() ([]TaskResultArchiveEntry, error) {
	return s.allEntries()
}

// GetRecentTasks returns up to limit results across both the live results
// file and the archive, most recently completed first.
func (s *Supervisor) GetRecentTasks(limit int) ([]TaskResultArchiveEntry, error) {
	all, err := s.allEntries()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CompletedAt.After(all[j].CompletedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Supervisor) allEntries() ([]TaskResultArchiveEntry, error) {
	results, err := readResultsDoc(s.ResultsPath)
	if err != nil {
		return nil, err
	}
	archived, err := readArchiveLines(s.ArchivePath)
	if err != nil {
		return nil, err
	}
	all := make([]TaskResultArchiveEntry, 0, len(results)+len(archived))
	all = append(all, archived...)
	for _, e := range results {
		all = append(all, e)
	}
	return all, nil
}

// KillAgents terminates every in-flight worker process, if the
// configured Spawner supports it (ProcessSpawner does; fakes used in
// tests need not).
func (s *Supervisor) KillAgents() []error {
	if s.LockPath != "" {
		_ = releaseLock(s.LockPath)
	}
	if killer, ok := s.Spawner.(interface{ KillAgents() []error }); ok {
		return killer.KillAgents()
	}
	return nil
}

// LogTaskCompletion is the CLI-facing entry point for log_task_completion:
// it looks the task up by id and runs it through the same completion path
// a worker's own result file would take.
func (s *Supervisor) LogTaskCompletion(taskID string, result TaskResult) error {
	task, ok, err := s.Queue.Get(taskID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	result.TaskID = taskID
	return s.logTaskCompletion(task, result)
}

func readResultsDoc(path string) (map[string]TaskResultArchiveEntry, error) {
	var doc resultsDoc
	if err := store.ReadJSON(path, &doc); err != nil {
		return nil, err
	}
	return doc.Results, nil
}

func readArchiveLines(path string) ([]TaskResultArchiveEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []TaskResultArchiveEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e TaskResultArchiveEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func appendArchiveLine(path string, entry TaskResultArchiveEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

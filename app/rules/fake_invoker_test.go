package rules

import (
	"context"
	"sync"
)

// fakeInvoker is a scripted ToolInvoker for engine/action tests: each
// call records its arguments and returns the next queued result (or a
// default success), so tests can assert exactly what the engine invoked
// without running real subprocesses.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []fakeCall
	results map[string]map[string]any
	errs    map[string]error
}

type fakeCall struct {
	Tool, Action string
	Params       map[string]any
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		results: map[string]map[string]any{},
		errs:    map[string]error{},
	}
}

func (f *fakeInvoker) key(tool, action string) string { return tool + "." + action }

func (f *fakeInvoker) stub(tool, action string, result map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[f.key(tool, action)] = result
}

func (f *fakeInvoker) stubErr(tool, action string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[f.key(tool, action)] = err
}

func (f *fakeInvoker) Invoke(_ context.Context, tool, action string, params map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Tool: tool, Action: action, Params: params})

	key := f.key(tool, action)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	return map[string]any{"status": "success"}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Package predicate implements the sandboxed boolean expression evaluator
// spec.md §9 calls for in place of the original's restricted eval(): rule
// conditions, event-type tests, and post-action conditions are compiled
// and run as jq filters via github.com/itchyny/gojq, a pure-Go jq
// implementation with no filesystem, network, or process access — so a
// malformed or hostile rule file can never do more than fail to match.
//
// The time vocabulary automation_engine.py's evaluate_condition injects
// into eval() (now, days, hours, minutes, is_older_than) is reproduced as
// custom jq functions via gojq.WithFunction so existing condition authors'
// mental model carries over even though the syntax is now jq, not Python.
package predicate

import (
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"github.com/pkg/errors"
)

// Evaluator compiles and caches jq filters, then evaluates them against a
// JSON-like scope object for truthiness.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewEvaluator returns a ready-to-use Evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: map[string]*gojq.Code{}}
}

// Eval compiles expr (caching the result) and runs it against scope,
// returning the jq-truthiness of the first emitted value. Any compile,
// parse, or runtime error is treated as false, mirroring
// evaluate_condition's blanket `except Exception: return False`.
func (e *Evaluator) Eval(expr string, scope any) bool {
	code, err := e.compile(expr)
	if err != nil {
		return false
	}

	iter := code.Run(scope)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if err, ok := v.(error); ok {
		_ = err
		return false
	}
	return truthy(v)
}

func (e *Evaluator) compile(expr string) (*gojq.Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expr]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "predicate: parse %q", expr)
	}
	code, err := gojq.Compile(query,
		gojq.WithFunction("now", 0, 0, jqNow),
		gojq.WithFunction("days", 1, 1, jqDays),
		gojq.WithFunction("hours", 1, 1, jqHours),
		gojq.WithFunction("minutes", 1, 1, jqMinutes),
		gojq.WithFunction("is_older_than", 2, 2, jqIsOlderThan),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "predicate: compile %q", expr)
	}
	e.cache[expr] = code
	return code, nil
}

// truthy applies jq's own truthiness: everything is truthy except false
// and null. Ints/floats/strings/arrays/objects — including zero, empty
// string, and empty array/object — are all truthy, matching jq semantics
// (as opposed to Python's, which this replaces).
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

func jqNow(_ any, _ []any) any {
	return float64(time.Now().Unix())
}

func jqDays(_ any, args []any) any {
	return durationSeconds(args[0]) * 86400
}

func jqHours(_ any, args []any) any {
	return durationSeconds(args[0]) * 3600
}

func jqMinutes(_ any, args []any) any {
	return durationSeconds(args[0]) * 60
}

func durationSeconds(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// jqIsOlderThan implements is_older_than(ts; dur): ts is an RFC3339
// timestamp string or a unix-seconds number; dur is a duration literal
// ("2d", "3h") or a number of seconds.
func jqIsOlderThan(_ any, args []any) any {
	ts, ok := parseTimestamp(args[0])
	if !ok {
		return false
	}
	dur, ok := parseDurationArg(args[1])
	if !ok {
		return false
	}
	return ts.Before(time.Now().Add(-dur))
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, t)
			if err != nil {
				return time.Time{}, false
			}
		}
		return parsed, true
	case float64:
		return time.Unix(int64(t), 0), true
	default:
		return time.Time{}, false
	}
}

func parseDurationArg(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case float64:
		return time.Duration(t * float64(time.Second)), true
	case string:
		d, err := ParseDuration(t)
		if err != nil {
			return 0, false
		}
		return d, true
	default:
		return 0, false
	}
}

package predicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEval_SimpleComparison(t *testing.T) {
	e := NewEvaluator()
	scope := map[string]any{"status": "failed", "retries": 3.0}
	assert.True(t, e.Eval(`.status == "failed" and .retries > 1`, scope))
	assert.False(t, e.Eval(`.status == "success"`, scope))
}

func TestEval_InvalidExpressionIsFalse(t *testing.T) {
	e := NewEvaluator()
	assert.False(t, e.Eval(`.status ===`, map[string]any{}))
	assert.False(t, e.Eval(`.missing.deeply.nested`, map[string]any{}))
}

func TestEval_IsOlderThan(t *testing.T) {
	e := NewEvaluator()
	old := time.Now().Add(-72 * time.Hour).Format(time.RFC3339)
	recent := time.Now().Format(time.RFC3339)

	scope := map[string]any{"updated_at": old}
	assert.True(t, e.Eval(`is_older_than(.updated_at; "2d")`, scope))

	scope = map[string]any{"updated_at": recent}
	assert.False(t, e.Eval(`is_older_than(.updated_at; "2d")`, scope))
}

func TestEval_CompilesOnceAndCaches(t *testing.T) {
	e := NewEvaluator()
	expr := `.n > 0`
	assert.True(t, e.Eval(expr, map[string]any{"n": 1.0}))
	_, cached := e.cache[expr]
	assert.True(t, cached)
}

func TestEval_FalsyValues(t *testing.T) {
	e := NewEvaluator()
	assert.False(t, e.Eval(`.flag`, map[string]any{"flag": false}))
	assert.False(t, e.Eval(`.missing`, map[string]any{}))
	assert.True(t, e.Eval(`.zero == 0`, map[string]any{"zero": 0.0}))
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"2d":  48 * time.Hour,
		"3h":  3 * time.Hour,
		"30m": 30 * time.Minute,
		"45s": 45 * time.Second,
		"10":  10 * time.Second,
	}
	for lit, want := range cases {
		got, err := ParseDuration(lit)
		assert.NoError(t, err)
		assert.Equal(t, want, got, lit)
	}
}

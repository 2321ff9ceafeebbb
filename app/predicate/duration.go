package predicate

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseDuration parses a duration literal in the vocabulary
// automation_engine.py's parse_duration accepts: a bare number of
// seconds, or a number suffixed with d/h/m/s.
func ParseDuration(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return 0, errors.New("predicate: empty duration")
	}

	unit := time.Second
	numeric := v
	switch v[len(v)-1] {
	case 'd':
		unit = 24 * time.Hour
		numeric = v[:len(v)-1]
	case 'h':
		unit = time.Hour
		numeric = v[:len(v)-1]
	case 'm':
		unit = time.Minute
		numeric = v[:len(v)-1]
	case 's':
		unit = time.Second
		numeric = v[:len(v)-1]
	}

	n, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "predicate: invalid duration %q", value)
	}
	return time.Duration(n * float64(unit)), nil
}

package commands

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// readParams decodes a JSON object from raw (the --params flag value) if
// non-empty, otherwise from stdin — matching SPEC_FULL.md's "every
// command also reachable via --params flag or stdin" interface.
func readParams(raw string) (map[string]any, error) {
	var data []byte
	if raw != "" {
		data = []byte(raw)
	} else {
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, errors.Wrap(err, "read stdin")
		}
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	params := map[string]any{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrap(err, "decode params JSON")
	}
	return params, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// Package toolinvoker implements the ToolInvoker collaborator:
// {tool, action, params} -> result, realized as a subprocess call into a
// registered tool script.
//
// Grounded on execution_hub.py's load_registry/execute_tool: tools are
// declared as newline-delimited JSON records in a registry file, one
// "__tool__" record per tool giving its script path and locked flag, and
// one record per supported action giving its accepted parameter names.
package toolinvoker

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ToolEntry is one registered tool: where its script lives, which
// actions it supports (mapped to the parameter names execution_hub.py's
// registry records, informational only), and whether it is locked.
type ToolEntry struct {
	ScriptPath string
	Actions    map[string][]string
	Locked     bool
}

// Registry is the parsed NDJSON tool registry.
type Registry struct {
	Tools map[string]ToolEntry
}

type registryRecord struct {
	Tool       string   `json:"tool"`
	Action     string   `json:"action"`
	ScriptPath string   `json:"script_path"`
	Locked     bool     `json:"locked"`
	Params     []string `json:"params"`
}

// toolRecordAction is the sentinel action name marking a tool's own
// declaration record, as opposed to one of its actions.
const toolRecordAction = "__tool__"

// LoadRegistry parses path, an NDJSON file, one record per line. A
// missing file yields an empty registry rather than an error, matching
// load_registry's behavior when system_settings.ndjson hasn't been
// created yet. Malformed lines are skipped, matching the original's
// "skip bad entry" warning-and-continue behavior.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{Tools: map[string]ToolEntry{}}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, errors.Wrapf(err, "toolinvoker: open registry %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec registryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Tool == "" || rec.Action == "" {
			continue
		}

		entry, ok := reg.Tools[rec.Tool]
		if !ok {
			entry = ToolEntry{Actions: map[string][]string{}}
		}
		if rec.Action == toolRecordAction {
			entry.ScriptPath = rec.ScriptPath
			entry.Locked = rec.Locked
		} else {
			entry.Actions[rec.Action] = rec.Params
		}
		reg.Tools[rec.Tool] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "toolinvoker: scan registry")
	}
	return reg, nil
}

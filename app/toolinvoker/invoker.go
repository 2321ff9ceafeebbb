package toolinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrToolNotFound   = errors.New("toolinvoker: tool not found")
	ErrScriptMissing  = errors.New("toolinvoker: script not found")
	ErrActionNotFound = errors.New("toolinvoker: action not supported")
	ErrToolLocked     = errors.New("toolinvoker: tool is locked")
	ErrInvalidOutput  = errors.New("toolinvoker: invalid JSON output")
)

// ToolInvoker is the narrow interface the Rule Engine calls through to run
// a single {tool, action, params} step.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool, action string, params map[string]any) (map[string]any, error)
}

// bypassEnforcementValue is stamped onto a registered tool's invocation
// params under "bypass_enforcement" (unregistered fallback scripts do not
// get it), matching automation_engine.py's run_action, which
// marks requests as originating from the trusted automation engine rather
// than an interactive user.
const bypassEnforcementValue = "automation_engine"

// ProcessInvoker runs a registered tool's script as a subprocess:
//
//	<script_path> <action> --params <json>
//
// capturing stdout as the JSON result. Unregistered tools fall back to
// <toolsDir>/<tool><scriptExt>, mirroring the original's direct
// tools/<name>.py fallback for scripts never added to the registry.
type ProcessInvoker struct {
	Registry    *Registry
	ToolsDir    string
	ScriptExt   string // e.g. ".py"; empty means the tool name is itself executable
	Interpreter string // e.g. "python3"; empty runs the script directly
	Timeout     time.Duration
}

// Invoke resolves tool/action against the registry, resolves params
// against context via the caller (params are already resolved), stamps
// bypass_enforcement for registered tools, and runs the script.
func (p *ProcessInvoker) Invoke(ctx context.Context, tool, action string, params map[string]any) (map[string]any, error) {
	scriptPath, locked, registered, err := p.resolve(tool, action)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrToolLocked
	}

	final := map[string]any{}
	for k, v := range params {
		final[k] = v
	}
	if registered {
		final["bypass_enforcement"] = bypassEnforcementValue
	}

	payload, err := json.Marshal(final)
	if err != nil {
		return nil, errors.Wrap(err, "toolinvoker: encode params")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{scriptPath, action, "--params", string(payload)}
	name := scriptPath
	if p.Interpreter != "" {
		name = p.Interpreter
	} else {
		args = args[1:]
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return nil, errors.Wrap(runCtx.Err(), "toolinvoker: action timed out")
	}
	if runErr != nil {
		return nil, errors.Wrapf(runErr, "toolinvoker: %s.%s failed: %s", tool, action, stderr.String())
	}

	out := stdout.Bytes()
	if len(out) == 0 {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, errors.Wrapf(ErrInvalidOutput, "%s.%s: %v", tool, action, err)
	}
	return result, nil
}

func (p *ProcessInvoker) resolve(tool, action string) (scriptPath string, locked bool, registered bool, err error) {
	if p.Registry != nil {
		if entry, ok := p.Registry.Tools[tool]; ok {
			if entry.Locked {
				return "", true, true, nil
			}
			if entry.ScriptPath == "" {
				return "", false, true, ErrScriptMissing
			}
			if _, statErr := os.Stat(entry.ScriptPath); statErr != nil {
				return "", false, true, ErrScriptMissing
			}
			if _, ok := entry.Actions[action]; !ok {
				return "", false, true, ErrActionNotFound
			}
			return entry.ScriptPath, false, true, nil
		}
	}

	fallback := filepath.Join(p.ToolsDir, tool+p.ScriptExt)
	if _, statErr := os.Stat(fallback); statErr != nil {
		return "", false, false, ErrToolNotFound
	}
	return fallback, false, false, nil
}

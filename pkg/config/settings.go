// Package config implements the Settings the automation-core binary
// loads at startup: state-file locations, polling cadence, and the
// worker pool's concurrency cap.
//
// Grounded on the teacher's app/config/gator/settings.go: YAML file plus
// environment-variable overrides via cleanenv, defaults taken from
// env-default struct tags, with applyDefaults filling any still left zero.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultMaxParallelAgents  = 3
	DefaultLogLevel           = "info"
)

// Settings is the automation-core runtime configuration, loadable from a
// YAML file and overridable by environment variables of the same names
// as the env tags below.
type Settings struct {
	RulesFile          string        `yaml:"rules_file" env:"RULES_FILE" env-default:"rules.json"`
	StateFile          string        `yaml:"state_file" env:"STATE_FILE" env-default:"state.json"`
	EventTypesFile     string        `yaml:"event_types_file" env:"EVENT_TYPES_FILE" env-default:"event_types.json"`
	HistoryFile        string        `yaml:"history_file" env:"HISTORY_FILE" env-default:"history.json"`
	TaskQueueFile      string        `yaml:"task_queue_file" env:"TASK_QUEUE_FILE" env-default:"task_queue.json"`
	ResultsDir         string        `yaml:"results_dir" env:"RESULTS_DIR" env-default:"results"`
	SupervisorLockFile string        `yaml:"supervisor_lock_file" env:"SUPERVISOR_LOCK_FILE" env-default:"supervisor.lock"`
	ToolRegistryFile   string        `yaml:"tool_registry_file" env:"TOOL_REGISTRY_FILE" env-default:"tools.ndjson"`
	ToolsDir           string        `yaml:"tools_dir" env:"TOOLS_DIR" env-default:"tools"`
	ProjectRoot        string        `yaml:"project_root" env:"PROJECT_ROOT" env-default:"."`

	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"5s"`
	MaxParallelAgents int           `yaml:"max_parallel_agents" env:"MAX_PARALLEL_AGENTS" env-default:"3"`
	LogLevel          string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// MetricsAddr, if non-empty, serves Prometheus metrics on this
	// address (e.g. ":9090") for the lifetime of the "run" command.
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:""`
}

// Load reads configFile (if non-empty) via cleanenv, applying environment
// overrides and then struct tag defaults, and returns the defaulted
// Settings with every path resolved against ProjectRoot. Values are not
// validated.
func Load(configFile string) (*Settings, error) {
	var cfg Settings

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, errors.Wrapf(err, "config: %s", configFile)
		}
		if err := cleanenv.ReadConfig(configFile, &cfg); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", configFile)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: read env")
	}

	cfg.applyDefaults()
	cfg.resolvePaths()
	return &cfg, nil
}

func (s *Settings) applyDefaults() {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.MaxParallelAgents <= 0 {
		s.MaxParallelAgents = DefaultMaxParallelAgents
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.ProjectRoot == "" {
		s.ProjectRoot = "."
	}
}

func (s *Settings) resolvePaths() {
	s.RulesFile = s.resolve(s.RulesFile)
	s.StateFile = s.resolve(s.StateFile)
	s.EventTypesFile = s.resolve(s.EventTypesFile)
	s.HistoryFile = s.resolve(s.HistoryFile)
	s.TaskQueueFile = s.resolve(s.TaskQueueFile)
	s.ResultsDir = s.resolve(s.ResultsDir)
	s.SupervisorLockFile = s.resolve(s.SupervisorLockFile)
	s.ToolRegistryFile = s.resolve(s.ToolRegistryFile)
	s.ToolsDir = s.resolve(s.ToolsDir)
}

func (s *Settings) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.ProjectRoot, path)
}

// ArchiveFile is the task-result overflow archive path: append-only
// JSON-lines, derived from ResultsDir rather than carrying its own setting.
func (s *Settings) ArchiveFile() string {
	return filepath.Join(s.ResultsDir, "archive.jsonl")
}

func (s *Settings) String() string {
	return fmt.Sprintf("config{rules=%s state=%s poll=%s max_parallel=%d}",
		s.RulesFile, s.StateFile, s.PollInterval, s.MaxParallelAgents)
}

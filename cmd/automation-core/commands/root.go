// Package commands builds the automation-core cobra command tree: a
// persistent --config flag wires every subcommand to the same
// pkg/config.Settings, app/rules.Engine, and app/supervisor.Supervisor.
package commands

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/rules"
	"github.com/ruleforge/automation-core/app/supervisor"
	"github.com/ruleforge/automation-core/app/toolinvoker"
	"github.com/ruleforge/automation-core/pkg/build"
	"github.com/ruleforge/automation-core/pkg/config"
)

var configFile string

// Root builds the top-level cobra command with every subcommand
// registered under it.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:     "automation-core",
		Short:   "Rule-driven automation engine and worker supervisor",
		Version: build.String(),
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config YAML (env vars used if omitted)")

	root.AddCommand(
		newRunCommand(),
		newRuleCommand(),
		newEventTypeCommand(),
		newDispatchCommand(),
		newHistoryCommand(),
		newRetryCommand(),
		newDryRunCommand(),
		newValidateCommand(),
		newSupervisorCommand(),
	)
	return root
}

func loadSettings() (*config.Settings, error) {
	return config.Load(configFile)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func buildEngine(cfg *config.Settings, log zerolog.Logger) (*rules.Engine, error) {
	registry, err := toolinvoker.LoadRegistry(cfg.ToolRegistryFile)
	if err != nil {
		return nil, err
	}
	invoker := &toolinvoker.ProcessInvoker{
		Registry: registry,
		ToolsDir: cfg.ToolsDir,
	}
	paths := rules.Paths{
		Rules:            cfg.RulesFile,
		EventTypes:       cfg.EventTypesFile,
		State:            cfg.StateFile,
		ExecutionHistory: cfg.HistoryFile,
		ProjectRoot:      cfg.ProjectRoot,
	}
	return rules.New(paths, invoker, registry, log), nil
}

func buildSupervisor(cfg *config.Settings) *supervisor.Supervisor {
	queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
	spawner := &supervisor.ProcessSpawner{Command: filepath.Join(cfg.ToolsDir, "run_agent")}
	sup := supervisor.New(queue, spawner, cfg.ResultsDir, cfg.ArchiveFile(), cfg.MaxParallelAgents)
	sup.LockPath = cfg.SupervisorLockFile
	return sup
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/rules"
)

func newEventTypeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event-type",
		Short: "Manage event_types.json entries",
	}
	cmd.AddCommand(newEventTypeAddCommand(), newEventTypeListCommand())
	return cmd
}

func newEventTypeAddCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Register a trigger test expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			params, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			test, _ := params["test"].(string)
			if err := engine.AddEventType(cmd.Context(), args[0], rules.EventType{Test: test}); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "key": args[0]})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", `{"test": "..."} as JSON (reads stdin if omitted)`)
	return cmd
}

func newEventTypeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered event type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			types, err := engine.GetEventTypes()
			if err != nil {
				return err
			}
			return printJSON(types)
		},
	}
}

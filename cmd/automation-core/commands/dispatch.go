package commands

import (
	"github.com/spf13/cobra"
)

func newDispatchCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "dispatch <event_key>",
		Short: "Fire every enabled event-triggered rule matching event_key",
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
			payload, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			outcomes, err := engine.DispatchEvent(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "fired": len(outcomes), "outcomes": outcomes})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "event payload as JSON (reads stdin if omitted)")
	return cmd
}

package commands

import (
	"github.com/spf13/cobra"
)

func newDryRunCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "dry-run <trigger-type>",
		Short: "Simulate every rule of a given trigger type without invoking tools",
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
			scope, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			results, err := engine.DryRunAllRules(args[0], scope)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "sample scope as JSON (reads stdin if omitted)")
	return cmd
}

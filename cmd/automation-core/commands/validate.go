package commands

import (
	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/rules"
	"github.com/ruleforge/automation-core/app/toolinvoker"
)

func newValidateCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule definition against the tool registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			registry, err := toolinvoker.LoadRegistry(cfg.ToolRegistryFile)
			if err != nil {
				return err
			}
			params, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			rule, err := decodeRule(params)
			if err != nil {
				return err
			}
			issues := rules.ValidateRule(rule, registry)
			return printJSON(map[string]any{"valid": len(issues) == 0, "issues": issues})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "rule definition as JSON (reads stdin if omitted)")
	return cmd
}

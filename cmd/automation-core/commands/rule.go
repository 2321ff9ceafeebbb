package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/rules"
)

func newRuleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage rules.json entries",
	}
	cmd.AddCommand(
		newRuleAddCommand(),
		newRuleUpdateCommand(),
		newRuleDeleteCommand(),
		newRuleListCommand(),
		newRuleToggleCommand(),
	)
	return cmd
}

func decodeRule(params map[string]any) (rules.Rule, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return rules.Rule{}, err
	}
	var rule rules.Rule
	err = json.Unmarshal(data, &rule)
	return rule, err
}

func newRuleAddCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add a new rule",
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
			rule, err := decodeRule(params)
			if err != nil {
				return err
			}
			if err := engine.AddRule(cmd.Context(), args[0], rule); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "key": args[0]})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "rule definition as JSON (reads stdin if omitted)")
	return cmd
}

func newRuleUpdateCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "update <key>",
		Short: "Replace an existing rule's definition",
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
			rule, err := decodeRule(params)
			if err != nil {
				return err
			}
			if err := engine.UpdateRule(cmd.Context(), args[0], rule); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "key": args[0]})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "rule definition as JSON (reads stdin if omitted)")
	return cmd
}

func newRuleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a rule",
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
			if err := engine.DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "key": args[0]})
		},
	}
}

func newRuleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			ruleMap, err := engine.ListRules()
			if err != nil {
				return err
			}
			return printJSON(ruleMap)
		},
	}
}

func newRuleToggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <key>",
		Short: "Flip a rule's enabled flag",
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
			enabled, err := engine.ToggleRuleEnabled(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "key": args[0], "enabled": enabled})
		},
	}
}

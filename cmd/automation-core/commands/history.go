package commands

import (
	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/store"
)

func newHistoryCommand() *cobra.Command {
	var ruleID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query execution history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			page, err := engine.GetExecutionHistory(store.HistoryFilter{RuleID: ruleID, Status: status, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(page)
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "filter by rule id")
	cmd.Flags().StringVar(&status, "status", "", "filter by result status")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records to return")
	return cmd
}

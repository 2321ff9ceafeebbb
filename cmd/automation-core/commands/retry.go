package commands

import (
	"github.com/spf13/cobra"
)

func newRetryCommand() *cobra.Command {
	var maxRetries, retryDelayBase int
	cmd := &cobra.Command{
		Use:   "retry-failed <watched-file>",
		Short: "Requeue failed entries in a watched file using exponential backoff",
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
			result, err := engine.RetryFailedEntries(cmd.Context(), args[0], maxRetries, retryDelayBase)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retry_count threshold before permanently_failed")
	cmd.Flags().IntVar(&retryDelayBase, "retry-delay-base", 5, "base backoff in minutes")
	return cmd
}

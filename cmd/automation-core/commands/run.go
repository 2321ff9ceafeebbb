package commands

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine's polling loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			engine, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Warn().Err(err).Msg("metrics server stopped")
					}
				}()
				go func() {
					<-ctx.Done()
					_ = server.Close()
				}()
				log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			}

			log.Info().Str("config", cfg.String()).Msg("starting engine")
			err = engine.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

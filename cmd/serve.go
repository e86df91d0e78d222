package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/api"
	"github.com/xkilldash9x/resolve-agent/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and event stream",
		Long: `Starts the browser session and exposes the agent over HTTP. Runs are
started with POST /api/run and followed on the /api/events websocket.
Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.ctrl.Stop()

			srv := api.NewServer(logger, a.ctrl, a.metrics, cfg.Server(), cfg.Calibration().ControllerConfigPath)
			logger.Info("Serving control API.", zap.String("addr", cfg.Server().Addr))
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "override server.addr")
	cmd.Flags().Bool("headless", false, "launch the browser headless")
	cmd.Flags().String("remote-url", "", "attach to a running browser's DevTools websocket")
	cmd.Flags().String("target-url", "", "page to open in the controlled tab")
	cmd.Flags().String("model", "", "override llm.model")
	return cmd
}

package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fuel-shift-reconciliation/cmd/shiftclose/config"
	"fuel-shift-reconciliation/internal/api"
	"fuel-shift-reconciliation/internal/metrics"
	"fuel-shift-reconciliation/internal/reconciler"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveFixtures string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the shift closure HTTP API",
	Long: `Serve exposes shift closures over HTTP:

  POST /v1/shift-closures   close a shift, body is the closure request JSON
  GET  /healthz             liveness probe
  GET  /metrics             Prometheus metrics

Examples:
  shiftclose serve
  SHIFTCLOSE_SERVER_ADDRESS=:9090 shiftclose serve --fixtures station.json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFixtures, "fixtures", "", "master data JSON file; serves an in-memory store instead of the database")
	serveCmd.Flags().String("address", "", "listen address (default server.address)")
	viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.GetGlobalLogger().WithComponent("serve")

	serverConfig, err := config.CreateServerConfig(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", nil, err)
	}
	reconcilerConfig, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	st, closeStore, err := openStore(serveFixtures, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	registry := prometheus.NewRegistry()
	engine, err := reconciler.NewEngine(st,
		reconciler.WithConfig(reconcilerConfig),
		reconciler.WithLocker(locker),
		reconciler.WithObserver(reconciler.Observers{
			reconciler.NewLoggingObserver(log),
			metrics.New(registry),
		}),
	)
	if err != nil {
		return err
	}

	if !viper.GetBool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         serverConfig.Address,
		Handler:      api.NewRouter(engine, log, registry, api.WithAllowedOrigins(serverConfig.AllowedOrigins...)),
		ReadTimeout:  serverConfig.ReadTimeout,
		WriteTimeout: serverConfig.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("address", serverConfig.Address).Info("Listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.InternalError(errors.CodeUnexpectedError, "http server", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "http shutdown", err)
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablebook/config"
	"tablebook/cron"
	"tablebook/handlers"
	"tablebook/middleware"
	"tablebook/routes"
	"tablebook/telemetry"
	"tablebook/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the conversation timeout sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
				ServiceName: "tablebook",
				Endpoint:    cfg.OTLPEndpoint,
				Insecure:    cfg.OTLPInsecure,
			}, logger)
			defer shutdownTracing(context.Background()) //nolint:errcheck

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			utils.StartHealthMonitor(ctx, 30*time.Second, a.health)

			if !noSweep {
				go runSweep(ctx, a)
			}

			if config.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery())
			router.Use(utils.ErrorHandler())
			router.Use(middleware.RequestLogger(logger))
			router.Use(middleware.RateLimitMiddleware(cfg.MaxRequestsPerMin))

			bundle := handlers.NewHandlerBundle(
				handlers.NewBookingHandler(a.manager),
				handlers.NewConversationHandler(a.conversation),
			)
			routes.RegisterRoutes(router, bundle)

			srv := &http.Server{
				Addr:              "0.0.0.0:" + cfg.AppPort,
				Handler:           otelhttp.NewHandler(router, "tablebook"),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting server", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("server is shutting down...")

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("server stopped gracefully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the conversation timeout sweep in this process")
	return cmd
}

// runSweep drives the sweeper in the configured mode until ctx is done.
func runSweep(ctx context.Context, a *app) {
	cfg := a.cfg
	if cfg.SweepMode == "asynq" {
		opts := cron.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		if err := cron.InitSweepWorker(ctx, opts, a.sweeper, cfg.SweepInterval, a.logger); err != nil {
			a.logger.Error("sweep worker stopped", zap.Error(err))
		}
		return
	}
	a.sweeper.Run(ctx, cfg.SweepInterval)
}

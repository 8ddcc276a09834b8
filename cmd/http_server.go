package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/giftcard-fulfillment/internal/admin"
	"github.com/frahmantamala/giftcard-fulfillment/internal/auth"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	"github.com/frahmantamala/giftcard-fulfillment/internal/jobs"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/transport/rest"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startHTTPServer(); err != nil {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
			os.Exit(1)
		}
	},
}

func startHTTPServer() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	// With Kafka configured the notification worker consumes order events,
	// otherwise mail goes out from this process.
	if len(cfg.Kafka.Brokers) == 0 {
		app.Notifications(app.Bus)
	}

	var scheduler *jobs.Scheduler
	if cfg.Jobs.RunInServer {
		scheduler = app.Scheduler()
		scheduler.Start(ctx)
	}

	router := chi.NewRouter()
	optional := map[string]rest.Pinger{}
	if app.Cache != nil {
		optional["redis"] = app.Cache
	}
	loc, _ := time.LoadLocation(cfg.Quota.Timezone)
	rest.RegisterAllRoutes(router, app.DB, rest.Handlers{
		Auth:    auth.NewHandler(app.Auth),
		Catalog: catalog.NewHandler(app.Catalog),
		Order:   order.NewHandler(app.Orders),
		Admin: admin.NewHandler(admin.Dependencies{
			Credentials: app.Credentials,
			Catalog:     app.Catalog,
			Analytics:   app.Analytics,
			CallLogs:    app.CallLogs,
		}, cfg.Security.OperatorKey, loc),
	}, rest.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
		MetricsPath:    cfg.Observability.Metrics.Path,
		Optional:       optional,
	}, lg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		lg.Info("starting HTTP server", "address", server.Addr, "env", cfg.Env)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("received signal, shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			if scheduler != nil {
				scheduler.Wait()
			}
			_ = app.Close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown error", "error", err)
	}
	if scheduler != nil {
		scheduler.Wait()
	}
	if err := app.Close(shutdownCtx); err != nil {
		lg.Error("dependency shutdown error", "error", err)
	}

	lg.Info("server stopped")
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start the background workers that run outside the HTTP server: periodic jobs and fulfilment notifications.`,
}

var jobsWorkerCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run the periodic jobs",
	Long:  `Keep the vendor credential fresh and re-sync the catalog on an interval until stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startJobsWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "jobs worker: %v\n", err)
			os.Exit(1)
		}
	},
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Consume order events from Kafka and send fulfilment mail",
	Run: func(cmd *cobra.Command, args []string) {
		if err := startNotificationWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "notification worker: %v\n", err)
			os.Exit(1)
		}
	},
}

func startJobsWorker() error {
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

	scheduler := app.Scheduler()
	scheduler.Start(ctx)
	lg.Info("jobs worker is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	lg.Info("received signal, shutting down jobs worker")
	scheduler.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return app.Close(shutdownCtx)
}

func startNotificationWorker() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are not configured; notifications are sent by the server")
	}
	lg := logger.LoggerWrapper()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	// Consumed events go to a bus of their own so they are not forwarded
	// back to Kafka.
	bus := events.NewEventBus(lg)
	if app.Notifications(bus) == nil {
		_ = app.Close(context.Background())
		return errors.New("mail is disabled")
	}

	consumer := events.NewKafkaConsumer(events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID), bus, lg)
	lg.Info("notification worker consuming", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)

	runErr := consumer.Run(ctx)
	if err := consumer.Close(); err != nil {
		lg.Error("failed to close kafka reader", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := bus.Wait(shutdownCtx); err != nil {
		lg.Warn("notification handlers did not drain", "error", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		lg.Error("dependency shutdown error", "error", err)
	}
	lg.Info("notification worker stopped")
	return runErr
}

func init() {
	workerCmd.AddCommand(jobsWorkerCmd)
	workerCmd.AddCommand(notificationWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}

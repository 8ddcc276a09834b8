package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

var vendorCmd = &cobra.Command{
	Use:   "vendor",
	Short: "Distributor maintenance commands",
}

var vendorTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Force a new distributor access token",
	Run: func(cmd *cobra.Command, args []string) {
		err := withApp(func(ctx context.Context, app *App) error {
			if _, err := app.Credentials.Get(ctx, true); err != nil {
				return err
			}
			remaining, err := app.Credentials.Remaining(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("token refreshed, valid for %s\n", remaining.Round(time.Second))
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "vendor token: %v\n", err)
			os.Exit(1)
		}
	},
}

var vendorSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull brands and stores from the distributor",
	Run: func(cmd *cobra.Command, args []string) {
		err := withApp(func(ctx context.Context, app *App) error {
			res, err := app.Catalog.Sync(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("synced %d brands, %d stores\n", res.Brands, res.Stores)
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "vendor sync: %v\n", err)
			os.Exit(1)
		}
	},
}

func withApp(fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app, err := newApp(ctx, cfg, logger.LoggerWrapper())
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close(context.Background())
	return fn(ctx, app)
}

func init() {
	vendorCmd.AddCommand(vendorTokenCmd)
	vendorCmd.AddCommand(vendorSyncCmd)

	rootCmd.AddCommand(vendorCmd)
}

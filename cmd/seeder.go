package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"

	authPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/auth/postgres"
	catalogPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/catalog/postgres"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	userDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/user"
)

var seedBrands bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed buyer accounts, and optionally a demo catalog, for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db, cfg.Env)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		ctx := context.Background()
		hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		users := authPostgres.NewRepository(gdb)
		buyers := []userDatamodel.User{
			{Email: "asha@mail.com", Name: "Asha Rao", Phone: "9876543210"},
			{Email: "vikram@mail.com", Name: "Vikram Nair", Phone: "9123456780"},
		}
		for _, u := range buyers {
			u.PasswordHash = string(hash)
			u.IsActive = true
			if err := users.Create(ctx, &u); err != nil {
				log.Fatalf("failed to insert user %s: %v", u.Email, err)
			}
			fmt.Println("Seeded buyer:", u.Email)
		}

		if !seedBrands {
			return
		}

		now := time.Now().UTC()
		brands := []catalogDatamodel.Brand{
			{
				Code:              "AMZN",
				Name:              "Amazon Pay",
				BrandType:         catalogDatamodel.BrandTypeFixed,
				VendorDiscountBps: 250,
				Enabled:           true,
				Denominations:     datatypes.JSONSlice[int64]{50000, 100000, 200000},
				Description:       "Amazon Pay gift card",
				SyncedAt:          now,
			},
			{
				Code:              "FLPK",
				Name:              "Flipkart",
				BrandType:         catalogDatamodel.BrandTypeRange,
				VendorDiscountBps: 300,
				Enabled:           true,
				MinAmount:         10000,
				MaxAmount:         1000000,
				Description:       "Flipkart gift card",
				SyncedAt:          now,
			},
		}
		repo := catalogPostgres.NewBrandRepository(gdb)
		if err := repo.UpsertBrands(ctx, brands); err != nil {
			log.Fatalf("failed to seed brands: %v", err)
		}
		codes := make([]string, 0, len(brands))
		for _, b := range brands {
			codes = append(codes, b.Code)
		}
		fmt.Println("Seeded demo brands:", strings.Join(codes, ", "))
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedBrands, "brands", false, "also seed a demo catalog")
}

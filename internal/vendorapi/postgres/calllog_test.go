package postgres_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	vendorlogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/vendorlog"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi/postgres"
)

var _ = Describe("CallLogRepository", func() {
	var (
		db   *gorm.DB
		repo *postgres.CallLogRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&vendorlogDatamodel.VendorCallLog{})).To(Succeed())

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = postgres.NewCallLogRepository(db, logger)
		ctx = context.Background()
	})

	It("stores and lists calls for an order", func() {
		// Given
		repo.LogCall(ctx, vendor.CallRecord{
			Endpoint:       vendor.EndpointOrder,
			OrderID:        "order-1",
			RequestHeaders: map[string]string{"Authorization": "abcd…wxyz"},
			StatusCode:     200,
			RawResponse:    `{"code":0}`,
			DecryptedJSON:  map[string]any{"cards": []any{}},
			Outcome:        vendor.OutcomeApproved,
			Duration:       120 * time.Millisecond,
		})
		repo.LogCall(ctx, vendor.CallRecord{Endpoint: vendor.EndpointToken})

		// When
		logs, err := repo.ListByOrder(ctx, "order-1", 10)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(1))
		Expect(logs[0].Endpoint).To(Equal("order"))
		Expect(logs[0].Outcome).To(Equal("approved"))
		Expect(logs[0].DurationMs).To(Equal(int64(120)))
		Expect(string(logs[0].RequestHeaders)).To(ContainSubstring("Authorization"))
	})
})

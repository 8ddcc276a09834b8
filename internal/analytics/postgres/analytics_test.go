package postgres_test

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/giftcard-fulfillment/internal/analytics/postgres"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
)

var _ = Describe("AnalyticsRepository", func() {
	var (
		db       *gorm.DB
		repo     *postgres.AnalyticsRepository
		ctx      context.Context
		from, to time.Time
	)

	seed := func(id, brand string, status orderDatamodel.Status, payable, discount, cost int64, at time.Time) {
		Expect(db.Create(&orderDatamodel.Order{
			ID:               id,
			BrandCode:        brand,
			BrandName:        brand + " Gift Card",
			UnitAmount:       payable + discount,
			Quantity:         1,
			TotalAmount:      payable + discount,
			DiscountAmount:   discount,
			PayableAmount:    payable,
			VendorCostAmount: cost,
			PolicyKey:        "default",
			MonthKey:         at.Format("2006-01"),
			UserHash:         "u",
			Status:           status,
			NeedsReview:      status == orderDatamodel.StatusVendorFailed,
			CreatedAt:        at,
			UpdatedAt:        at,
		}).Error).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&orderDatamodel.Order{})).To(Succeed())
		repo = postgres.NewAnalyticsRepository(sqlx.NewDb(sqlDB, "sqlite3"))
		ctx = context.Background()

		from = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, 0)
		inside := from.Add(48 * time.Hour)
		seed("o1", "AMZ", orderDatamodel.StatusSuccess, 9_500, 500, 8_800, inside)
		seed("o2", "AMZ", orderDatamodel.StatusSuccess, 9_500, 500, 8_800, inside.Add(time.Hour))
		seed("o3", "FLIP", orderDatamodel.StatusSuccess, 4_800, 200, 4_600, inside)
		seed("o4", "FLIP", orderDatamodel.StatusVendorFailed, 4_800, 200, 4_600, inside)
		seed("o5", "FLIP", orderDatamodel.StatusSuccessTest, 4_800, 200, 4_600, inside)
		seed("o6", "AMZ", orderDatamodel.StatusPendingPayment, 9_500, 500, 8_800, inside)
		seed("o7", "AMZ", orderDatamodel.StatusSuccess, 9_500, 500, 8_800, to.Add(time.Hour))
	})

	AfterEach(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	It("aggregates counts and money for the window", func() {
		// When
		t, err := repo.Totals(ctx, from, to)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Orders).To(BeEquivalentTo(6))
		Expect(t.Successful).To(BeEquivalentTo(3))
		Expect(t.Failed).To(BeEquivalentTo(1))
		Expect(t.Test).To(BeEquivalentTo(1))
		Expect(t.Pending).To(BeEquivalentTo(1))
		Expect(t.NeedsReview).To(BeEquivalentTo(1))
		Expect(t.GMV).To(BeEquivalentTo(23_800))
		Expect(t.Discount).To(BeEquivalentTo(1_200))
		Expect(t.VendorCost).To(BeEquivalentTo(22_200))
	})

	It("breaks fulfilled orders down by brand", func() {
		// When
		rows, err := repo.ByBrand(ctx, from, to)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[0].BrandCode).To(Equal("AMZ"))
		Expect(rows[0].Orders).To(BeEquivalentTo(2))
		Expect(rows[0].GMV).To(BeEquivalentTo(19_000))
		Expect(rows[1].BrandCode).To(Equal("FLIP"))
		Expect(rows[1].BrandName).To(Equal("FLIP Gift Card"))
	})
})

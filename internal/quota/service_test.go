package quota_test

import (
	"context"
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
)

type fakeRepo struct {
	usage      quota.Usage
	reserveErr error
	reserved   []quota.Reservation
	released   []string
}

func (f *fakeRepo) Reserve(_ context.Context, r quota.Reservation) (bool, error) {
	if f.reserveErr != nil {
		return false, f.reserveErr
	}
	f.reserved = append(f.reserved, r)
	return true, nil
}

func (f *fakeRepo) Release(_ context.Context, orderID string) (bool, error) {
	f.released = append(f.released, orderID)
	return true, nil
}

func (f *fakeRepo) Usage(context.Context, string, quota.PolicyKey, string) (quota.Usage, error) {
	return f.usage, nil
}

var _ = Describe("Service", func() {
	var (
		repo    *fakeRepo
		service *quota.Service
		policy  quota.Policy
	)

	BeforeEach(func() {
		repo = &fakeRepo{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = quota.NewService(repo, logger)
		policy = quota.DefaultPolicies()[quota.PolicyAmazon]
	})

	reservation := func(spend, discount int64) quota.Reservation {
		return quota.Reservation{
			OrderID: "o-1", UserKey: "u", PolicyKey: quota.PolicyAmazon, MonthKey: "2026-10",
			Spend: spend, Discount: discount, Policy: policy,
		}
	}

	It("rejects a single order above the cap without touching storage", func() {
		err := service.Reserve(context.Background(), reservation(1_000_001, 0))

		Expect(errors.Is(err, quota.ErrQuotaExceeded)).To(BeTrue())
		var ex *quota.ExceededError
		Expect(errors.As(err, &ex)).To(BeTrue())
		Expect(ex.Dimension).To(Equal(quota.DimensionSpend))
		Expect(repo.reserved).To(BeEmpty())
	})

	It("explains which cap refused a reservation", func() {
		// Given
		repo.reserveErr = quota.ErrQuotaExceeded
		repo.usage = quota.Usage{Spend: 100_000, Discount: 49_000}

		// When
		err := service.Reserve(context.Background(), reservation(50_000, 2_500))

		// Then
		var ex *quota.ExceededError
		Expect(errors.As(err, &ex)).To(BeTrue())
		Expect(ex.Dimension).To(Equal(quota.DimensionDiscount))
		Expect(ex.Used).To(Equal(int64(49_000)))
	})

	It("passes through reservations within the caps", func() {
		Expect(service.Reserve(context.Background(), reservation(600_000, 30_000))).To(Succeed())
		Expect(repo.reserved).To(HaveLen(1))
	})

	Describe("Check", func() {
		It("reads current usage to refuse early", func() {
			repo.usage = quota.Usage{Spend: 600_000}
			err := service.Check(context.Background(), reservation(500_000, 0))
			Expect(errors.Is(err, quota.ErrQuotaExceeded)).To(BeTrue())
		})

		It("is a no-op for uncapped policies", func() {
			policy = quota.Policy{Key: quota.PolicyDefault}
			repo.usage = quota.Usage{Spend: 99_999_999}
			Expect(service.Check(context.Background(), reservation(500_000, 0))).To(Succeed())
		})
	})
})

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
)

var (
	ErrQuotaExceeded = errors.New("quota: monthly cap exceeded")
	ErrOrderNotFound = errors.New("quota: order not found")
)

type Dimension string

const (
	DimensionSpend    Dimension = "spend"
	DimensionDiscount Dimension = "discount"
)

// ExceededError tells which cap refused a reservation. It matches
// ErrQuotaExceeded with errors.Is.
type ExceededError struct {
	Policy    PolicyKey
	Dimension Dimension
	Used      int64
	Requested int64
	Cap       int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: monthly %s cap for %s exceeded: used %d + requested %d > cap %d",
		e.Dimension, e.Policy, e.Used, e.Requested, e.Cap)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Reservation attributes one order's spend and discount to a monthly bucket.
type Reservation struct {
	OrderID   string
	UserKey   string
	PolicyKey PolicyKey
	MonthKey  string
	Spend     int64
	Discount  int64
	Policy    Policy
}

type Usage struct {
	Spend    int64 `json:"spend"`
	Discount int64 `json:"discount"`
	Orders   int   `json:"orders"`
}

type Repository interface {
	// Reserve counts r once per order. It reports false when the order was
	// already counted and returns ErrQuotaExceeded when a cap would be crossed.
	Reserve(ctx context.Context, r Reservation) (bool, error)
	// Release undoes a previous reservation of orderID, if any.
	Release(ctx context.Context, orderID string) (bool, error)
	Usage(ctx context.Context, userKey string, policy PolicyKey, month string) (Usage, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Check is a non-binding read of the caps, used to refuse an order before
// the buyer pays. Reserve is the authoritative check.
func (s *Service) Check(ctx context.Context, r Reservation) error {
	if err := precheck(r); err != nil {
		return err
	}
	if r.Policy.MonthlySpendCap == 0 && r.Policy.MonthlyDiscountCap == 0 {
		return nil
	}
	used, err := s.repo.Usage(ctx, r.UserKey, r.PolicyKey, r.MonthKey)
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}
	return exceeded(r, used)
}

func (s *Service) Reserve(ctx context.Context, r Reservation) error {
	if err := precheck(r); err != nil {
		metrics.QuotaRejections.WithLabelValues(string(r.PolicyKey)).Inc()
		return err
	}

	counted, err := s.repo.Reserve(ctx, r)
	if errors.Is(err, ErrQuotaExceeded) {
		metrics.QuotaRejections.WithLabelValues(string(r.PolicyKey)).Inc()
		s.logger.Info("quota reservation refused", "order_id", r.OrderID, "policy", r.PolicyKey, "month", r.MonthKey)
		if used, uerr := s.repo.Usage(ctx, r.UserKey, r.PolicyKey, r.MonthKey); uerr == nil {
			if detail := exceeded(r, used); detail != nil {
				return detail
			}
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}

	if !counted {
		s.logger.Debug("quota already counted for order", "order_id", r.OrderID)
	}
	return nil
}

// Release is the compensating step for an explicit vendor rejection.
func (s *Service) Release(ctx context.Context, orderID string) error {
	released, err := s.repo.Release(ctx, orderID)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	if released {
		s.logger.Info("quota released", "order_id", orderID)
	}
	return nil
}

func (s *Service) Usage(ctx context.Context, userKey string, policy PolicyKey, month string) (Usage, error) {
	return s.repo.Usage(ctx, userKey, policy, month)
}

// precheck refuses a single order that is larger than a cap on its own.
func precheck(r Reservation) error {
	return exceeded(r, Usage{})
}

func exceeded(r Reservation, used Usage) error {
	p := r.Policy
	if p.MonthlySpendCap > 0 && used.Spend+r.Spend > p.MonthlySpendCap {
		return &ExceededError{Policy: r.PolicyKey, Dimension: DimensionSpend, Used: used.Spend, Requested: r.Spend, Cap: p.MonthlySpendCap}
	}
	if p.MonthlyDiscountCap > 0 && used.Discount+r.Discount > p.MonthlyDiscountCap {
		return &ExceededError{Policy: r.PolicyKey, Dimension: DimensionDiscount, Used: used.Discount, Requested: r.Discount, Cap: p.MonthlyDiscountCap}
	}
	return nil
}

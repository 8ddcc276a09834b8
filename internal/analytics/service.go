package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
)

type Service struct {
	repo RepositoryAPI
}

func NewService(repo RepositoryAPI) *Service {
	return &Service{repo: repo}
}

func (s *Service) Summary(ctx context.Context, from, to time.Time) (*Summary, error) {
	if !from.Before(to) {
		return nil, internal.NewValidationError("from must be before to", internal.ErrCodeInvalidDate)
	}

	var (
		totals  Totals
		byBrand []BrandTotals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.repo.Totals(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		byBrand, err = s.repo.ByBrand(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analytics summary: %w", err)
	}

	for i := range byBrand {
		byBrand[i].Margin = byBrand[i].GMV - byBrand[i].VendorCost
	}
	if byBrand == nil {
		byBrand = []BrandTotals{}
	}
	return &Summary{
		From:    from,
		To:      to,
		Totals:  totals,
		Margin:  totals.GMV - totals.VendorCost,
		ByBrand: byBrand,
	}, nil
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

var ErrSyncRejected = errors.New("catalog: vendor rejected sync request")

type Service struct {
	repo        RepositoryAPI
	vendor      VendorAPI
	credentials CredentialProvider
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(repo RepositoryAPI, vendorAPI VendorAPI, credentials CredentialProvider, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		vendor:      vendorAPI,
		credentials: credentials,
		logger:      logger,
		now:         time.Now,
	}
}

// Sync pulls brands then stores from the vendor and upserts both.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	brandsResp, err := s.call(ctx, func(token string) (*vendor.Response, error) {
		return s.vendor.GetBrands(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch brands: %w", err)
	}

	now := s.now().UTC()
	brands := parseBrands(brandsResp.Payload.Value)
	for i := range brands {
		brands[i].SyncedAt = now
	}
	if err := s.repo.UpsertBrands(ctx, brands); err != nil {
		return nil, fmt.Errorf("save brands: %w", err)
	}

	result := &SyncResult{Brands: len(brands)}

	storesResp, err := s.call(ctx, func(token string) (*vendor.Response, error) {
		return s.vendor.GetStores(ctx, token, "")
	})
	if err != nil {
		// Brands are already saved; stores are best effort.
		s.logger.Warn("catalog store sync failed", "error", err)
		return result, nil
	}
	stores := parseStores(storesResp.Payload.Value, "")
	for i := range stores {
		stores[i].SyncedAt = now
	}
	if err := s.repo.UpsertStores(ctx, stores); err != nil {
		return nil, fmt.Errorf("save stores: %w", err)
	}
	result.Stores = len(stores)

	s.logger.Info("catalog synced", "brands", result.Brands, "stores", result.Stores)
	return result, nil
}

// call runs fn with the current credential and retries once with a forced
// refresh when the vendor reports it expired.
func (s *Service) call(ctx context.Context, fn func(token string) (*vendor.Response, error)) (*vendor.Response, error) {
	token, err := s.credentials.Get(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("vendor credential: %w", err)
	}
	resp, err := fn(token)
	if err != nil {
		return nil, err
	}
	if resp.Outcome == vendor.OutcomeCredentialExpired {
		token, err = s.credentials.Get(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("vendor credential: %w", err)
		}
		if resp, err = fn(token); err != nil {
			return nil, err
		}
	}
	if resp.Outcome != vendor.OutcomeApproved {
		return nil, fmt.Errorf("%w: %s %s", ErrSyncRejected, resp.Outcome, resp.Envelope.Message)
	}
	return resp, nil
}

func (s *Service) ListBrands(ctx context.Context, enabledOnly bool) ([]BrandView, error) {
	brands, err := s.repo.ListBrands(ctx, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	out := make([]BrandView, 0, len(brands))
	for _, b := range brands {
		out = append(out, NewBrandView(b))
	}
	return out, nil
}

func (s *Service) GetBrand(ctx context.Context, code string) (*catalogDatamodel.Brand, error) {
	return s.repo.GetBrand(ctx, code)
}

// SetCustomerDiscount overrides the discount offered to buyers. A nil bps
// restores the vendor default.
func (s *Service) SetCustomerDiscount(ctx context.Context, code string, bps *int64) (*BrandView, error) {
	if bps != nil && (*bps < 0 || *bps > 10_000) {
		return nil, internal.NewValidationFieldError("discount_bps", "must be between 0 and 10000", internal.ErrCodeValidationFailed)
	}
	if _, err := s.repo.GetBrand(ctx, code); err != nil {
		return nil, err
	}
	if err := s.repo.SetCustomerDiscount(ctx, code, bps); err != nil {
		return nil, fmt.Errorf("set customer discount: %w", err)
	}
	b, err := s.repo.GetBrand(ctx, code)
	if err != nil {
		return nil, err
	}
	view := NewBrandView(*b)
	s.logger.Info("customer discount updated", "brand_code", code, "discount_bps", view.DiscountBps)
	return &view, nil
}

func (s *Service) ListStores(ctx context.Context, brandCode string) ([]StoreView, error) {
	if _, err := s.repo.GetBrand(ctx, brandCode); err != nil {
		return nil, err
	}
	stores, err := s.repo.ListStores(ctx, brandCode)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	out := make([]StoreView, 0, len(stores))
	for _, st := range stores {
		out = append(out, StoreView{StoreCode: st.StoreCode, Name: st.Name, City: st.City, Address: st.Address})
	}
	return out, nil
}

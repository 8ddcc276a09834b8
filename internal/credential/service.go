package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	credentialDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/credential"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

type Service struct {
	repo   RepositoryAPI
	cache  Cache
	issuer TokenIssuer
	vault  Sealer
	events EventPublisher
	opts   Options
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires the credential lifecycle. cache and publisher may be nil.
func NewService(repo RepositoryAPI, cache Cache, issuer TokenIssuer, vault Sealer, publisher EventPublisher, opts Options, logger *slog.Logger) *Service {
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = 15 * time.Second
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * 24 * time.Hour
	}
	if opts.EarlyExpirySkew < 0 {
		opts.EarlyExpirySkew = 0
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		issuer: issuer,
		vault:  vault,
		events: publisher,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a usable vendor credential. force skips every cached copy and
// asks the vendor for a new one.
func (s *Service) Get(ctx context.Context, force bool) (string, error) {
	if !force {
		if token, ok := s.cached(ctx); ok {
			return token, nil
		}
		if token, ok, err := s.stored(ctx); err != nil {
			return "", err
		} else if ok {
			return token, nil
		}
	}

	key := "refresh"
	if force {
		key = "force"
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), force)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Remaining reports how long the stored credential stays valid. It is zero
// when nothing usable is stored.
func (s *Service) Remaining(ctx context.Context) (time.Duration, error) {
	c, err := s.repo.Load(ctx, s.opts.DistributorID)
	if err != nil {
		return 0, fmt.Errorf("load credential: %w", err)
	}
	if c == nil {
		return 0, nil
	}
	left := c.ExpiresAt.Sub(s.now())
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (s *Service) valid(expiresAt time.Time) bool {
	return expiresAt.Add(-s.opts.EarlyExpirySkew).After(s.now())
}

func (s *Service) cached(ctx context.Context) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	token, expiresAt, ok, err := s.cache.Get(ctx)
	if err != nil {
		s.logger.Warn("credential cache unavailable", "error", err)
		return "", false
	}
	if !ok || token == "" || !s.valid(expiresAt) {
		return "", false
	}
	return token, true
}

func (s *Service) stored(ctx context.Context) (string, bool, error) {
	c, err := s.repo.Load(ctx, s.opts.DistributorID)
	if err != nil {
		return "", false, fmt.Errorf("load credential: %w", err)
	}
	if c == nil || !s.valid(c.ExpiresAt) {
		return "", false, nil
	}
	token, ok := s.vault.OpenString(c.TokenSealed)
	if !ok {
		s.logger.Warn("stored credential could not be opened", "distributor_id", c.DistributorID)
		return "", false, nil
	}
	s.warm(ctx, token, c.ExpiresAt)
	return token, true, nil
}

func (s *Service) refresh(ctx context.Context, force bool) (string, error) {
	if s.cache != nil {
		unlock, locked, err := s.cache.Lock(ctx, s.opts.LockTTL)
		switch {
		case err != nil:
			s.logger.Warn("credential refresh lock unavailable", "error", err)
		case locked:
			defer unlock()
		case !force:
			// Another instance is refreshing; its result lands in the store.
			if token, ok := s.awaitPeer(ctx); ok {
				return token, nil
			}
		}
	}

	issueCtx, cancel := context.WithTimeout(ctx, s.opts.TokenTimeout)
	defer cancel()
	resp, err := s.issuer.IssueToken(issueCtx)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("request vendor token: %w", err)
	}
	if !issued(resp) {
		metrics.CredentialRefreshes.WithLabelValues("refused").Inc()
		msg := resp.Envelope.Message
		if msg == "" {
			msg = fmt.Sprintf("http %d, %s", resp.HTTPStatus, resp.Outcome)
		}
		return "", fmt.Errorf("%w: %s", ErrRefused, msg)
	}

	now := s.now()
	token, expiresAt := extractToken(resp, now, s.opts.DefaultTTL)
	if token == "" {
		metrics.CredentialRefreshes.WithLabelValues("empty").Inc()
		return "", ErrNoToken
	}

	if err := s.persist(ctx, resp, token, expiresAt); err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", err
	}
	s.warm(ctx, token, expiresAt)
	metrics.CredentialRefreshes.WithLabelValues("ok").Inc()

	s.logger.Info("vendor credential refreshed",
		"distributor_id", s.opts.DistributorID,
		"token", logger.Redact(token),
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	if s.events != nil {
		if err := s.events.Publish(ctx, events.NewVendorCredentialRefreshedEvent(s.opts.DistributorID, expiresAt)); err != nil {
			s.logger.Warn("failed to publish credential event", "error", err)
		}
	}
	return token, nil
}

// issued reports whether a token response may carry a credential: a 2xx
// reply that the rule table approved or could not place.
func issued(resp *vendor.Response) bool {
	if resp.HTTPStatus < 200 || resp.HTTPStatus > 299 {
		return false
	}
	return resp.Outcome == vendor.OutcomeApproved || resp.Outcome == vendor.OutcomeAmbiguous
}

func (s *Service) awaitPeer(ctx context.Context) (string, bool) {
	deadline := s.now().Add(s.opts.LockWait)
	for s.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(200 * time.Millisecond):
		}
		if token, ok := s.cached(ctx); ok {
			return token, true
		}
		if token, ok, err := s.stored(ctx); err == nil && ok {
			return token, true
		}
	}
	return "", false
}

func (s *Service) persist(ctx context.Context, resp *vendor.Response, token string, expiresAt time.Time) error {
	sealed, err := s.vault.SealString(token)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	meta, err := json.Marshal(map[string]any{
		"http_status": resp.HTTPStatus,
		"status":      resp.Envelope.Status,
		"message":     resp.Envelope.Message,
		"token":       logger.Redact(token),
		"issued_at":   s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode credential meta: %w", err)
	}
	c := &credentialDatamodel.VendorCredential{
		DistributorID: s.opts.DistributorID,
		TokenSealed:   sealed,
		ExpiresAt:     expiresAt.UTC(),
		IssueMeta:     meta,
	}
	if s.opts.StorePlainToken {
		c.TokenPlain = &token
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Service) warm(ctx context.Context, token string, expiresAt time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, token, expiresAt); err != nil {
		s.logger.Warn("failed to cache credential", "error", err)
	}
}

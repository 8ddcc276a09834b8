// Package credential keeps the vendor bearer credential valid: cached in
// Redis, persisted sealed in the database and refreshed from the vendor.
package credential

import (
	"context"
	"errors"
	"time"

	credentialDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/credential"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

var (
	ErrNoToken = errors.New("credential: vendor returned no token")
	ErrRefused = errors.New("credential: vendor refused token request")
)

type RepositoryAPI interface {
	// Load returns nil without error when no credential was stored yet.
	Load(ctx context.Context, distributorID string) (*credentialDatamodel.VendorCredential, error)
	Save(ctx context.Context, c *credentialDatamodel.VendorCredential) error
}

// Cache is the optional shared hot copy of the credential.
type Cache interface {
	Get(ctx context.Context) (token string, expiresAt time.Time, ok bool, err error)
	Set(ctx context.Context, token string, expiresAt time.Time) error
	// Lock takes the cross-instance refresh lock. ok is false when another
	// instance holds it.
	Lock(ctx context.Context, ttl time.Duration) (unlock func(), ok bool, err error)
}

type TokenIssuer interface {
	IssueToken(ctx context.Context) (*vendor.Response, error)
}

type Sealer interface {
	SealString(s string) (string, error)
	OpenString(s string) (string, bool)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Options struct {
	DistributorID   string
	TokenTimeout    time.Duration
	DefaultTTL      time.Duration
	EarlyExpirySkew time.Duration
	StorePlainToken bool
	LockTTL         time.Duration
	LockWait        time.Duration
}

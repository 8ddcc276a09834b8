package credential_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal/credential"
	credentialDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/credential"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

type memoryStore struct {
	mu    sync.Mutex
	row   *credentialDatamodel.VendorCredential
	saves int
}

func (m *memoryStore) Load(_ context.Context, distributorID string) (*credentialDatamodel.VendorCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.row == nil || m.row.DistributorID != distributorID {
		return nil, nil
	}
	c := *m.row
	return &c, nil
}

func (m *memoryStore) Save(_ context.Context, c *credentialDatamodel.VendorCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.row = &cp
	m.saves++
	return nil
}

type memoryCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	lockHeld  bool
}

func (c *memoryCache) Get(context.Context) (string, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.expiresAt, c.token != "", nil
}

func (c *memoryCache) Set(_ context.Context, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.expiresAt = token, expiresAt
	return nil
}

func (c *memoryCache) Lock(context.Context, time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockHeld {
		return nil, false, nil
	}
	c.lockHeld = true
	return func() {
		c.mu.Lock()
		c.lockHeld = false
		c.mu.Unlock()
	}, true, nil
}

type countingIssuer struct {
	calls atomic.Int32
	delay time.Duration
	resp  func(n int32) (*vendor.Response, error)
}

func (i *countingIssuer) IssueToken(context.Context) (*vendor.Response, error) {
	n := i.calls.Add(1)
	if i.delay > 0 {
		time.Sleep(i.delay)
	}
	return i.resp(n)
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func tokenResponse(value any) *vendor.Response {
	return &vendor.Response{
		Endpoint:   vendor.EndpointToken,
		HTTPStatus: 200,
		Raw:        []byte(`{"code":0,"status":"SUCCESS"}`),
		Payload:    vendor.Payload{Decrypted: true, Value: value},
		Outcome:    vendor.OutcomeApproved,
	}
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		store     *memoryStore
		cache     *memoryCache
		issuer    *countingIssuer
		published *capturedEvents
		v         *vault.Vault
		opts      credential.Options
		logger    *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = &memoryStore{}
		cache = &memoryCache{}
		published = &capturedEvents{}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		var err error
		v, err = vault.New("credential-test-secret")
		Expect(err).NotTo(HaveOccurred())
		opts = credential.Options{DistributorID: "dist-1", EarlyExpirySkew: time.Minute, LockWait: 300 * time.Millisecond}
		issuer = &countingIssuer{resp: func(n int32) (*vendor.Response, error) {
			return tokenResponse(map[string]any{
				"token":     "tok-" + string(rune('0'+n)),
				"expiresAt": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
			}), nil
		}}
	})

	newService := func(c credential.Cache) *credential.Service {
		return credential.NewService(store, c, issuer, v, published, opts, logger)
	}

	Context("when nothing is cached or stored", func() {
		It("issues, seals and persists a new credential", func() {
			// Given
			svc := newService(cache)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("tok-1"))
			Expect(store.row).NotTo(BeNil())
			Expect(store.row.TokenSealed).NotTo(ContainSubstring("tok-1"))
			Expect(store.row.TokenPlain).To(BeNil())
			opened, ok := v.OpenString(store.row.TokenSealed)
			Expect(ok).To(BeTrue())
			Expect(opened).To(Equal("tok-1"))
			Expect(cache.token).To(Equal("tok-1"))
			Expect(published.events).To(HaveLen(1))
			Expect(published.events[0].EventType()).To(Equal(events.EventTypeVendorCredentialRefreshed))
		})

		It("never records the clear token in the issue metadata", func() {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) {
				return tokenResponse(map[string]any{"token": "abcdefghijklmnop"}), nil
			}
			svc := newService(nil)

			// When
			_, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			var meta map[string]any
			Expect(json.Unmarshal(store.row.IssueMeta, &meta)).To(Succeed())
			Expect(meta["token"]).To(Equal("abcd…mnop"))
			Expect(string(store.row.IssueMeta)).NotTo(ContainSubstring("abcdefghijklmnop"))
		})

		It("stores the plain token only when configured to", func() {
			// Given
			opts.StorePlainToken = true
			svc := newService(nil)

			// When
			_, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(store.row.TokenPlain).NotTo(BeNil())
			Expect(*store.row.TokenPlain).To(Equal("tok-1"))
		})
	})

	Context("when a valid credential exists", func() {
		It("serves the cached copy without calling the vendor", func() {
			// Given
			cache.token, cache.expiresAt = "cached-token", time.Now().Add(time.Hour)
			svc := newService(cache)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("cached-token"))
			Expect(issuer.calls.Load()).To(BeZero())
		})

		It("falls back to the stored row and warms the cache", func() {
			// Given
			sealed, err := v.SealString("stored-token")
			Expect(err).NotTo(HaveOccurred())
			store.row = &credentialDatamodel.VendorCredential{DistributorID: "dist-1", TokenSealed: sealed, ExpiresAt: time.Now().Add(time.Hour)}
			svc := newService(cache)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("stored-token"))
			Expect(cache.token).To(Equal("stored-token"))
			Expect(issuer.calls.Load()).To(BeZero())
		})

		It("refreshes when forced", func() {
			// Given
			cache.token, cache.expiresAt = "cached-token", time.Now().Add(time.Hour)
			svc := newService(cache)

			// When
			token, err := svc.Get(ctx, true)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("tok-1"))
			Expect(cache.token).To(Equal("tok-1"))
		})
	})

	It("treats a credential inside the expiry skew as expired", func() {
		// Given
		sealed, _ := v.SealString("old-token")
		store.row = &credentialDatamodel.VendorCredential{DistributorID: "dist-1", TokenSealed: sealed, ExpiresAt: time.Now().Add(30 * time.Second)}
		svc := newService(nil)

		// When
		token, err := svc.Get(ctx, false)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("tok-1"))
	})

	It("coalesces concurrent refreshes into one vendor call", func() {
		// Given
		issuer.delay = 100 * time.Millisecond
		svc := newService(nil)

		// When
		var wg sync.WaitGroup
		tokens := make([]string, 8)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				t, err := svc.Get(ctx, false)
				Expect(err).NotTo(HaveOccurred())
				tokens[i] = t
			}(i)
		}
		wg.Wait()

		// Then
		Expect(issuer.calls.Load()).To(BeEquivalentTo(1))
		for _, t := range tokens {
			Expect(t).To(Equal("tok-1"))
		}
	})

	It("uses the peer's result when another instance holds the refresh lock", func() {
		// Given
		cache.lockHeld = true
		svc := newService(cache)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = cache.Set(ctx, "peer-token", time.Now().Add(time.Hour))
		}()

		// When
		token, err := svc.Get(ctx, false)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("peer-token"))
		Expect(issuer.calls.Load()).To(BeZero())
	})

	It("refreshes anyway when the peer never delivers", func() {
		// Given
		cache.lockHeld = true
		svc := newService(cache)

		// When
		token, err := svc.Get(ctx, false)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("tok-1"))
	})

	DescribeTable("reading tokens from vendor responses",
		func(value any, text string, want string) {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) {
				resp := tokenResponse(value)
				resp.Payload.Text = text
				return resp, nil
			}
			svc := newService(nil)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal(want))
		},
		Entry("camel case key", map[string]any{"accessToken": "abc"}, "", "abc"),
		Entry("snake case key", map[string]any{"access_token": "abc"}, "", "abc"),
		Entry("bearer prefix and quotes", map[string]any{"token": `"Bearer abc"`}, "", "abc"),
		Entry("plain decrypted text", nil, "  xyz\n", "xyz"),
		Entry("string value", "Bearer qwe", "", "qwe"),
	)

	DescribeTable("reading expiry",
		func(value map[string]any, want time.Duration) {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) { return tokenResponse(value), nil }
			svc := newService(nil)

			// When
			_, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Until(store.row.ExpiresAt)).To(BeNumerically("~", want, time.Minute))
		},
		Entry("expiresIn seconds", map[string]any{"token": "a", "expiresIn": float64(3600)}, time.Hour),
		Entry("unix seconds", map[string]any{"token": "a", "expiresAt": float64(time.Now().Add(2 * time.Hour).Unix())}, 2*time.Hour),
		Entry("date time string", map[string]any{"token": "a", "expiry": time.Now().UTC().Add(3 * time.Hour).Format("2006-01-02 15:04:05")}, 3*time.Hour),
		Entry("no expiry falls back to five days", map[string]any{"token": "a"}, 5*24*time.Hour),
		Entry("past expiry falls back to five days", map[string]any{"token": "a", "expiresAt": "2001-01-01T00:00:00Z"}, 5*24*time.Hour),
	)

	It("fails when the vendor sends no token", func() {
		// Given
		issuer.resp = func(int32) (*vendor.Response, error) { return tokenResponse(map[string]any{"foo": "bar"}), nil }
		svc := newService(nil)

		// When
		_, err := svc.Get(ctx, false)

		// Then
		Expect(errors.Is(err, credential.ErrNoToken)).To(BeTrue())
		Expect(store.row).To(BeNil())
	})

	It("fails when the vendor refuses", func() {
		// Given
		issuer.resp = func(int32) (*vendor.Response, error) {
			resp := tokenResponse(nil)
			resp.Outcome = vendor.OutcomeRejected
			resp.Envelope.Message = "invalid client"
			return resp, nil
		}
		svc := newService(nil)

		// When
		_, err := svc.Get(ctx, false)

		// Then
		Expect(errors.Is(err, credential.ErrRefused)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("invalid client"))
	})

	DescribeTable("refusing token replies that did not issue a credential",
		func(status int, outcome vendor.Outcome) {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) {
				resp := tokenResponse(nil)
				resp.HTTPStatus = status
				resp.Outcome = outcome
				resp.Payload = vendor.Payload{Raw: "Invalid client secret"}
				return resp, nil
			}
			svc := newService(cache)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(errors.Is(err, credential.ErrRefused)).To(BeTrue())
			Expect(token).To(BeEmpty())
			Expect(store.row).To(BeNil())
			Expect(cache.token).To(BeEmpty())
		},
		Entry("unauthorized status", 401, vendor.OutcomeCredentialExpired),
		Entry("credential expired on a 2xx", 200, vendor.OutcomeCredentialExpired),
		Entry("server error left unclassified", 503, vendor.OutcomeAmbiguous),
		Entry("insufficient balance", 200, vendor.OutcomeInsufficientBalance),
	)

	It("names the status when the vendor gives no message", func() {
		// Given
		issuer.resp = func(int32) (*vendor.Response, error) {
			resp := tokenResponse(nil)
			resp.HTTPStatus = 502
			resp.Outcome = vendor.OutcomeAmbiguous
			return resp, nil
		}
		svc := newService(nil)

		// When
		_, err := svc.Get(ctx, false)

		// Then
		Expect(errors.Is(err, credential.ErrRefused)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("http 502"))
	})

	Context("when the reply is unclassified but successful", func() {
		It("accepts a structured token", func() {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) {
				resp := tokenResponse(map[string]any{"token": "tok-amb"})
				resp.Outcome = vendor.OutcomeAmbiguous
				return resp, nil
			}
			svc := newService(nil)

			// When
			token, err := svc.Get(ctx, false)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("tok-amb"))
		})

		It("does not take undecryptable data as the token", func() {
			// Given
			issuer.resp = func(int32) (*vendor.Response, error) {
				resp := tokenResponse(nil)
				resp.Outcome = vendor.OutcomeAmbiguous
				resp.Payload = vendor.Payload{Raw: "not a token"}
				return resp, nil
			}
			svc := newService(nil)

			// When
			_, err := svc.Get(ctx, false)

			// Then
			Expect(errors.Is(err, credential.ErrNoToken)).To(BeTrue())
			Expect(store.row).To(BeNil())
		})
	})

	It("keeps undecryptable data as the token when the vendor approved", func() {
		// Given
		issuer.resp = func(int32) (*vendor.Response, error) {
			resp := tokenResponse(nil)
			resp.Payload = vendor.Payload{Raw: "plain-token-value"}
			return resp, nil
		}
		svc := newService(nil)

		// When
		token, err := svc.Get(ctx, false)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("plain-token-value"))
	})

	Describe("Refresher", func() {
		It("leaves a fresh credential alone", func() {
			// Given
			sealed, _ := v.SealString("fresh")
			store.row = &credentialDatamodel.VendorCredential{DistributorID: "dist-1", TokenSealed: sealed, ExpiresAt: time.Now().Add(72 * time.Hour)}
			r := credential.NewRefresher(newService(nil), 24*time.Hour, logger)

			// When
			err := r.Run(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(issuer.calls.Load()).To(BeZero())
		})

		It("renews a credential close to expiry", func() {
			// Given
			sealed, _ := v.SealString("ageing")
			store.row = &credentialDatamodel.VendorCredential{DistributorID: "dist-1", TokenSealed: sealed, ExpiresAt: time.Now().Add(2 * time.Hour)}
			r := credential.NewRefresher(newService(nil), 24*time.Hour, logger)

			// When
			err := r.Run(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(issuer.calls.Load()).To(BeEquivalentTo(1))
			opened, _ := v.OpenString(store.row.TokenSealed)
			Expect(opened).To(Equal("tok-1"))
		})

		It("renews inside a day when no threshold is configured", func() {
			// Given
			sealed, _ := v.SealString("ageing")
			store.row = &credentialDatamodel.VendorCredential{DistributorID: "dist-1", TokenSealed: sealed, ExpiresAt: time.Now().Add(20 * time.Hour)}
			r := credential.NewRefresher(newService(nil), 0, logger)

			// When
			err := r.Run(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(issuer.calls.Load()).To(BeEquivalentTo(1))
		})
	})
})

// Package redis shares the vendor credential and its refresh lock across
// instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/giftcard-fulfillment/internal/credential"
)

// unlockScript deletes the lock only while it still carries our value.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type cached struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Cache struct {
	client  *goredis.Client
	vault   credential.Sealer
	key     string
	lockKey string
}

var _ credential.Cache = (*Cache)(nil)

func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewCache stores the credential sealed; Redis never sees it in clear.
func NewCache(client *goredis.Client, vault credential.Sealer, prefix, distributorID string) *Cache {
	if prefix == "" {
		prefix = "giftcard"
	}
	return &Cache{
		client:  client,
		vault:   vault,
		key:     prefix + ":vendor_credential:" + distributorID,
		lockKey: prefix + ":vendor_credential_lock:" + distributorID,
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Get(ctx context.Context) (string, time.Time, bool, error) {
	sealed, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("redis get credential: %w", err)
	}
	plain, ok := c.vault.OpenString(sealed)
	if !ok {
		return "", time.Time{}, false, nil
	}
	var v cached
	if err := json.Unmarshal([]byte(plain), &v); err != nil {
		return "", time.Time{}, false, nil
	}
	return v.Token, v.ExpiresAt, true, nil
}

func (c *Cache) Set(ctx context.Context, token string, expiresAt time.Time) error {
	raw, err := json.Marshal(cached{Token: token, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return err
	}
	sealed, err := c.vault.SealString(string(raw))
	if err != nil {
		return fmt.Errorf("seal cached credential: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key, sealed, 0)
	pipe.ExpireAt(ctx, c.key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set credential: %w", err)
	}
	return nil
}

func (c *Cache) Lock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.lockKey, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock credential: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), c.client, []string{c.lockKey}, owner).Err()
	}
	return unlock, true, nil
}

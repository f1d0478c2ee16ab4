package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/criticalmanufacturing/portalauth/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("redis cache adapter: ttl must be greater than zero")
	ErrNilClient  = errors.New("redis cache adapter: client is nil")
)

const (
	principalKeyPrefix = "pa:principal"
	failureKeyPrefix   = "pa:failure"
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Adapter backs both outcome tiers with redis so several plugin replicas can
// share resolved principals and known-bad credentials. Expiry is delegated to
// redis key TTLs.
type Adapter struct {
	client    *redis.Client
	namespace string
}

var _ cache.PrincipalCache = (*Adapter)(nil)
var _ cache.FailureCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	return &Adapter{
		client:    client,
		namespace: config.Namespace,
	}
}

// NewAdapterWithClient wraps an existing client, mainly for tests.
func NewAdapterWithClient(client *redis.Client, namespace string) *Adapter {
	return &Adapter{
		client:    client,
		namespace: namespace,
	}
}

func (a *Adapter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) key(prefix string, key string) string {
	if a.namespace == "" {
		return prefix + ":" + key
	}
	return prefix + ":" + a.namespace + ":" + key
}

func (a *Adapter) SetPrincipal(ctx context.Context, key string, snapshot cache.PrincipalSnapshot, ttl time.Duration) error {
	return a.set(ctx, a.key(principalKeyPrefix, key), snapshot, ttl)
}

func (a *Adapter) GetPrincipal(ctx context.Context, key string) (cache.PrincipalSnapshot, bool, error) {
	var snapshot cache.PrincipalSnapshot
	ok, err := a.get(ctx, a.key(principalKeyPrefix, key), &snapshot)
	if err != nil || !ok {
		return cache.PrincipalSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func (a *Adapter) DeletePrincipal(ctx context.Context, key string) error {
	return a.delete(ctx, a.key(principalKeyPrefix, key))
}

func (a *Adapter) SetFailure(ctx context.Context, key string, snapshot cache.FailureSnapshot, ttl time.Duration) error {
	return a.set(ctx, a.key(failureKeyPrefix, key), snapshot, ttl)
}

func (a *Adapter) GetFailure(ctx context.Context, key string) (cache.FailureSnapshot, bool, error) {
	var snapshot cache.FailureSnapshot
	ok, err := a.get(ctx, a.key(failureKeyPrefix, key), &snapshot)
	if err != nil || !ok {
		return cache.FailureSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func (a *Adapter) DeleteFailure(ctx context.Context, key string) error {
	return a.delete(ctx, a.key(failureKeyPrefix, key))
}

func (a *Adapter) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}
	if key == "" {
		return errors.New("redis cache adapter: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis cache adapter: encode snapshot: %w", err)
	}

	if err := a.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: set %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) get(ctx context.Context, key string, out any) (bool, error) {
	if a == nil || a.client == nil {
		return false, ErrNilClient
	}

	data, err := a.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis cache adapter: get %q: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("redis cache adapter: decode snapshot at %q: %w", key, err)
	}
	return true, nil
}

func (a *Adapter) delete(ctx context.Context, key string) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}
	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: delete %q: %w", key, err)
	}
	return nil
}

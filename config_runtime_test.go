package portalauth

import (
	"context"
	"testing"
)

func TestInitializeDefaultsToMemoryCache(t *testing.T) {
	closeResource, config, err := Config{}.initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer func() { _ = closeResource() }()

	if config.CacheStore.Principal == nil {
		t.Fatal("expected a principal cache tier by default")
	}
	if config.CacheStore.Failure == nil {
		t.Fatal("expected a failure cache tier by default")
	}
	if config.AuditStore != nil {
		t.Fatal("expected no audit store by default")
	}
}

func TestInitializeCacheBackendNone(t *testing.T) {
	config := Config{Runtime: RuntimeConfig{Cache: CacheConfig{Backend: CacheBackendNone}}}

	closeResource, resolved, err := config.initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer func() { _ = closeResource() }()

	if resolved.CacheStore.Principal != nil || resolved.CacheStore.Failure != nil {
		t.Fatal("backend none must not attach cache tiers")
	}
}

func TestInitializeRejectsUnknownBackends(t *testing.T) {
	_, _, err := Config{Runtime: RuntimeConfig{Cache: CacheConfig{Backend: "memcached"}}}.initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error for an unknown cache backend")
	}

	_, _, err = Config{Runtime: RuntimeConfig{Audit: AuditConfig{Backend: "mysql"}}}.initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error for an unknown audit backend")
	}
}

func TestInitializeRedisRequiresAddress(t *testing.T) {
	_, _, err := Config{Runtime: RuntimeConfig{Cache: CacheConfig{Backend: CacheBackendRedis}}}.initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error when the redis address is missing")
	}
}

func TestInitializePostgresRequiresDSN(t *testing.T) {
	_, _, err := Config{Runtime: RuntimeConfig{Audit: AuditConfig{Backend: AuditBackendPostgres}}}.initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error when the postgres dsn is missing")
	}
}

func TestInitializeKeepsCallerSuppliedTiers(t *testing.T) {
	base := Config{}
	closeResource, first, err := base.initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer func() { _ = closeResource() }()

	reuse := Config{CacheStore: first.CacheStore}
	closeSecond, second, err := reuse.initialize(context.Background())
	if err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	defer func() { _ = closeSecond() }()

	if second.CacheStore.Principal != first.CacheStore.Principal {
		t.Fatal("initialize replaced a caller-supplied principal tier")
	}
	if second.CacheStore.Failure != first.CacheStore.Failure {
		t.Fatal("initialize replaced a caller-supplied failure tier")
	}
}

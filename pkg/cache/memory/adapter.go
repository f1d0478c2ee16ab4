package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/criticalmanufacturing/portalauth/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
)

type principalEntry struct {
	snapshot cache.PrincipalSnapshot
	expires  time.Time
}

type failureEntry struct {
	snapshot cache.FailureSnapshot
	expires  time.Time
}

// Adapter is a process-local, TTL-bound implementation of both outcome tiers.
// Expired entries are evicted on read; readers never observe them either way.
type Adapter struct {
	mu               sync.RWMutex
	principalEntries map[string]principalEntry
	failureEntries   map[string]failureEntry

	now func() time.Time
}

var _ cache.PrincipalCache = (*Adapter)(nil)
var _ cache.FailureCache = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		principalEntries: map[string]principalEntry{},
		failureEntries:   map[string]failureEntry{},
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adapter) SetPrincipal(_ context.Context, key string, snapshot cache.PrincipalSnapshot, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.mu.Lock()
	a.principalEntries[key] = principalEntry{
		snapshot: cloneSnapshot(snapshot),
		expires:  a.now().Add(ttl),
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetPrincipal(_ context.Context, key string) (cache.PrincipalSnapshot, bool, error) {
	now := a.now()

	a.mu.RLock()
	entry, ok := a.principalEntries[key]
	a.mu.RUnlock()
	if !ok {
		return cache.PrincipalSnapshot{}, false, nil
	}

	if now.After(entry.expires) {
		a.mu.Lock()
		delete(a.principalEntries, key)
		a.mu.Unlock()
		return cache.PrincipalSnapshot{}, false, nil
	}

	return cloneSnapshot(entry.snapshot), true, nil
}

func (a *Adapter) DeletePrincipal(_ context.Context, key string) error {
	a.mu.Lock()
	delete(a.principalEntries, key)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SetFailure(_ context.Context, key string, snapshot cache.FailureSnapshot, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.mu.Lock()
	a.failureEntries[key] = failureEntry{
		snapshot: snapshot,
		expires:  a.now().Add(ttl),
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetFailure(_ context.Context, key string) (cache.FailureSnapshot, bool, error) {
	now := a.now()

	a.mu.RLock()
	entry, ok := a.failureEntries[key]
	a.mu.RUnlock()
	if !ok {
		return cache.FailureSnapshot{}, false, nil
	}

	if now.After(entry.expires) {
		a.mu.Lock()
		delete(a.failureEntries, key)
		a.mu.Unlock()
		return cache.FailureSnapshot{}, false, nil
	}

	return entry.snapshot, true, nil
}

func (a *Adapter) DeleteFailure(_ context.Context, key string) error {
	a.mu.Lock()
	delete(a.failureEntries, key)
	a.mu.Unlock()
	return nil
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory cache: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// cloneSnapshot keeps cached role slices isolated from whatever the caller
// does with the returned value.
func cloneSnapshot(snapshot cache.PrincipalSnapshot) cache.PrincipalSnapshot {
	clonedRoles := make([]string, len(snapshot.Roles))
	copy(clonedRoles, snapshot.Roles)

	snapshot.Roles = clonedRoles
	return snapshot
}

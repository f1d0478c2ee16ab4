package portalauth

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/criticalmanufacturing/portalauth/pkg/cache"
	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
	"github.com/criticalmanufacturing/portalauth/pkg/storage"
)

// resolutionService is the outcome-cache state machine around a Resolver:
// positive tier first, then negative tier, and only on a double miss the full
// portal pipeline. Successful resolutions populate the positive tier,
// rejections the negative tier; portal outages populate neither so the next
// call retries.
type resolutionService struct {
	resolver   Resolver
	principals cache.PrincipalCache
	failures   cache.FailureCache
	ttl        time.Duration
	audit      storage.AuditStore
	logger     logr.Logger
}

var _ Resolver = (*resolutionService)(nil)

func newResolutionService(resolver Resolver, config Config) *resolutionService {
	return &resolutionService{
		resolver:   resolver,
		principals: config.CacheStore.Principal,
		failures:   config.CacheStore.Failure,
		ttl:        config.PrincipalCacheTTL,
		audit:      config.AuditStore,
		logger:     config.Logger,
	}
}

func (s *resolutionService) Resolve(ctx context.Context, login string, credential string) (Principal, error) {
	if principal, ok := s.cachedPrincipal(ctx, credential); ok {
		s.logger.V(1).Info("using cached principal", "username", principal.Username)
		s.record(ctx, login, credential, storage.AuditOutcomeSuccess, 0, true)
		return principal, nil
	}

	if failure, ok := s.cachedFailure(ctx, credential); ok {
		s.logger.V(1).Info("credential cached as invalid, not authenticating",
			"credential", perrors.Mask(credential))
		s.record(ctx, login, credential, storage.AuditOutcomeUnauthorized, failure.StatusCode, true)
		return Principal{}, perrors.Cached(failure.StatusCode, credential)
	}

	principal, err := s.resolver.Resolve(ctx, login, credential)
	if err == nil {
		s.storePrincipal(ctx, credential, principal)
		s.record(ctx, login, credential, storage.AuditOutcomeSuccess, 0, false)
		return principal, nil
	}

	if perrors.IsUnauthorized(err) {
		statusCode := perrors.StatusCode(err)
		s.logger.Info("caching credential due to an authentication error",
			"credential", perrors.Mask(credential), "status", statusCode)
		s.storeFailure(ctx, credential, statusCode)
		s.record(ctx, login, credential, storage.AuditOutcomeUnauthorized, statusCode, false)
		return Principal{}, err
	}

	// Portal or network trouble: deliberately not cached, the next attempt
	// should reach the portal again.
	s.logger.Error(err, "portal resolution failed",
		"login", login, "credential", perrors.Mask(credential))
	s.record(ctx, login, credential, storage.AuditOutcomeUnavailable, perrors.StatusCode(err), false)
	return Principal{}, err
}

func (s *resolutionService) cachedPrincipal(ctx context.Context, credential string) (Principal, bool) {
	if s.principals == nil {
		return Principal{}, false
	}

	snapshot, ok, err := s.principals.GetPrincipal(ctx, credential)
	if err != nil {
		s.logger.Error(err, "positive cache read failed, resolving without it")
		return Principal{}, false
	}
	if !ok {
		return Principal{}, false
	}

	return Principal{
		Username:    snapshot.Username,
		AccessToken: snapshot.AccessToken,
		Roles:       snapshot.Roles,
	}, true
}

func (s *resolutionService) cachedFailure(ctx context.Context, credential string) (cache.FailureSnapshot, bool) {
	if s.failures == nil {
		return cache.FailureSnapshot{}, false
	}

	snapshot, ok, err := s.failures.GetFailure(ctx, credential)
	if err != nil {
		s.logger.Error(err, "negative cache read failed, resolving without it")
		return cache.FailureSnapshot{}, false
	}

	return snapshot, ok
}

// Cache writes are best effort: a failing tier degrades to uncached
// resolution, it does not fail authentication.
func (s *resolutionService) storePrincipal(ctx context.Context, credential string, principal Principal) {
	if s.principals == nil {
		return
	}

	err := s.principals.SetPrincipal(ctx, credential, cache.PrincipalSnapshot{
		Username:    principal.Username,
		AccessToken: principal.AccessToken,
		Roles:       principal.Roles,
	}, s.ttl)
	if err != nil {
		s.logger.Error(err, "positive cache write failed", "username", principal.Username)
	}
}

func (s *resolutionService) storeFailure(ctx context.Context, credential string, statusCode int) {
	if s.failures == nil {
		return
	}

	err := s.failures.SetFailure(ctx, credential, cache.FailureSnapshot{
		StatusCode: statusCode,
		RejectedAt: time.Now().UTC(),
	}, s.ttl)
	if err != nil {
		s.logger.Error(err, "negative cache write failed", "credential", perrors.Mask(credential))
	}
}

func (s *resolutionService) record(
	ctx context.Context,
	login string,
	credential string,
	outcome storage.AuditOutcome,
	statusCode int,
	fromCache bool,
) {
	if s.audit == nil {
		return
	}

	err := s.audit.PutAudit(ctx, storage.AuditRecord{
		ID:               uuid.NewString(),
		DateAdded:        time.Now().UTC(),
		Login:            login,
		MaskedCredential: perrors.Mask(credential),
		Outcome:          outcome,
		StatusCode:       statusCode,
		FromCache:        fromCache,
	})
	if err != nil {
		s.logger.Error(err, "audit write failed", "login", login, "outcome", string(outcome))
	}
}

package cache

import (
	"context"
	"time"
)

// PrincipalSnapshot is the cacheable form of a resolved principal. The access
// token rides along because the host framework hands it back to callers that
// need to act against the portal on the user's behalf.
type PrincipalSnapshot struct {
	Username    string   `json:"username"`
	AccessToken string   `json:"access_token"`
	Roles       []string `json:"roles"`
}

// FailureSnapshot is the cacheable form of a credential rejection: the HTTP
// status the portal answered with when it last refused this credential.
type FailureSnapshot struct {
	StatusCode int       `json:"status_code"`
	RejectedAt time.Time `json:"rejected_at"`
}

// PrincipalCache is the positive outcome tier, keyed by the verbatim
// credential. Absent-or-expired reads report a miss; writes overwrite.
type PrincipalCache interface {
	SetPrincipal(ctx context.Context, key string, snapshot PrincipalSnapshot, ttl time.Duration) error
	GetPrincipal(ctx context.Context, key string) (PrincipalSnapshot, bool, error)
	DeletePrincipal(ctx context.Context, key string) error
}

// FailureCache is the negative outcome tier. It holds credentials the portal
// already rejected so repeat attempts fail without another network round-trip.
type FailureCache interface {
	SetFailure(ctx context.Context, key string, snapshot FailureSnapshot, ttl time.Duration) error
	GetFailure(ctx context.Context, key string) (FailureSnapshot, bool, error)
	DeleteFailure(ctx context.Context, key string) error
}

// Dependencies bundles both tiers for runtime wiring. The tiers are
// independent on purpose: writing one never clears the other.
type Dependencies struct {
	Principal PrincipalCache
	Failure   FailureCache
}

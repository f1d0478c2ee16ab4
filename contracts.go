package portalauth

import (
	"context"
)

// Principal is a resolved identity as the host framework consumes it.
type Principal struct {
	Username    string   // Username is the portal's account identifier, not the login the caller typed.
	AccessToken string   // AccessToken is sensitive; it never appears in logs, errors, or String().
	Roles       []string // Roles is a unique, sorted role-name set ready for authorization-info assembly.
}

// String identifies the principal without disclosing the access token.
func (p Principal) String() string {
	return p.Username
}

// HasRole reports membership in the resolved role set.
func (p Principal) HasRole(name string) bool {
	for _, role := range p.Roles {
		if role == name {
			return true
		}
	}
	return false
}

// Resolver turns a presented credential into a Principal or a classified
// failure from pkg/errors. The login is advisory: the portal's token binding
// is authoritative for whose principal comes back.
type Resolver interface {
	Resolve(ctx context.Context, login string, credential string) (Principal, error)
}

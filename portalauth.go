// Package portalauth authenticates users against the CMF Security Portal by
// exchanging a refresh token for an access token and resolving it into a
// principal with its role set. Outcomes are cached per credential: resolved
// principals in a positive tier, rejected credentials in a negative tier, both
// TTL-bound, so repeat attempts stay off the network.
package portalauth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/criticalmanufacturing/portalauth/pkg/cache"
	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
	"github.com/criticalmanufacturing/portalauth/pkg/portal"
	"github.com/criticalmanufacturing/portalauth/pkg/storage"
)

// Defaults applied by Config when the corresponding field is zero.
const (
	DefaultClientID          = "Applications"
	DefaultMetadataURL       = "https://security.criticalmanufacturing.com/tenant/CustomerPortal/.well-known/openid-configuration"
	DefaultPrincipalCacheTTL = time.Minute
)

type Config struct {
	// MetadataURL is the portal tenant's well-known discovery document.
	MetadataURL string

	// ClientID is the OAuth client identifier sent on token exchanges.
	ClientID string

	// PrincipalCacheTTL bounds both outcome tiers. A credential resolved or
	// rejected stays so for this long, whatever the portal says meanwhile.
	PrincipalCacheTTL time.Duration

	// ConnectTimeout, RequestTimeout and ReadTimeout bound connection
	// establishment, the whole request (including pool acquisition), and the
	// wait for response headers. Zero leaves each unbounded.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ReadTimeout    time.Duration

	// HTTPClient overrides the built-in pooled transport when set.
	HTTPClient *http.Client

	// CacheStore supplies the outcome tiers directly. Left nil, Runtime.Cache
	// decides the backend (memory when unset).
	CacheStore cache.Dependencies

	// AuditStore records resolution attempts. Left nil, Runtime.Audit decides
	// the backend (none when unset).
	AuditStore storage.AuditStore

	Logger logr.Logger

	Runtime RuntimeConfig
}

func (c Config) withDefaults() Config {
	config := c

	if config.MetadataURL == "" {
		config.MetadataURL = DefaultMetadataURL
	}
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	if config.PrincipalCacheTTL <= 0 {
		config.PrincipalCacheTTL = DefaultPrincipalCacheTTL
	}

	return config
}

// Client is the host-facing entry point. One Client per portal tenant; safe
// for concurrent use.
type Client struct {
	resolver      Resolver
	logger        logr.Logger
	closeResource func() error
}

// New wraps a caller-supplied resolver with the outcome cache tiers and the
// audit trail. Most hosts want NewDefault instead.
func New(resolver Resolver, config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	if resolver == nil {
		_ = closeResource()
		return nil, perrors.ErrMissingResolver
	}

	return &Client{
		resolver:      newResolutionService(resolver, resolvedConfig),
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

// NewDefault builds a portal-backed client from the configuration alone.
func NewDefault(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	portalClient, err := portal.New(portal.Config{
		MetadataURL:    resolvedConfig.MetadataURL,
		ClientID:       resolvedConfig.ClientID,
		ConnectTimeout: resolvedConfig.ConnectTimeout,
		RequestTimeout: resolvedConfig.RequestTimeout,
		ReadTimeout:    resolvedConfig.ReadTimeout,
		HTTPClient:     resolvedConfig.HTTPClient,
		Logger:         resolvedConfig.Logger,
	})
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	return &Client{
		resolver:      newResolutionService(&portalResolver{client: portalClient}, resolvedConfig),
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

// Resolve authenticates the presented credential. It returns a classified
// *errors.Error on failure: CodeUnauthorized when the portal rejected the
// credential (possibly replayed from cache), CodeUnavailable when the portal
// could not answer.
func (c *Client) Resolve(ctx context.Context, login string, credential string) (Principal, error) {
	if c == nil || c.resolver == nil {
		return Principal{}, perrors.ErrMissingResolver
	}

	return c.resolver.Resolve(ctx, login, credential)
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return perrors.Wrap(perrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.resolver = nil
	return nil
}

// portalResolver adapts the portal client to the host-facing Resolver
// contract.
type portalResolver struct {
	client *portal.Client
}

var _ Resolver = (*portalResolver)(nil)

func (r *portalResolver) Resolve(ctx context.Context, login string, credential string) (Principal, error) {
	principal, err := r.client.Resolve(ctx, login, credential)
	if err != nil {
		return Principal{}, err
	}

	return Principal{
		Username:    principal.Username,
		AccessToken: principal.AccessToken,
		Roles:       principal.Roles,
	}, nil
}

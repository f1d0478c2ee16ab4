// Package portal implements the Security Portal client: OIDC metadata
// discovery, refresh-token exchange, and resolution of an access token into a
// user identity with its role set.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

// maxResponseSize bounds portal response bodies; nothing the portal returns is
// legitimately larger than this.
const maxResponseSize = 1 << 20

type Config struct {
	// MetadataURL is the well-known discovery document of the portal tenant.
	MetadataURL string

	// ClientID is sent as client_id on every token exchange.
	ClientID string

	// ConnectTimeout bounds TCP connection establishment. Zero means no
	// explicit bound.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a whole request including connection acquisition
	// from the pool. Zero means no explicit bound.
	RequestTimeout time.Duration

	// ReadTimeout bounds the wait for the portal's response headers after the
	// request is written. Zero means no explicit bound.
	ReadTimeout time.Duration

	// HTTPClient overrides the built-in pooled client when set. Timeouts
	// above are ignored in that case.
	HTTPClient *http.Client

	Logger logr.Logger
}

// Principal is a resolved portal identity. Roles are unique and sorted.
type Principal struct {
	Username    string
	AccessToken string
	Roles       []string
}

// Client talks to one portal tenant. It memoizes the discovery document for
// the lifetime of the process; if the portal rotates endpoints the process
// must be restarted.
type Client struct {
	http        *http.Client
	metadataURL string
	clientID    string
	logger      logr.Logger

	mu       sync.RWMutex
	metadata *Metadata
}

var (
	ErrMissingMetadataURL = errors.New("portal client: metadata url is required")
	ErrMissingClientID    = errors.New("portal client: client id is required")
)

func New(config Config) (*Client, error) {
	if config.MetadataURL == "" {
		return nil, ErrMissingMetadataURL
	}
	if config.ClientID == "" {
		return nil, ErrMissingClientID
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(config)
	}

	return &Client{
		http:        httpClient,
		metadataURL: config.MetadataURL,
		clientID:    config.ClientID,
		logger:      config.Logger,
	}, nil
}

func newHTTPClient(config Config) *http.Client {
	dialer := &net.Dialer{
		Timeout: config.ConnectTimeout,
	}

	return &http.Client{
		Timeout: config.RequestTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          16,
			IdleConnTimeout:       60 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: config.ReadTimeout,
		},
	}
}

// Resolve turns a refresh token into a Principal. The steps are strictly
// sequential: metadata, token exchange, user identity, user roles. The first
// failing hop classifies the whole attempt; nothing downstream reclassifies.
// The login is recorded for diagnostics only — the portal's token binding, not
// the caller-supplied login, decides whose principal comes back.
func (c *Client) Resolve(ctx context.Context, login string, credential string) (Principal, error) {
	metadata, err := c.Metadata(ctx)
	if err != nil {
		return Principal{}, err
	}

	c.logger.V(1).Info("authenticating user", "login", login, "credential", perrors.Mask(credential))

	token, err := c.exchange(ctx, metadata.TokenEndpoint, credential)
	if err != nil {
		return Principal{}, err
	}

	user, err := c.userInfo(ctx, metadata.UserinfoEndpoint, token)
	if err != nil {
		return Principal{}, err
	}

	roles, err := c.userRoles(ctx, metadata.UserinfoEndpoint, token)
	if err != nil {
		return Principal{}, err
	}

	return Principal{
		Username:    user.UserAccount,
		AccessToken: token.AccessToken,
		Roles:       roleNames(roles),
	}, nil
}

// roleNames reduces the portal's role records to a unique, sorted name set.
// The portal can return the same role twice when it is granted through more
// than one scope.
func roleNames(roles []role) []string {
	seen := make(map[string]struct{}, len(roles))
	names := make([]string, 0, len(roles))

	for _, r := range roles {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		names = append(names, r.Name)
	}

	sort.Strings(names)
	return names
}

// classifyStatus is the single status policy shared by the token exchange and
// both userinfo fetches: 200 passes, 401/403 means the credential was
// rejected, anything else means the portal could not answer.
func classifyStatus(statusCode int, operation string, credential string) error {
	if statusCode == http.StatusOK {
		return nil
	}

	if perrors.IsRejectionStatus(statusCode) {
		return perrors.Unauthorized(statusCode, operation, credential)
	}

	return perrors.Unavailable(statusCode, operation)
}

// decodeResponse reads a bounded portal payload into out. A payload that does
// not parse is a portal problem, never a credential problem.
func decodeResponse(body io.Reader, operation string, out any) error {
	if err := json.NewDecoder(io.LimitReader(body, maxResponseSize)).Decode(out); err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, fmt.Sprintf("%s: unexpected response payload", operation), err)
	}
	return nil
}

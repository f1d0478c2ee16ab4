package portal

import (
	"context"
	"fmt"
	"net/http"

	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

// Metadata is the subset of the portal's discovery document the client needs.
// Immutable once fetched.
type Metadata struct {
	Issuer           string `json:"issuer"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
}

// Metadata returns the portal's endpoints, fetching the discovery document on
// first use and memoizing it for the remaining process lifetime. Concurrent
// first callers are serialized so exactly one fetch happens and everyone
// observes the same fully built value. A failed fetch is not memoized; the
// next caller tries again.
func (c *Client) Metadata(ctx context.Context) (*Metadata, error) {
	c.mu.RLock()
	metadata := c.metadata
	c.mu.RUnlock()
	if metadata != nil {
		return metadata, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metadata != nil {
		return c.metadata, nil
	}

	metadata, err := c.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}

	c.metadata = metadata
	return metadata, nil
}

func (c *Client) fetchMetadata(ctx context.Context) (*Metadata, error) {
	const operation = "fetching portal metadata"

	c.logger.Info("fetching portal metadata", "url", c.metadataURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metadataURL, nil)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, operation+": build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, operation+": portal unreachable", err)
	}
	defer resp.Body.Close()

	// Any non-200 here is an infrastructure problem: no credential is in play
	// yet, so the rejection statuses mean nothing at this hop.
	if resp.StatusCode != http.StatusOK {
		return nil, perrors.Unavailable(resp.StatusCode, operation)
	}

	var metadata Metadata
	if err := decodeResponse(resp.Body, operation, &metadata); err != nil {
		return nil, err
	}

	if err := validateMetadata(&metadata); err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, operation+": invalid discovery document", err)
	}

	return &metadata, nil
}

func validateMetadata(metadata *Metadata) error {
	if metadata.Issuer == "" {
		return fmt.Errorf("missing issuer")
	}
	if metadata.TokenEndpoint == "" {
		return fmt.Errorf("missing token_endpoint")
	}
	if metadata.UserinfoEndpoint == "" {
		return fmt.Errorf("missing userinfo_endpoint")
	}
	return nil
}

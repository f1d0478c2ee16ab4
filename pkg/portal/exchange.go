package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// exchange trades a refresh token for an access token at the portal's token
// endpoint. The portal expects the client id in the form body, not in a basic
// auth header.
func (c *Client) exchange(ctx context.Context, tokenEndpoint string, refreshToken string) (*oauth2.Token, error) {
	const operation = "exchanging tokens"

	c.logger.V(1).Info("exchanging tokens", "credential", perrors.Mask(refreshToken))

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, operation+": build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, operation+": portal unreachable", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, operation, refreshToken); err != nil {
		return nil, err
	}

	var tokens tokenResponse
	if err := decodeResponse(resp.Body, operation, &tokens); err != nil {
		return nil, err
	}

	if tokens.AccessToken == "" {
		return nil, &perrors.Error{
			Code:       perrors.CodeUnavailable,
			StatusCode: resp.StatusCode,
			Message:    operation + ": portal returned an empty access_token",
		}
	}

	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}

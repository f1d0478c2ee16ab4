package portal

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

type userInfo struct {
	UserAccount string `json:"userAccount"`
}

type role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsScope     bool   `json:"isScope"`
}

// rolesResponse is the portal's envelope: the role list rides in "body".
type rolesResponse struct {
	Body []role `json:"body"`
}

// userInfo fetches the authenticated user's account identifier from the
// userinfo endpoint using the exchanged access token.
func (c *Client) userInfo(ctx context.Context, userinfoEndpoint string, token *oauth2.Token) (*userInfo, error) {
	const operation = "retrieving user information"

	c.logger.V(1).Info("fetching user information")

	var user userInfo
	if err := c.bearerGet(ctx, userinfoEndpoint, operation, token, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

// userRoles fetches the user's role grants from the roles sub-resource of the
// userinfo endpoint.
func (c *Client) userRoles(ctx context.Context, userinfoEndpoint string, token *oauth2.Token) ([]role, error) {
	const operation = "retrieving user roles"

	c.logger.V(1).Info("fetching user roles")

	var roles rolesResponse
	if err := c.bearerGet(ctx, userinfoEndpoint+"/roles", operation, token, &roles); err != nil {
		return nil, err
	}

	return roles.Body, nil
}

func (c *Client) bearerGet(ctx context.Context, endpoint string, operation string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, operation+": build request", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, operation+": portal unreachable", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, operation, token.AccessToken); err != nil {
		return err
	}

	return decodeResponse(resp.Body, operation, out)
}

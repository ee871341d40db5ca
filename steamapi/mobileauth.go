package steamapi

import (
	"context"
	"net/url"

	"github.com/k64z/steamguard/steamerr"
)

// WGToken is the legacy web login token pair minted from an OAuth token.
type WGToken struct {
	Token       string `json:"token"`
	TokenSecure string `json:"token_secure"`
}

// GetWGToken exchanges a legacy OAuth token for fresh web login tokens.
// An expired or revoked OAuth token yields an error for which
// IsUnauthorized is true.
func (a *API) GetWGToken(ctx context.Context, oauthToken string) (*WGToken, error) {
	const op = "refresh oauth session"

	form := url.Values{}
	form.Set("access_token", oauthToken)

	body, err := a.postForm(ctx, op, apiBaseURL+"/IMobileAuthService/GetWGToken/v1/", form)
	if err != nil {
		return nil, err
	}

	var token WGToken
	if err := decodeResponse(op, body, &token); err != nil {
		return nil, err
	}
	if token.TokenSecure == "" {
		return nil, steamerr.Protocolf(op, "no token_secure in response")
	}
	return &token, nil
}

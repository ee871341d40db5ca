package steamapi

import (
	"context"
	"net/url"

	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamid"
)

// AuthenticatorStatus is the subset of ITwoFactorService/QueryStatus the
// confirmation flow needs.
type AuthenticatorStatus struct {
	State            int    `json:"state"`
	DeviceIdentifier string `json:"device_identifier"`
	TimeCreated      int64  `json:"time_created"`
}

// QueryStatus returns the Steam Guard mobile authenticator status of the
// account, including the device id confirmations must be sent with.
func (a *API) QueryStatus(ctx context.Context, accessToken string, steamID steamid.SteamID) (*AuthenticatorStatus, error) {
	const op = "query authenticator status"

	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("steamid", steamID.String())

	body, err := a.postForm(ctx, op, apiBaseURL+"/ITwoFactorService/QueryStatus/v1/", form)
	if err != nil {
		return nil, err
	}

	var status AuthenticatorStatus
	if err := decodeResponse(op, body, &status); err != nil {
		return nil, err
	}
	if status.DeviceIdentifier == "" {
		return nil, steamerr.Protocolf(op, "no device_identifier in response")
	}
	return &status, nil
}

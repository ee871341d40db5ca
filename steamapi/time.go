package steamapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/k64z/steamguard/steamerr"
)

// QueryTime fetches the current epoch from Steam servers.
// This endpoint doesn't require authentication.
func (a *API) QueryTime(ctx context.Context) (int64, error) {
	const op = "query steam time"

	resp := a.request(http.MethodPost, apiBaseURL+"/ITwoFactorService/QueryTime/v1/").DoContext(ctx)
	body, err := resultBody(op, resp)
	if err != nil {
		return 0, err
	}

	var result struct {
		ServerTime json.Number `json:"server_time"`
	}
	if err := decodeResponse(op, body, &result); err != nil {
		return 0, err
	}
	if result.ServerTime == "" {
		return 0, steamerr.Protocolf(op, "missing server_time")
	}

	serverTime, err := result.ServerTime.Int64()
	if err != nil {
		return 0, steamerr.Protocolf(op, "parse server time: %v", err)
	}
	return serverTime, nil
}

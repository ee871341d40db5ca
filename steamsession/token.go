package steamsession

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedToken = errors.New("malformed token")

var urlSafeToStd = strings.NewReplacer("-", "+", "_", "/")

// DecodeTokenPayloadUnverified returns the JSON payload of a JWT. The
// signature is not checked: the result is only good for scheduling, never
// for trust decisions.
func DecodeTokenPayloadUnverified(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil, ErrMalformedToken
	}

	payload := urlSafeToStd.Replace(parts[1])
	if n := len(payload) % 4; n != 0 {
		payload += strings.Repeat("=", 4-n)
	}

	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return b, nil
}

// PeekExpiryUnverified reads the exp claim of a JWT without verifying it.
// Steam remains the authority on whether the token is still valid.
func PeekExpiryUnverified(token string) (time.Time, error) {
	payload, err := DecodeTokenPayloadUnverified(token)
	if err != nil {
		return time.Time{}, err
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	return time.Unix(claims.Exp, 0), nil
}

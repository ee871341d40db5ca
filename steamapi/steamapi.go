// Package steamapi calls the api.steampowered.com services the Steam Guard
// flows need: time sync, credential login, token refresh and authenticator
// status.
package steamapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/k64z/rq"
	"github.com/k64z/steamguard/steamerr"
)

const apiBaseURL = "https://api.steampowered.com"

// API sends every call through one *http.Client, so the proxy, timeout and
// request spacing of a steamhttp client apply to all of them.
type API struct {
	httpClient *http.Client
}

type config struct {
	httpClient *http.Client
}

type Option func(options *config) error

func WithHTTPClient(httpClient *http.Client) Option {
	return func(options *config) error {
		if httpClient == nil {
			return errors.New("httpClient should be non-nil")
		}
		options.httpClient = httpClient
		return nil
	}
}

func New(opts ...Option) (*API, error) {
	var cfg config
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	a := &API{}

	if cfg.httpClient != nil {
		a.httpClient = cfg.httpClient
	} else {
		a.httpClient = http.DefaultClient
	}

	return a, nil
}

// HTTPError is a non-2xx answer from Steam.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsUnauthorized reports whether err carries a 401 from Steam, the
// authoritative signal that a token has expired or been revoked.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// statusError classifies a non-2xx status.
func statusError(op string, code int) error {
	err := &HTTPError{StatusCode: code}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return steamerr.Auth(op, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return steamerr.Transport(op, err)
	default:
		return steamerr.Protocol(op, err)
	}
}

// EResultError is a request Steam answered with a non-OK X-eresult header.
type EResultError struct {
	EResult string
}

func (e *EResultError) Error() string {
	return "eresult " + e.EResult
}

func (a *API) request(method, endpoint string) *rq.Request {
	return rq.New().Client(a.httpClient).Method(method).URL(endpoint)
}

// postForm sends a urlencoded POST and returns the body of a 2xx answer.
func (a *API) postForm(ctx context.Context, op, endpoint string, form url.Values) ([]byte, error) {
	resp := a.request(http.MethodPost, endpoint).BodyForm(form).DoContext(ctx)
	return resultBody(op, resp)
}

// responseBody classifies an rq response by status and returns its body.
func responseBody(op string, resp *rq.Response) ([]byte, error) {
	if resp.Error() != nil && resp.Response == nil {
		return nil, steamerr.Transport(op, fmt.Errorf("rq: %w", resp.Error()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(op, resp.StatusCode)
	}

	body, err := resp.Bytes()
	if err != nil {
		return nil, steamerr.Transport(op, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// resultBody is responseBody that also rejects a non-OK X-eresult header.
func resultBody(op string, resp *rq.Response) ([]byte, error) {
	body, err := responseBody(op, resp)
	if err != nil {
		return nil, err
	}
	if eresult := resp.Header.Get("X-eresult"); eresult != "" && eresult != "1" {
		return nil, steamerr.Protocol(op, &EResultError{EResult: eresult})
	}
	return body, nil
}

// decodeResponse unmarshals the {"response": {...}} envelope Steam Web API
// methods answer with.
func decodeResponse(op string, body []byte, v any) error {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	if len(envelope.Response) == 0 || string(envelope.Response) == "null" || string(envelope.Response) == "{}" {
		return steamerr.Protocolf(op, "empty response")
	}
	if err := json.Unmarshal(envelope.Response, v); err != nil {
		return steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

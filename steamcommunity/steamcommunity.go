// Package steamcommunity lists and answers Steam Guard mobile confirmations
// on steamcommunity.com.
//
// Every request is signed with a tag-specific hash of the identity secret
// and the offset-corrected Steam time:
//
//	c, _ := steamcommunity.New(sync, steamcommunity.WithHTTPClient(session.HTTPClient()))
//	err := c.AcceptConfirmation(ctx, auth, "6956216583")
//
// Authentication comes from the cookies the session installed in the
// client's jar; this package adds none of its own.
package steamcommunity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/k64z/rq"
	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamid"
	"github.com/k64z/steamguard/steamtotp"
)

const communityURL = "https://steamcommunity.com"

type Community struct {
	httpClient *http.Client
	timeSource steamtotp.TimeSource
	logger     *slog.Logger
	format     ListingFormat
}

type config struct {
	httpClient *http.Client
	logger     *slog.Logger
	format     ListingFormat
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

func WithLogger(logger *slog.Logger) Option {
	return func(options *config) error {
		if logger == nil {
			return errors.New("logger should be non-nil")
		}
		options.logger = logger
		return nil
	}
}

// WithListingFormat selects the listing endpoint. FormatJSON (getlist) is
// the default; FormatHTML scrapes the legacy conf page.
func WithListingFormat(format ListingFormat) Option {
	return func(options *config) error {
		switch format {
		case FormatJSON, FormatHTML:
			options.format = format
			return nil
		default:
			return fmt.Errorf("unknown listing format %d", format)
		}
	}
}

// New returns a Community that signs requests with Steam time taken from
// timeSource, usually a synced *steamtime.Sync.
func New(timeSource steamtotp.TimeSource, opts ...Option) (*Community, error) {
	if timeSource == nil {
		return nil, errors.New("timeSource should be non-nil")
	}

	cfg := config{format: FormatJSON}
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	c := &Community{
		timeSource: timeSource,
		format:     cfg.format,
	}

	if cfg.httpClient != nil {
		c.httpClient = cfg.httpClient
	} else {
		c.httpClient = http.DefaultClient
	}

	if cfg.logger != nil {
		c.logger = cfg.logger
	} else {
		c.logger = slog.Default()
	}

	return c, nil
}

// SteamIDFromCookies reads the account id out of the steamLoginSecure
// cookie the session installed for steamcommunity.com.
func SteamIDFromCookies(jar http.CookieJar) (steamid.SteamID, error) {
	if jar == nil {
		return 0, errors.New("no cookie jar")
	}

	u, _ := url.Parse(communityURL)
	for _, cookie := range jar.Cookies(u) {
		if cookie.Name == "steamLoginSecure" {
			t := strings.Split(cookie.Value, "%7C%7C") // URL encoded "||"
			if len(t) < 2 {
				return 0, errors.New("unsplittable steamLoginSecure cookie")
			}

			sid, err := steamid.FromString(t[0])
			if err != nil {
				return 0, fmt.Errorf("parse SteamID: %w", err)
			}

			return sid, nil
		}
	}

	return 0, errors.New("missing steamLoginSecure cookie")
}

// post sends a urlencoded body that is already in wire order.
func (c *Community) post(ctx context.Context, op, path, body string) ([]byte, error) {
	resp := rq.New().
		Client(c.httpClient).
		Method(http.MethodPost).
		URL(communityURL+path).
		BodyString(body).
		Header("Content-Type", "application/x-www-form-urlencoded").
		DoContext(ctx)

	return c.body(op, resp)
}

// get keeps query as given; rq only re-encodes params set through it.
func (c *Community) get(ctx context.Context, op, path, query string) ([]byte, error) {
	resp := rq.New().
		Client(c.httpClient).
		URL(communityURL + path + "?" + query).
		DoContext(ctx)

	return c.body(op, resp)
}

// body classifies a steamcommunity.com answer. Steam bounces a request
// with stale cookies to /login, either as a bare 302 or, when the client
// follows redirects, as the login page itself.
func (c *Community) body(op string, resp *rq.Response) ([]byte, error) {
	if resp.Response == nil {
		return nil, steamerr.Transport(op, resp.Error())
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, steamerr.Transport(op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, steamerr.Auth(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusFound:
		return nil, steamerr.Auth(op, fmt.Errorf("redirected to %s", resp.Header.Get("Location")))
	case onLoginPage(resp.Response):
		return nil, steamerr.Auth(op, fmt.Errorf("redirected to %s", resp.Request.URL.Path))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, steamerr.Transport(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, steamerr.Protocol(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	return body, nil
}

func onLoginPage(resp *http.Response) bool {
	return resp.Request != nil && strings.HasPrefix(resp.Request.URL.Path, "/login")
}

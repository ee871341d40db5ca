package steamsession

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	communityHost = "steamcommunity.com"

	// refreshAhead is how long before the exp claim a token counts as stale.
	refreshAhead = 5 * time.Minute
)

type skipRefreshKey struct{}

// bypassRefresh marks requests the session sends while logging in, so a
// stale session never refreshes in the middle of its own replacement.
func bypassRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey{}, true)
}

func skipsRefresh(req *http.Request) bool {
	return req.URL.Host != communityHost || req.Context().Value(skipRefreshKey{}) != nil
}

// authTransport keeps steamcommunity.com requests authenticated. Before a
// request it renews a token that is about to pass its exp claim; after a
// response that bounces to the login page it renews once and replays the
// request. Renewal talks to api.steampowered.com only, so it never passes
// back through this transport's refresh path.
type authTransport struct {
	base    http.RoundTripper
	session *Session

	mu     sync.Mutex
	expiry time.Time // zero disables the check before requests
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if skipsRefresh(req) {
		return t.base.RoundTrip(req)
	}

	if err := t.renewIfStale(req); err != nil {
		return nil, fmt.Errorf("auto-refresh access token: %w", err)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || !isLoginRedirect(resp) {
		return resp, err
	}
	return t.replay(req, resp)
}

func (t *authTransport) setExpiry(expiry time.Time) {
	t.mu.Lock()
	t.expiry = expiry
	t.mu.Unlock()
}

// staleLocked reports whether the token is inside the refresh window.
func (t *authTransport) staleLocked() bool {
	return !t.expiry.IsZero() && t.session.clock.Now().Add(refreshAhead).After(t.expiry)
}

// renewIfStale refreshes a token about to expire and puts the new cookies
// on req. Concurrent callers wait for the first one's refresh.
func (t *authTransport) renewIfStale(req *http.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.staleLocked() {
		return nil
	}
	if err := t.renewLocked(req.Context()); err != nil {
		return err
	}
	t.setCookies(req)
	return nil
}

// renewLocked refreshes whichever kind of token the session holds and
// rewrites the cookie jar. t.mu must be held.
func (t *authTransport) renewLocked(ctx context.Context) error {
	s := t.session

	refresh := s.Refresh
	if _, legacy := s.Legacy(); legacy {
		refresh = s.RefreshLegacy
	}
	if err := refresh(ctx); err != nil {
		return err
	}

	expiry, err := s.setWebCookies()
	if err != nil {
		return err
	}
	t.expiry = expiry
	return nil
}

// replay answers a login redirect: refresh, then send req again once. The
// redirect itself is returned when either step is not possible.
func (t *authTransport) replay(req *http.Request, redirect *http.Response) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		return redirect, nil
	}

	t.mu.Lock()
	err := t.renewLocked(req.Context())
	t.mu.Unlock()
	if err != nil {
		t.session.logger.Warn("refresh after login redirect", "steam_id", t.session.SteamID().String(), "error", err)
		return redirect, nil
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return redirect, nil
		}
		req.Body = body
	}

	redirect.Body.Close()
	t.setCookies(req)
	return t.base.RoundTrip(req)
}

// setCookies swaps the Cookie header of req for the jar's current cookies.
func (t *authTransport) setCookies(req *http.Request) {
	jar := t.session.httpClient.Jar
	if jar == nil {
		return
	}
	req.Header.Del("Cookie")
	for _, c := range jar.Cookies(req.URL) {
		req.AddCookie(c)
	}
}

// isLoginRedirect reports a 302 toward the login page, Steam's answer to a
// revoked web token.
func isLoginRedirect(resp *http.Response) bool {
	return resp.StatusCode == http.StatusFound && strings.Contains(resp.Header.Get("Location"), "/login")
}

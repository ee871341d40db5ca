package steamsession

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	communityURL = "https://steamcommunity.com"
	loginURL     = "https://login.steampowered.com"
)

// InstallWebCookies puts the session into the client's cookie jar:
// sessionid and steamLoginSecure for steamcommunity.com, and
// steamRefresh_steam for login.steampowered.com when a refresh token is
// held. It also wraps the client transport so the access token is
// refreshed before it runs out.
func (s *Session) InstallWebCookies() error {
	expiry, err := s.setWebCookies()
	if err != nil {
		return err
	}
	s.installAuthTransport(expiry)
	return nil
}

// setWebCookies writes the cookies and returns the access token expiry,
// zero when it cannot be read.
func (s *Session) setWebCookies() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.accessToken
	if token == "" && s.legacy != nil {
		token = s.legacy.LoginToken
	}
	if token == "" || s.steamID == 0 {
		return time.Time{}, errors.New("install web cookies: not logged in")
	}

	if s.sessionID == "" {
		s.sessionID = mustGenerateSessionID()
	}

	steamID64 := s.steamID.ToSteamID64()
	setCookies(s.httpClient.Jar, communityURL,
		webCookie("sessionid", s.sessionID),
		webCookie("steamLoginSecure", loginCookieValue(steamID64, token)),
	)
	if s.refreshToken != "" {
		setCookies(s.httpClient.Jar, loginURL,
			webCookie("steamRefresh_steam", loginCookieValue(steamID64, s.refreshToken)),
		)
	}

	// Legacy login tokens are not JWTs; those sessions only get the
	// reactive refresh.
	var expiry time.Time
	if s.accessToken != "" {
		if exp, err := PeekExpiryUnverified(s.accessToken); err == nil {
			expiry = exp
		}
	}
	return expiry, nil
}

// Logout forgets the tokens and removes the session cookies from the jar.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.refreshToken = ""
	s.legacy = nil
	s.state = StateLoggedOut

	setCookies(s.httpClient.Jar, communityURL, expired("sessionid"), expired("steamLoginSecure"))
	setCookies(s.httpClient.Jar, loginURL, expired("steamRefresh_steam"))
	s.sessionID = ""

	s.logger.Info("logout", "steam_id", s.steamID.String(), "state", StateLoggedOut.String())
}

func webCookie(name, value string) *http.Cookie {
	return &http.Cookie{Name: name, Value: value, Path: "/", Secure: true, HttpOnly: true}
}

func expired(name string) *http.Cookie {
	return &http.Cookie{Name: name, Path: "/", MaxAge: -1}
}

func setCookies(jar http.CookieJar, rawURL string, cookies ...*http.Cookie) {
	u, _ := url.Parse(rawURL)
	jar.SetCookies(u, cookies)
}

// loginCookieValue joins the SteamID and a token with an escaped "||".
func loginCookieValue(steamID64 uint64, token string) string {
	return fmt.Sprintf("%d%%7C%%7C%s", steamID64, token)
}

// installAuthTransport wraps the client transport once; later calls only
// move the expiry.
func (s *Session) installAuthTransport(expiry time.Time) {
	if at, ok := s.httpClient.Transport.(*authTransport); ok {
		at.setExpiry(expiry)
		return
	}

	base := s.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	s.httpClient.Transport = &authTransport{base: base, session: s, expiry: expiry}
}

// ExpireAuthTransportToken makes the next steamcommunity.com request
// refresh the token first. It does nothing before InstallWebCookies.
func (s *Session) ExpireAuthTransportToken() {
	if at, ok := s.httpClient.Transport.(*authTransport); ok {
		at.setExpiry(time.Unix(1, 0))
	}
}

// mustGenerateSessionID returns 12 random bytes as 24 hex characters, the
// shape of the sessionid cookie Steam itself sets.
func mustGenerateSessionID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto random source unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

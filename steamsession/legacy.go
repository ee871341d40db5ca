package steamsession

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/k64z/rq"
	"github.com/k64z/steamguard/steamapi"
	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamid"
)

const (
	legacyOAuthClientID = "DE45CD61"
	legacyOAuthScope    = "read_profile write_profile read_client write_client"
	noCaptcha           = "-1"
)

type legacyRSAKeyResp struct {
	Success   bool   `json:"success"`
	Mod       string `json:"publickey_mod"`
	Exp       string `json:"publickey_exp"` // hex
	Timestamp string `json:"timestamp"`
}

type doLoginResp struct {
	Success           bool        `json:"success"`
	RequiresTwoFactor bool        `json:"requires_twofactor"`
	CaptchaNeeded     bool        `json:"captcha_needed"`
	CaptchaGID        json.Number `json:"captcha_gid"`
	EmailAuthNeeded   bool        `json:"emailauth_needed"`
	EmailSteamID      string      `json:"emailsteamid"`
	Message           string      `json:"message"`
	OAuth             string      `json:"oauth"` // JSON document in a string
}

type legacyOAuth struct {
	SteamID       string `json:"steamid"`
	OAuthToken    string `json:"oauth_token"`
	WGTokenSecure string `json:"wgtoken_secure"`
}

// legacyAttempt carries the answers one dologin attempt sends.
type legacyAttempt struct {
	twoFactorCode string
	emailCode     string
	emailSteamID  string
	captchaGID    string
	captchaText   string
}

// LoginLegacy logs in through the retired /login/dologin/ form, answering
// CAPTCHA, email and two-factor challenges until Steam accepts or the
// attempt budget runs out. The result is an OAuth session refreshed with
// RefreshLegacy.
func (s *Session) LoginLegacy(ctx context.Context, username, password string) error {
	const op = "legacy login"

	if strings.TrimSpace(username) == "" {
		return ErrEmptyUsername
	}
	if strings.TrimSpace(password) == "" {
		return ErrEmptyPassword
	}

	steamID, tokens, err := s.loginLegacy(bypassRefresh(ctx), username, password)
	if err != nil {
		s.setState(StateLoggedOut)
		s.logger.Error(op, "account", username, "state", StateLoggedOut.String(), "error", err)
		return err
	}

	s.mu.Lock()
	s.steamID = steamID
	s.legacy = tokens
	s.accessToken = ""
	s.refreshToken = ""
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.logger.Info(op, "account", username, "steam_id", steamID.String(), "state", StateLoggedIn.String())
	return nil
}

func (s *Session) loginLegacy(ctx context.Context, username, password string) (steamid.SteamID, *LegacyTokens, error) {
	const op = "legacy login"

	var next legacyAttempt
	needsCode := s.sharedSecret != ""

	gid, err := s.refreshCaptcha(ctx)
	if err != nil {
		return 0, nil, err
	}
	if gid != noCaptcha {
		if next.captchaText, err = s.askCaptcha(gid); err != nil {
			return 0, nil, err
		}
	}
	next.captchaGID = gid

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if needsCode {
			if next.twoFactorCode, err = s.guardCode(steamapi.GuardTypeDeviceCode); err != nil {
				return 0, nil, fmt.Errorf("get guard code: %w", err)
			}
		}

		// Steam expects a fresh key for every attempt.
		key, timestamp, err := s.legacyRSAKey(ctx, username)
		if err != nil {
			return 0, nil, err
		}
		encryptedPassword, err := encryptPassword(password, key)
		if err != nil {
			return 0, nil, steamerr.Crypto("encrypt password", err)
		}

		resp, err := s.doLogin(ctx, username, encryptedPassword, timestamp, next)
		if err != nil {
			return 0, nil, err
		}

		switch {
		case resp.Success:
			return parseLegacyOAuth(resp.OAuth)
		case resp.RequiresTwoFactor:
			s.logger.Warn(op, "attempt", attempt, "outcome", "two-factor code required")
			needsCode = true
		case resp.CaptchaNeeded:
			s.logger.Warn(op, "attempt", attempt, "outcome", "captcha required")
			next.captchaGID = resp.CaptchaGID.String()
			if next.captchaGID == "" || next.captchaGID == noCaptcha {
				if next.captchaGID, err = s.refreshCaptcha(ctx); err != nil {
					return 0, nil, err
				}
			}
			if next.captchaText, err = s.askCaptcha(next.captchaGID); err != nil {
				return 0, nil, err
			}
		case resp.EmailAuthNeeded:
			s.logger.Warn(op, "attempt", attempt, "outcome", "email code required")
			next.emailSteamID = resp.EmailSteamID
			if next.emailCode, err = s.guardCode(steamapi.GuardTypeEmailCode); err != nil {
				return 0, nil, fmt.Errorf("get email code: %w", err)
			}
		case resp.Message != "":
			return 0, nil, steamerr.Auth(op, errors.New(resp.Message))
		default:
			return 0, nil, steamerr.Protocolf(op, "login unsuccessful")
		}
	}

	return 0, nil, steamerr.Auth(op, ErrTooManyAttempts)
}

func parseLegacyOAuth(raw string) (steamid.SteamID, *LegacyTokens, error) {
	const op = "legacy login"

	if raw == "" {
		return 0, nil, steamerr.Protocolf(op, "no oauth in response")
	}

	var oauth legacyOAuth
	if err := json.Unmarshal([]byte(raw), &oauth); err != nil {
		return 0, nil, steamerr.Protocol(op, fmt.Errorf("decode oauth: %w", err))
	}
	if oauth.OAuthToken == "" || oauth.WGTokenSecure == "" {
		return 0, nil, steamerr.Protocolf(op, "incomplete oauth")
	}

	steamID, err := steamid.FromString(oauth.SteamID)
	if err != nil {
		return 0, nil, steamerr.Protocol(op, fmt.Errorf("parse SteamID: %w", err))
	}

	return steamID, &LegacyTokens{OAuthToken: oauth.OAuthToken, LoginToken: oauth.WGTokenSecure}, nil
}

func (s *Session) legacyRSAKey(ctx context.Context, username string) (*rsa.PublicKey, string, error) {
	const op = "get RSA public key"

	form := url.Values{}
	form.Set("username", username)

	body, err := s.communityDo(ctx, op, http.MethodPost, "/login/getrsakey/", form)
	if err != nil {
		return nil, "", err
	}

	var result legacyRSAKeyResp
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	if !result.Success {
		return nil, "", steamerr.Protocolf(op, "request unsuccessful")
	}

	exp, err := strconv.ParseInt(result.Exp, 16, 64)
	if err != nil {
		return nil, "", steamerr.Protocol(op, fmt.Errorf("parse exponent: %w", err))
	}
	key, err := rsaPublicKey(result.Mod, exp)
	if err != nil {
		return nil, "", steamerr.Protocol(op, err)
	}
	return key, result.Timestamp, nil
}

// refreshCaptcha returns a new CAPTCHA gid, or "-1" when none is needed.
func (s *Session) refreshCaptcha(ctx context.Context) (string, error) {
	const op = "refresh captcha"

	body, err := s.communityDo(ctx, op, http.MethodGet, "/login/refreshcaptcha/", nil)
	if err != nil {
		return "", err
	}

	var result struct {
		GID json.Number `json:"gid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	if result.GID == "" {
		return noCaptcha, nil
	}
	return result.GID.String(), nil
}

// CaptchaURL is where the image for a CAPTCHA gid is rendered.
func CaptchaURL(gid string) string {
	return communityURL + "/login/rendercaptcha/?gid=" + url.QueryEscape(gid)
}

func (s *Session) askCaptcha(gid string) (string, error) {
	if s.prompter == nil {
		return "", steamerr.Auth("solve captcha", errors.New("captcha required and no prompter configured"))
	}
	answer, err := s.prompter.Visible("CAPTCHA at " + CaptchaURL(gid) + ": ")
	if err != nil {
		return "", fmt.Errorf("solve captcha: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (s *Session) doLogin(ctx context.Context, username, encryptedPassword, timestamp string, a legacyAttempt) (*doLoginResp, error) {
	const op = "legacy login"

	form := url.Values{}
	form.Set("oauth_client_id", legacyOAuthClientID)
	form.Set("oauth_scope", legacyOAuthScope)
	form.Set("remember_login", "true")
	form.Set("username", username)
	form.Set("password", encryptedPassword)
	form.Set("rsatimestamp", timestamp)
	form.Set("twofactorcode", a.twoFactorCode)
	form.Set("emailauth", a.emailCode)
	form.Set("emailsteamid", a.emailSteamID)
	form.Set("captchagid", a.captchaGID)
	form.Set("captcha_text", a.captchaText)

	body, err := s.communityDo(ctx, op, http.MethodPost, "/login/dologin/", form)
	if err != nil {
		return nil, err
	}

	var result doLoginResp
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	return &result, nil
}

// communityDo sends a login request to steamcommunity.com. POST bodies are
// urlencoded; the mobileClient cookie makes Steam issue mobile OAuth tokens.
func (s *Session) communityDo(ctx context.Context, op, method, path string, form url.Values) ([]byte, error) {
	r := rq.New().
		Client(s.httpClient).
		Method(method).
		URL(communityURL+path).
		Header("Cookie", "mobileClient=android")
	if method == http.MethodPost {
		r = r.BodyForm(form)
	}

	resp := r.DoContext(ctx)
	if resp.Response == nil {
		return nil, steamerr.Transport(op, resp.Error())
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, steamerr.Transport(op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusFound || redirected(resp.Response, path):
		return nil, steamerr.Auth(op, fmt.Errorf("redirected away from %s", path))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, steamerr.Transport(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, steamerr.Protocol(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return body, nil
}

// redirected reports a followed redirect that ended somewhere other than
// path.
func redirected(resp *http.Response, path string) bool {
	return resp.Request != nil && resp.Request.URL.Path != path
}

// RefreshLegacy trades the OAuth token for a new login token. A 401 moves
// the session to StateExpired and returns ErrSessionExpired.
func (s *Session) RefreshLegacy(ctx context.Context) error {
	const op = "refresh oauth session"

	s.mu.Lock()
	steamID, legacy := s.steamID, s.legacy
	s.mu.Unlock()

	if legacy == nil || legacy.OAuthToken == "" {
		return steamerr.Auth(op, errors.New("no oauth token"))
	}

	token, err := s.api.GetWGToken(ctx, legacy.OAuthToken)
	if steamapi.IsUnauthorized(err) {
		s.mu.Lock()
		s.state = StateExpired
		s.legacy = nil
		s.mu.Unlock()
		s.logger.Warn(op, "steam_id", steamID.String(), "state", StateExpired.String())
		return steamerr.Auth(op, fmt.Errorf("%w: %w", ErrSessionExpired, err))
	}
	if err != nil {
		s.logger.Error(op, "steam_id", steamID.String(), "error", err)
		return fmt.Errorf("get wg token: %w", err)
	}

	s.mu.Lock()
	s.legacy = &LegacyTokens{OAuthToken: legacy.OAuthToken, LoginToken: token.TokenSecure}
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.logger.Info(op, "steam_id", steamID.String(), "state", StateLoggedIn.String())
	return nil
}

// ResumeLegacy restores a dologin session from a stored OAuth token.
func (s *Session) ResumeLegacy(ctx context.Context, steamID steamid.SteamID, oauthToken string) error {
	if !steamID.IsIndividual() {
		return fmt.Errorf("resume legacy session: %w", steamid.ErrInvalidSteamID)
	}

	s.mu.Lock()
	s.steamID = steamID
	s.legacy = &LegacyTokens{OAuthToken: oauthToken}
	s.accessToken = ""
	s.refreshToken = ""
	s.mu.Unlock()

	return s.RefreshLegacy(ctx)
}

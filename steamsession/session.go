// Package steamsession logs an account in to Steam and keeps the web
// session alive for steamcommunity.com.
//
// A Session moves between four states:
//
//	LoggedOut -> AwaitingTwoFactor -> LoggedIn -> Expired
//
// Expired is reached only when Steam answers a refresh with 401; a new
// Login is the way out.
package steamsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/k64z/steamguard/prompt"
	"github.com/k64z/steamguard/steamapi"
	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamid"
	"github.com/k64z/steamguard/steamtime"
	"github.com/k64z/steamguard/steamtotp"
)

const defaultPollInterval = 5 * time.Second

type Session struct {
	httpClient *http.Client
	api        AuthAPI
	logger     *slog.Logger
	prompter   prompt.Prompter
	clock      steamtime.Clock
	wait       func(ctx context.Context, d time.Duration) error

	sharedSecret string
	timeSource   steamtotp.TimeSource
	maxAttempts  int
	platform     steamapi.PlatformType

	mu           sync.Mutex
	state        State
	steamID      steamid.SteamID
	accessToken  string
	refreshToken string
	legacy       *LegacyTokens
	sessionID    string
}

func New(opts ...Option) (*Session, error) {
	cfg := config{
		maxAttempts: DefaultMaxAttempts,
		platform:    steamapi.PlatformTypeMobileApp,
	}
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		wait:         sleep,
		api:          cfg.api,
		prompter:     cfg.prompter,
		sharedSecret: cfg.sharedSecret,
		timeSource:   cfg.timeSource,
		maxAttempts:  cfg.maxAttempts,
		platform:     cfg.platform,
	}

	if cfg.httpClient != nil {
		s.httpClient = cfg.httpClient
	} else {
		s.httpClient = &http.Client{}
	}

	// Ensure the HTTP client has a cookie jar for web authentication
	if s.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		s.httpClient.Jar = jar
	}

	if cfg.logger != nil {
		s.logger = cfg.logger
	} else {
		s.logger = slog.Default()
	}

	if cfg.clock != nil {
		s.clock = cfg.clock
	} else {
		s.clock = steamtime.Real()
	}

	if s.api == nil {
		api, err := steamapi.New(steamapi.WithHTTPClient(s.httpClient))
		if err != nil {
			return nil, fmt.Errorf("init SteamAPI: %w", err)
		}
		s.api = api
	}

	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SteamID() steamid.SteamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steamID
}

func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// Legacy returns the dologin tokens, or false for a JWT session.
func (s *Session) Legacy() (LegacyTokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.legacy == nil {
		return LegacyTokens{}, false
	}
	return *s.legacy, true
}

// HTTPClient returns the session's underlying HTTP client.
// After InstallWebCookies, its cookie jar holds all session state needed
// to construct a steamcommunity.Community.
func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Login runs the IAuthenticationService flow: encrypt the password, begin
// the auth session, answer the guard challenge and poll for tokens.
func (s *Session) Login(ctx context.Context, username, password string) error {
	const op = "login"

	if strings.TrimSpace(username) == "" {
		return ErrEmptyUsername
	}
	if strings.TrimSpace(password) == "" {
		return ErrEmptyPassword
	}

	tokens, steamID, err := s.login(ctx, username, password)
	if err != nil {
		s.setState(StateLoggedOut)
		s.logger.Error(op, "account", username, "state", StateLoggedOut.String(), "error", err)
		return err
	}

	s.mu.Lock()
	s.steamID = steamID
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.legacy = nil
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.logger.Info(op, "account", username, "steam_id", steamID.String(), "state", StateLoggedIn.String())
	return nil
}

func (s *Session) login(ctx context.Context, username, password string) (*steamapi.PollAuthSessionResponse, steamid.SteamID, error) {
	rsaKey, err := s.api.GetPasswordRSAPublicKey(ctx, username)
	if err != nil {
		return nil, 0, fmt.Errorf("get RSA public key: %w", err)
	}

	pubkey, err := rsaPublicKey(rsaKey.Mod, rsaKey.Exp)
	if err != nil {
		return nil, 0, steamerr.Crypto("encrypt password", err)
	}
	encryptedPassword, err := encryptPassword(password, pubkey)
	if err != nil {
		return nil, 0, steamerr.Crypto("encrypt password", err)
	}

	details := detailsFor(s.platform)
	authSession, err := s.api.BeginAuthSessionViaCredentials(ctx, &steamapi.BeginAuthSessionRequest{
		DeviceFriendlyName:  details.friendlyName,
		AccountName:         username,
		EncryptedPassword:   encryptedPassword,
		EncryptionTimestamp: rsaKey.Timestamp,
		RememberLogin:       true,
		PlatformType:        s.platform,
		Persistence:         steamapi.SessionPersistencePersistent,
		WebsiteID:           details.websiteID,
		Language:            DefaultLanguageCode,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("begin session: %w", err)
	}

	guard, err := chooseGuard(authSession.AllowedConfirmations)
	if err != nil {
		return nil, 0, err
	}
	if guard != steamapi.GuardTypeNone {
		s.setState(StateAwaitingTwoFactor)
	}

	tokens, err := s.confirmGuard(ctx, authSession, guard)
	if err != nil {
		return nil, 0, err
	}
	return tokens, steamid.SteamID(authSession.SteamID), nil
}

// chooseGuard picks the challenge to answer. Codes are preferred over
// out-of-band confirmations since they need no second device.
func chooseGuard(allowed []steamapi.GuardType) (steamapi.GuardType, error) {
	preference := []steamapi.GuardType{
		steamapi.GuardTypeNone,
		steamapi.GuardTypeDeviceCode,
		steamapi.GuardTypeEmailCode,
		steamapi.GuardTypeDeviceConfirmation,
		steamapi.GuardTypeEmailConfirmation,
	}
	for _, want := range preference {
		for _, got := range allowed {
			if got == want {
				return want, nil
			}
		}
	}
	return steamapi.GuardTypeUnknown, steamerr.Auth("choose guard", errors.New("no supported confirmation type"))
}

// confirmGuard answers the guard challenge and polls until Steam hands out
// tokens. Every rejected code and every pending poll use up one attempt.
func (s *Session) confirmGuard(ctx context.Context, authSession *steamapi.BeginAuthSessionResponse, guard steamapi.GuardType) (*steamapi.PollAuthSessionResponse, error) {
	const op = "confirm login"

	interval := time.Duration(float64(authSession.Interval) * float64(time.Second))
	if interval <= 0 {
		interval = defaultPollInterval
	}

	clientID := authSession.ClientID
	needsCode := guard == steamapi.GuardTypeDeviceCode || guard == steamapi.GuardTypeEmailCode

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if needsCode {
			code, err := s.guardCode(guard)
			if err != nil {
				return nil, fmt.Errorf("get guard code: %w", err)
			}

			err = s.api.UpdateAuthSessionWithSteamGuardCode(ctx, &steamapi.UpdateGuardCodeRequest{
				ClientID: clientID,
				SteamID:  authSession.SteamID,
				Code:     code,
				CodeType: guard,
			})
			if errors.Is(err, steamerr.ErrAuth) {
				s.logger.Warn("submit guard code", "guard", guard.String(), "attempt", attempt, "outcome", "rejected")
				if attempt == s.maxAttempts {
					break
				}
				if err := s.wait(ctx, s.retryDelay(guard, interval)); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("submit guard code: %w", err)
			}
			needsCode = false
		}

		resp, err := s.api.PollAuthSessionStatus(ctx, &steamapi.PollAuthSessionRequest{
			ClientID:  clientID,
			RequestID: authSession.RequestID,
		})
		switch {
		case err == nil && resp.AccessToken != "" && resp.RefreshToken != "":
			return resp, nil
		case err == nil:
			if resp.NewClientID != 0 {
				clientID = resp.NewClientID
			}
			s.logger.Debug("poll auth session", "attempt", attempt, "outcome", "pending")
		case errors.Is(err, steamerr.ErrTransport):
			s.logger.Warn("poll auth session", "attempt", attempt, "error", err)
		default:
			return nil, fmt.Errorf("poll auth session status: %w", err)
		}

		if attempt == s.maxAttempts {
			break
		}
		if err := s.wait(ctx, interval); err != nil {
			return nil, err
		}
	}

	return nil, steamerr.Auth(op, ErrTooManyAttempts)
}

// retryDelay is how long to hold off after a rejected code. A generated
// code only changes once its 30 second window is over.
func (s *Session) retryDelay(guard steamapi.GuardType, interval time.Duration) time.Duration {
	if guard != steamapi.GuardTypeDeviceCode || s.sharedSecret == "" {
		return interval
	}
	now, err := s.timeSource.SteamTime()
	if err != nil {
		return interval
	}
	return steamtotp.NextCodeAt(now).Sub(now)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// guardCode generates a device code from the shared secret when one is
// configured, and asks the prompter otherwise.
func (s *Session) guardCode(guard steamapi.GuardType) (string, error) {
	if guard == steamapi.GuardTypeDeviceCode && s.sharedSecret != "" {
		return steamtotp.GenerateAuthCode(s.sharedSecret, s.timeSource)
	}

	if s.prompter == nil {
		return "", steamerr.Auth("get guard code", fmt.Errorf("%s required and no prompter configured", guard))
	}

	label := "Steam Guard code: "
	if guard == steamapi.GuardTypeEmailCode {
		label = "Email code: "
	}
	code, err := s.prompter.Visible(label)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(code)), nil
}

// Refresh mints a new access token from the refresh token. A 401 moves the
// session to StateExpired and returns ErrSessionExpired.
func (s *Session) Refresh(ctx context.Context) error {
	const op = "refresh session"

	s.mu.Lock()
	steamID, refreshToken := s.steamID, s.refreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		return steamerr.Auth(op, errors.New("no refresh token"))
	}

	resp, err := s.api.GenerateAccessTokenForApp(ctx, &steamapi.AccessTokenRequest{
		RefreshToken: refreshToken,
		SteamID:      uint64(steamID),
	})
	if steamapi.IsUnauthorized(err) {
		s.expire()
		s.logger.Warn(op, "steam_id", steamID.String(), "state", StateExpired.String())
		return steamerr.Auth(op, fmt.Errorf("%w: %w", ErrSessionExpired, err))
	}
	if err != nil {
		s.logger.Error(op, "steam_id", steamID.String(), "error", err)
		return fmt.Errorf("generate access token: %w", err)
	}

	s.mu.Lock()
	s.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
	}
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.logger.Info(op, "steam_id", steamID.String(), "state", StateLoggedIn.String())
	return nil
}

// Resume restores a session from a stored refresh token. A token whose
// exp claim has already passed is rejected without a round trip; anything
// else is left to Steam to judge.
func (s *Session) Resume(ctx context.Context, steamID steamid.SteamID, refreshToken string) error {
	const op = "resume session"

	if !steamID.IsIndividual() {
		return fmt.Errorf("resume session: %w", steamid.ErrInvalidSteamID)
	}

	exp, err := PeekExpiryUnverified(refreshToken)
	if err != nil {
		s.logger.Debug(op, "steam_id", steamID.String(), "expiry", "unreadable")
	} else if !s.clock.Now().Before(exp) {
		s.expire()
		s.logger.Warn(op, "steam_id", steamID.String(), "expired_at", exp, "state", StateExpired.String())
		return steamerr.Auth(op, ErrSessionExpired)
	}

	s.mu.Lock()
	s.steamID = steamID
	s.refreshToken = refreshToken
	s.accessToken = ""
	s.legacy = nil
	s.mu.Unlock()

	return s.Refresh(ctx)
}

func (s *Session) expire() {
	s.mu.Lock()
	s.state = StateExpired
	s.accessToken = ""
	s.mu.Unlock()
}

package steamsession

import (
	"context"
	"errors"
	"log/slog"

	"github.com/k64z/steamguard/steamapi"
)

var (
	ErrEmptyUsername = errors.New("account name cannot be empty")
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrSessionExpired means Steam refused the stored refresh or OAuth
	// token. Only a new login recovers; it always comes with steamerr.ErrAuth.
	ErrSessionExpired = errors.New("session expired")

	// ErrTooManyAttempts means the guard code or CAPTCHA budget ran out.
	ErrTooManyAttempts = errors.New("too many attempts")
)

type State int

const (
	StateLoggedOut State = iota
	StateAwaitingTwoFactor
	StateLoggedIn
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAwaitingTwoFactor:
		return "awaiting two-factor"
	case StateLoggedIn:
		return "logged in"
	case StateExpired:
		return "expired"
	default:
		return "logged out"
	}
}

// AuthAPI is the subset of the Steam Web API a session drives.
// *steamapi.API implements it.
type AuthAPI interface {
	GetPasswordRSAPublicKey(ctx context.Context, accountName string) (*steamapi.RSAPublicKey, error)
	BeginAuthSessionViaCredentials(ctx context.Context, req *steamapi.BeginAuthSessionRequest) (*steamapi.BeginAuthSessionResponse, error)
	UpdateAuthSessionWithSteamGuardCode(ctx context.Context, req *steamapi.UpdateGuardCodeRequest) error
	PollAuthSessionStatus(ctx context.Context, req *steamapi.PollAuthSessionRequest) (*steamapi.PollAuthSessionResponse, error)
	GenerateAccessTokenForApp(ctx context.Context, req *steamapi.AccessTokenRequest) (*steamapi.AccessTokenResponse, error)
	GetWGToken(ctx context.Context, oauthToken string) (*steamapi.WGToken, error)
}

// LegacyTokens come from the dologin flow. LoginToken is the
// wgtoken_secure half of the steamLoginSecure cookie.
type LegacyTokens struct {
	OAuthToken string
	LoginToken string
}

func (LegacyTokens) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

package steamsession

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/k64z/steamguard/prompt"
	"github.com/k64z/steamguard/steamapi"
	"github.com/k64z/steamguard/steamtime"
	"github.com/k64z/steamguard/steamtotp"
)

const DefaultMaxAttempts = 3

type config struct {
	httpClient   *http.Client
	api          AuthAPI
	logger       *slog.Logger
	prompter     prompt.Prompter
	clock        steamtime.Clock
	sharedSecret string
	timeSource   steamtotp.TimeSource
	maxAttempts  int
	platform     steamapi.PlatformType
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

// WithAPI replaces the Steam Web API client, mostly for tests.
func WithAPI(api AuthAPI) Option {
	return func(options *config) error {
		if api == nil {
			return errors.New("api should be non-nil")
		}
		options.api = api
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

// WithPrompter is asked for guard codes, email codes and CAPTCHA answers
// the session cannot produce itself.
func WithPrompter(prompter prompt.Prompter) Option {
	return func(options *config) error {
		if prompter == nil {
			return errors.New("prompter should be non-nil")
		}
		options.prompter = prompter
		return nil
	}
}

// WithSharedSecret lets the session generate device codes on its own,
// timed by timeSource.
func WithSharedSecret(sharedSecret string, timeSource steamtotp.TimeSource) Option {
	return func(options *config) error {
		if sharedSecret == "" {
			return errors.New("sharedSecret should be non-empty")
		}
		if timeSource == nil {
			return errors.New("timeSource should be non-nil")
		}
		options.sharedSecret = sharedSecret
		options.timeSource = timeSource
		return nil
	}
}

// WithMaxAttempts bounds the guard code and CAPTCHA retries of one login.
func WithMaxAttempts(n int) Option {
	return func(options *config) error {
		if n < 1 {
			return errors.New("max attempts should be positive")
		}
		options.maxAttempts = n
		return nil
	}
}

func WithPlatformType(platform steamapi.PlatformType) Option {
	return func(options *config) error {
		switch platform {
		case steamapi.PlatformTypeSteamClient, steamapi.PlatformTypeWebBrowser, steamapi.PlatformTypeMobileApp:
			options.platform = platform
			return nil
		default:
			return errors.New("unknown platform type")
		}
	}
}

func WithClock(clock steamtime.Clock) Option {
	return func(options *config) error {
		if clock == nil {
			return errors.New("clock should be non-nil")
		}
		options.clock = clock
		return nil
	}
}

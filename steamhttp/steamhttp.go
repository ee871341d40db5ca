// Package steamhttp builds the HTTP client shared by every Steam call of a
// process: one cookie jar, a request timeout, an optional proxy and a
// minimum spacing between requests.
package steamhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 20 * time.Second
	DefaultRequestInterval = time.Second
)

// Limiter enforces a minimum interval between requests. A nil *Limiter
// never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows one request per interval. A non-positive interval
// disables the gate.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// limitedTransport waits on the limiter before every round trip.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}
	return t.base.RoundTrip(req)
}

type config struct {
	timeout   time.Duration
	proxy     string
	limiter   *Limiter
	transport http.RoundTripper
}

type Option func(options *config) error

func WithTimeout(timeout time.Duration) Option {
	return func(options *config) error {
		if timeout <= 0 {
			return errors.New("timeout should be positive")
		}
		options.timeout = timeout
		return nil
	}
}

// WithProxy routes every request through the given proxy URL.
func WithProxy(proxy string) Option {
	return func(options *config) error {
		options.proxy = proxy
		return nil
	}
}

func WithLimiter(limiter *Limiter) Option {
	return func(options *config) error {
		if limiter == nil {
			return errors.New("limiter should be non-nil")
		}
		options.limiter = limiter
		return nil
	}
}

// WithTransport replaces the base transport. The proxy option is ignored
// when a custom transport is set.
func WithTransport(transport http.RoundTripper) Option {
	return func(options *config) error {
		if transport == nil {
			return errors.New("transport should be non-nil")
		}
		options.transport = transport
		return nil
	}
}

// NewClient returns a client with a fresh cookie jar whose transport waits
// on the limiter before each request.
func NewClient(opts ...Option) (*http.Client, error) {
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.limiter == nil {
		cfg.limiter = NewLimiter(DefaultRequestInterval)
	}

	base := cfg.transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.proxy != "" {
			u, err := url.Parse(cfg.proxy)
			if err != nil {
				return nil, fmt.Errorf("parse proxy: %w", err)
			}
			if u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("parse proxy: %q is not an absolute URL", cfg.proxy)
			}
			t.Proxy = http.ProxyURL(u)
		}
		base = t
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &http.Client{
		Jar:       jar,
		Timeout:   cfg.timeout,
		Transport: &limitedTransport{base: base, limiter: cfg.limiter},
	}, nil
}

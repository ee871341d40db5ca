// Package steamtime keeps the offset between the local clock and Steam's
// server clock. Every Steam Guard code and confirmation hash is derived from
// the offset-corrected time returned by Sync.SteamTime.
package steamtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotSynced is returned by SteamTime before the first successful sync.
var ErrNotSynced = errors.New("steam time not synced")

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

// ServerTimeQuerier returns Steam's current epoch in seconds.
// steamapi.API satisfies it.
type ServerTimeQuerier interface {
	QueryTime(ctx context.Context) (int64, error)
}

// Sync is a single-writer, many-reader holder of the clock offset.
type Sync struct {
	querier ServerTimeQuerier
	clock   Clock
	logger  *slog.Logger

	mu     sync.RWMutex
	offset int64
	synced bool
}

type config struct {
	clock  Clock
	logger *slog.Logger
}

type Option func(options *config) error

func WithClock(clock Clock) Option {
	return func(options *config) error {
		if clock == nil {
			return errors.New("clock should be non-nil")
		}
		options.clock = clock
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

func New(querier ServerTimeQuerier, opts ...Option) (*Sync, error) {
	if querier == nil {
		return nil, errors.New("querier should be non-nil")
	}

	cfg := config{
		clock:  Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Sync{
		querier: querier,
		clock:   cfg.clock,
		logger:  cfg.logger,
	}, nil
}

// NewFixed returns a Sync that is already synced to offset and never
// contacts Steam. A nil clock means the real clock.
func NewFixed(offset int64, clock Clock) *Sync {
	if clock == nil {
		clock = Real()
	}
	return &Sync{
		clock:  clock,
		logger: slog.Default(),
		offset: offset,
		synced: true,
	}
}

// Sync queries Steam once and stores offset = serverEpoch - localEpoch.
// There is no retry; a failure leaves any previous offset in place.
func (s *Sync) Sync(ctx context.Context) (int64, error) {
	if s.querier == nil {
		offset, _ := s.Offset()
		return offset, nil
	}

	serverTime, err := s.querier.QueryTime(ctx)
	if err != nil {
		s.logger.Error("sync steam time", "error", err)
		return 0, fmt.Errorf("query server time: %w", err)
	}

	offset := serverTime - s.clock.Now().Unix()

	s.mu.Lock()
	s.offset = offset
	s.synced = true
	s.mu.Unlock()

	s.logger.Info("sync steam time", "offset", offset)
	return offset, nil
}

// Offset returns the stored offset in seconds and whether a sync happened.
func (s *Sync) Offset() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.synced
}

// SteamTime returns local time shifted by the synced offset.
func (s *Sync) SteamTime() (time.Time, error) {
	offset, ok := s.Offset()
	if !ok {
		return time.Time{}, ErrNotSynced
	}
	return s.clock.Now().Add(time.Duration(offset) * time.Second), nil
}

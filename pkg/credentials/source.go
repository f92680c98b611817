package credentials

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Source hands out the live channel's bearer token. Implementations are
// read-only and never block for long.
type Source interface {
	Credential() (string, bool)
}

type staticSource string

func Static(token string) Source {
	return staticSource(token)
}

func (s staticSource) Credential() (string, bool) {
	return string(s), s != ""
}

type envSource string

// Env reads the token from an environment variable on every call, so a
// rotated value is picked up by the next reconnect.
func Env(name string) Source {
	return envSource(name)
}

func (e envSource) Credential() (string, bool) {
	if e == "" {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(string(e)))
	return v, v != ""
}

type storeSource struct {
	store   *Store
	name    string
	timeout time.Duration
	logger  *slog.Logger
}

func FromStore(store *Store, name string, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &storeSource{store: store, name: name, timeout: 2 * time.Second, logger: logger}
}

func (s *storeSource) Credential() (string, bool) {
	if s.store == nil || s.name == "" {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.store.Get(ctx, s.name)
	if err != nil {
		s.logger.Debug("credential lookup failed",
			slog.String("name", s.name),
			slog.String("err", err.Error()),
		)
		return "", false
	}
	return v, v != ""
}

type chain []Source

// Chain returns the first credential any source yields.
func Chain(sources ...Source) Source {
	var c chain
	for _, s := range sources {
		if s != nil {
			c = append(c, s)
		}
	}
	return c
}

func (c chain) Credential() (string, bool) {
	for _, s := range c {
		if v, ok := s.Credential(); ok {
			return v, true
		}
	}
	return "", false
}

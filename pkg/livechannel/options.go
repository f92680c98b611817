package livechannel

import (
	"log/slog"
	"time"
)

type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventRetryScheduled    EventKind = "retry_scheduled"
	EventRetriesExhausted  EventKind = "retries_exhausted"
	EventDecodeFailed      EventKind = "decode_failed"
	EventSendRejected      EventKind = "send_rejected"
	EventCredentialMissing EventKind = "credential_missing"
)

// Event describes a lifecycle change. Observers are called outside the
// channel lock, in the order the changes happened.
type Event struct {
	Kind     EventKind
	State    State
	Previous State
	Attempt  int
	Err      string
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	AutoConnect   bool
	MaxRetries    int
	RetryInterval time.Duration
	TokenParam    string
	OnMessage     func(msg any)
	OnEvent       func(ev Event)
	Dialer        Dialer
	Clock         Clock
	Logger        *slog.Logger
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		AutoConnect:   true,
		MaxRetries:    DefaultMaxRetries,
		RetryInterval: DefaultRetryInterval,
		TokenParam:    DefaultTokenParam,
		Clock:         realClock{},
		Logger:        slog.Default(),
	}
}

func WithAutoConnect(enabled bool) Option {
	return func(o *Options) { o.AutoConnect = enabled }
}

func WithMaxRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

func WithRetryInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RetryInterval = d
		}
	}
}

func WithTokenParam(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.TokenParam = name
		}
	}
}

// WithOnMessage registers the callback invoked once per decoded inbound
// message, in arrival order.
func WithOnMessage(fn func(msg any)) Option {
	return func(o *Options) { o.OnMessage = fn }
}

func WithOnEvent(fn func(ev Event)) Option {
	return func(o *Options) { o.OnEvent = fn }
}

func WithDialer(d Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

func WithClock(c Clock) Option {
	return func(o *Options) {
		if c != nil {
			o.Clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

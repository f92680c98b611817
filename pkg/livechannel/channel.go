package livechannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

const (
	StatusNormalClosure   = 1000
	StatusAbnormalClosure = 1006

	disconnectReason = "client disconnect"
)

const (
	DefaultMaxRetries    = 5
	DefaultRetryInterval = 3 * time.Second
	DefaultTokenParam    = "token"
)

var (
	ErrNotOpen       = errors.New("livechannel: channel is not open")
	ErrNoCredential  = errors.New("no authentication credential available")
	ErrEmptyEndpoint = errors.New("livechannel: endpoint must not be empty")
)

// CredentialSource yields the bearer token used to authenticate the channel.
// It must be synchronous and free of side effects.
type CredentialSource interface {
	Credential() (string, bool)
}

type CredentialFunc func() (string, bool)

func (f CredentialFunc) Credential() (string, bool) { return f() }

// Reactions is the table of transport events a Transport reports back.
// OnClose fires at most once per transport, and nothing fires after it.
type Reactions interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnError(err error)
}

// Dialer opens a transport without blocking; the outcome is delivered
// through r.
type Dialer interface {
	Dial(target string, r Reactions) Transport
}

type Transport interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

type Status struct {
	State       State     `json:"state"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	LastMessage any       `json:"last_message"`
	LastError   string    `json:"last_error,omitempty"`
	Endpoint    string    `json:"endpoint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// state groups everything mutated by reactions; guarded by Channel.mu.
type state struct {
	current     State
	retries     int
	lastMessage any
	lastError   string
	updatedAt   time.Time
}

type Channel struct {
	endpoint string
	creds    CredentialSource
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	st       state
	conn     *attempt
	retry    *pendingRetry
	torndown bool
}

// attempt binds one transport to the channel. Reactions from an attempt
// that is no longer current are ignored.
type attempt struct {
	ch          *Channel
	transport   Transport
	intentional bool
	opened      bool
	done        bool
}

type pendingRetry struct {
	timer Timer
}

func New(endpoint string, creds CredentialSource, opts ...Option) (*Channel, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("livechannel: parsing endpoint: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Dialer == nil {
		o.Dialer = NewWebSocketDialer(WebSocketOptions{Logger: o.Logger, TokenParam: o.TokenParam})
	}
	if creds == nil {
		creds = CredentialFunc(func() (string, bool) { return "", false })
	}

	c := &Channel{
		endpoint: endpoint,
		creds:    creds,
		opts:     o,
		logger:   o.Logger.With(slog.String("endpoint", endpoint)),
		st:       state{current: StateClosed, updatedAt: o.Clock.Now()},
	}
	telemetry.Metrics.ChannelState.WithLabelValues(endpoint, string(StateClosed)).Set(1)

	if o.AutoConnect {
		c.Connect()
	}
	return c, nil
}

// Connect opens a new transport. It is a no-op while a transport is
// connecting or open; while closing, the old transport is detached.
func (c *Channel) Connect() {
	cred := c.readCredential()
	c.mu.Lock()
	c.torndown = false
	c.cancelRetryLocked()
	events := c.connectLocked("manual", cred)
	c.mu.Unlock()
	c.emit(events)
}

// credential is read before c.mu is taken; sources may block on I/O.
type credential struct {
	token string
	ok    bool
}

func (c *Channel) readCredential() credential {
	token, ok := c.creds.Credential()
	return credential{token: token, ok: ok && token != ""}
}

func (c *Channel) connectLocked(trigger string, cred credential) []Event {
	if c.conn != nil && !c.conn.intentional {
		switch c.st.current {
		case StateConnecting, StateOpen:
			c.logger.Debug("connect ignored, transport already active",
				slog.String("state", string(c.st.current)))
			return nil
		}
	}

	if !cred.ok {
		c.st.lastError = ErrNoCredential.Error()
		c.st.updatedAt = c.opts.Clock.Now()
		c.logger.Warn("live channel not connecting", slog.String("err", ErrNoCredential.Error()))
		return []Event{{Kind: EventCredentialMissing, State: c.st.current, Err: c.st.lastError}}
	}

	target, err := buildTarget(c.endpoint, c.opts.TokenParam, cred.token)
	if err != nil {
		c.st.lastError = err.Error()
		c.st.updatedAt = c.opts.Clock.Now()
		c.logger.Error("live channel not connecting", slog.String("err", err.Error()))
		return nil
	}

	if c.conn != nil {
		c.conn.done = true
	}
	a := &attempt{ch: c}
	c.conn = a
	events := c.setStateLocked(StateConnecting)
	telemetry.Metrics.ConnectAttempts.WithLabelValues(trigger).Inc()
	c.logger.Info("live channel connecting", slog.String("trigger", trigger), slog.Int("retry", c.st.retries))

	// Dial must not call back synchronously while we hold the lock; the
	// WebSocket dialer always reports from its own goroutine.
	a.transport = c.opts.Dialer.Dial(target, a)
	return events
}

// Disconnect cancels any pending retry and closes the transport with a
// normal closure. No automatic reconnect follows.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.torndown = true
	c.cancelRetryLocked()

	a := c.conn
	if a == nil || a.done || a.intentional {
		c.mu.Unlock()
		return
	}
	a.intentional = true
	events := c.setStateLocked(StateClosing)
	c.mu.Unlock()

	c.emit(events)
	c.logger.Info("live channel disconnecting")
	if a.transport != nil {
		if err := a.transport.Close(StatusNormalClosure, disconnectReason); err != nil {
			c.logger.Debug("closing transport", slog.String("err", err.Error()))
		}
	}
}

// Close tears the channel down; it is the scope-exit form of Disconnect.
func (c *Channel) Close() error {
	c.Disconnect()
	return nil
}

// Send encodes msg as JSON and writes it. Messages sent while the channel
// is not open are dropped.
func (c *Channel) Send(msg any) error {
	c.mu.Lock()
	current := c.st.current
	var tr Transport
	if c.conn != nil {
		tr = c.conn.transport
	}
	c.mu.Unlock()

	if current != StateOpen || tr == nil {
		c.logger.Warn("live channel send rejected", slog.String("state", string(current)))
		telemetry.Metrics.Sends.WithLabelValues("rejected").Inc()
		c.emit([]Event{{Kind: EventSendRejected, State: current}})
		return ErrNotOpen
	}

	data, err := json.Marshal(msg)
	if err != nil {
		telemetry.Metrics.Sends.WithLabelValues("error").Inc()
		return fmt.Errorf("livechannel: encoding message: %w", err)
	}
	if err := tr.Send(data); err != nil {
		telemetry.Metrics.Sends.WithLabelValues("error").Inc()
		return fmt.Errorf("livechannel: sending message: %w", err)
	}
	telemetry.Metrics.Sends.WithLabelValues("ok").Inc()
	return nil
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.st.current,
		RetryCount:  c.st.retries,
		MaxRetries:  c.opts.MaxRetries,
		LastMessage: c.st.lastMessage,
		LastError:   c.st.lastError,
		Endpoint:    c.endpoint,
		UpdatedAt:   c.st.updatedAt,
	}
}

func (c *Channel) State() State      { return c.Status().State }
func (c *Channel) RetryCount() int   { return c.Status().RetryCount }
func (c *Channel) LastMessage() any  { return c.Status().LastMessage }
func (c *Channel) LastError() string { return c.Status().LastError }

// stale reports whether open, message and error reactions from a are
// dropped. After Disconnect only OnClose still applies. Callers hold c.mu.
func (a *attempt) stale() bool {
	return a.ch.conn != a || a.done || a.intentional
}

func (a *attempt) OnOpen() {
	c := a.ch
	c.mu.Lock()
	if a.stale() {
		c.mu.Unlock()
		return
	}
	a.opened = true
	c.st.lastError = ""
	c.st.retries = 0
	events := c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.logger.Info("live channel open")
	c.emit(events)
}

func (a *attempt) OnMessage(data []byte) {
	c := a.ch
	c.mu.Lock()
	if a.stale() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var msg any
	if err := json.Unmarshal(data, &msg); err != nil {
		telemetry.Metrics.DecodeFailures.Inc()
		c.logger.Warn("live channel message decode failed",
			slog.String("err", err.Error()),
			slog.Int("bytes", len(data)),
		)
		c.emit([]Event{{Kind: EventDecodeFailed, Err: err.Error()}})
		return
	}

	c.mu.Lock()
	if a.stale() {
		c.mu.Unlock()
		return
	}
	c.st.lastMessage = msg
	c.st.updatedAt = c.opts.Clock.Now()
	c.mu.Unlock()

	telemetry.Metrics.MessagesReceived.Inc()
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

func (a *attempt) OnError(err error) {
	c := a.ch
	c.mu.Lock()
	if a.stale() {
		c.mu.Unlock()
		return
	}
	c.st.lastError = "transport error: " + err.Error()
	c.st.updatedAt = c.opts.Clock.Now()
	c.mu.Unlock()

	telemetry.Metrics.TransportErrors.Inc()
	c.logger.Warn("live channel transport error", slog.String("err", err.Error()))
}

func (a *attempt) OnClose(code int, reason string) {
	c := a.ch
	c.mu.Lock()
	if c.conn != a || a.done {
		c.mu.Unlock()
		return
	}
	a.done = true
	c.conn = nil
	events := c.setStateLocked(StateClosed)

	clean := a.intentional || code == StatusNormalClosure
	logger := c.logger.With(
		slog.Int("code", code),
		slog.String("reason", reason),
		slog.Bool("was_open", a.opened),
	)

	switch {
	case clean:
		logger.Info("live channel closed")
	case c.torndown:
		logger.Info("live channel closed after teardown")
	case c.st.retries < c.opts.MaxRetries:
		c.st.retries++
		attemptNo := c.st.retries
		c.scheduleRetryLocked()
		telemetry.Metrics.Retries.Inc()
		logger.Warn("live channel closed unexpectedly, scheduling reconnect",
			slog.Int("attempt", attemptNo),
			slog.Int("max_retries", c.opts.MaxRetries),
			slog.Duration("after", c.opts.RetryInterval),
		)
		events = append(events, Event{Kind: EventRetryScheduled, State: StateClosed, Attempt: attemptNo})
	default:
		telemetry.Metrics.RetriesExhausted.Inc()
		logger.Error("live channel closed, retries exhausted", slog.Int("max_retries", c.opts.MaxRetries))
		events = append(events, Event{Kind: EventRetriesExhausted, State: StateClosed, Attempt: c.st.retries})
	}
	c.mu.Unlock()

	c.emit(events)
}

func (c *Channel) scheduleRetryLocked() {
	c.cancelRetryLocked()
	p := &pendingRetry{}
	c.retry = p
	p.timer = c.opts.Clock.AfterFunc(c.opts.RetryInterval, func() { c.fireRetry(p) })
}

func (c *Channel) fireRetry(p *pendingRetry) {
	c.mu.Lock()
	live := c.retry == p && !c.torndown
	c.mu.Unlock()
	if !live {
		return
	}

	cred := c.readCredential()
	c.mu.Lock()
	if c.retry != p || c.torndown {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	events := c.connectLocked("retry", cred)
	c.mu.Unlock()
	c.emit(events)
}

func (c *Channel) cancelRetryLocked() {
	if c.retry == nil {
		return
	}
	c.retry.timer.Stop()
	c.retry = nil
}

func (c *Channel) setStateLocked(s State) []Event {
	prev := c.st.current
	c.st.current = s
	c.st.updatedAt = c.opts.Clock.Now()
	if prev == s {
		return nil
	}
	telemetry.Metrics.ChannelState.WithLabelValues(c.endpoint, string(prev)).Set(0)
	telemetry.Metrics.ChannelState.WithLabelValues(c.endpoint, string(s)).Set(1)
	return []Event{{Kind: EventStateChanged, State: s, Previous: prev, Attempt: c.st.retries}}
}

func (c *Channel) emit(events []Event) {
	if c.opts.OnEvent == nil {
		return
	}
	for _, ev := range events {
		c.opts.OnEvent(ev)
	}
}

func buildTarget(endpoint, param, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("livechannel: parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact strips the credential query parameter from a target URL.
func Redact(target, param string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has(param) {
		q.Set(param, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

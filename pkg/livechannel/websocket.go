package livechannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultReadLimit        = 1 << 20
)

var errTransportNotReady = errors.New("livechannel: transport not connected")

type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	TokenParam       string
	Header           http.Header
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// WebSocketDialer is the production Dialer. Each Dial spawns one goroutine
// that performs the handshake and then reads frames until the connection
// ends.
type WebSocketDialer struct {
	opts WebSocketOptions
}

func NewWebSocketDialer(opts WebSocketOptions) *WebSocketDialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.TokenParam == "" {
		opts.TokenParam = DefaultTokenParam
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WebSocketDialer{opts: opts}
}

func (d *WebSocketDialer) Dial(target string, r Reactions) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		opts:   d.opts,
		r:      r,
		ctx:    ctx,
		cancel: cancel,
		logger: d.opts.Logger.With(slog.String("target", Redact(target, d.opts.TokenParam))),
	}
	go t.run(target)
	return t
}

type wsTransport struct {
	opts   WebSocketOptions
	r      Reactions
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	closing     bool
	closeCode   int
	closeReason string

	closeOnce sync.Once
}

func (t *wsTransport) run(target string) {
	defer t.cancel()

	ctx, span := telemetry.StartSpan(t.ctx, "livechannel.dial",
		attribute.String("live.target", Redact(target, t.opts.TokenParam)),
	)
	dialCtx, cancelDial := context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: t.opts.HTTPClient,
		HTTPHeader: t.opts.Header,
	})
	cancelDial()
	if err != nil {
		err = redactError(err, target, t.opts.TokenParam)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		span.End()

		if code, reason, ok := t.requestedClose(); ok {
			t.reportClose(code, reason)
			return
		}
		t.r.OnError(fmt.Errorf("dial: %w", err))
		t.reportClose(StatusAbnormalClosure, "dial failed")
		return
	}
	span.End()
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	if t.closing {
		code, reason := t.closeCode, t.closeReason
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusCode(code), reason)
		t.reportClose(code, reason)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.r.OnOpen()

	for {
		typ, data, err := conn.Read(t.ctx)
		if err != nil {
			t.handleReadError(err, target)
			return
		}
		if typ != websocket.MessageText {
			t.logger.Debug("binary frame on live channel", slog.Int("bytes", len(data)))
		}
		t.r.OnMessage(data)
	}
}

func (t *wsTransport) handleReadError(err error, target string) {
	code := websocket.CloseStatus(err)
	if code != -1 {
		var ce websocket.CloseError
		reason := ""
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		t.reportClose(int(code), reason)
		return
	}

	if reqCode, reason, ok := t.requestedClose(); ok {
		t.reportClose(reqCode, reason)
		return
	}
	t.r.OnError(redactError(err, target, t.opts.TokenParam))
	t.reportClose(StatusAbnormalClosure, "connection lost")
}

func (t *wsTransport) requestedClose() (int, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason, t.closing
}

func (t *wsTransport) reportClose(code int, reason string) {
	t.closeOnce.Do(func() {
		t.r.OnClose(code, reason)
	})
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closing := t.closing
	t.mu.Unlock()

	if conn == nil || closing {
		return errTransportNotReady
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close starts the closing handshake and returns without waiting for it.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.closeCode = code
	t.closeReason = reason
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.cancel()
		return nil
	}

	go func() {
		if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
			t.logger.Debug("websocket close handshake", slog.String("err", err.Error()))
		}
	}()
	return nil
}

func redactError(err error, target, param string) error {
	u, perr := url.Parse(target)
	if perr != nil {
		return err
	}
	token := u.Query().Get(param)
	if token == "" {
		return err
	}
	msg := err.Error()
	redacted := strings.ReplaceAll(msg, url.QueryEscape(token), "REDACTED")
	redacted = strings.ReplaceAll(redacted, token, "REDACTED")
	if redacted == msg {
		return err
	}
	return errors.New(redacted)
}

package livechannel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

type closeInfo struct {
	code   int
	reason string
}

type recorder struct {
	opened   chan struct{}
	messages chan []byte
	errs     chan error
	closed   chan closeInfo
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		errs:     make(chan error, 4),
		closed:   make(chan closeInfo, 2),
	}
}

func (r *recorder) OnOpen()                         { r.opened <- struct{}{} }
func (r *recorder) OnMessage(data []byte)           { r.messages <- data }
func (r *recorder) OnError(err error)               { r.errs <- err }
func (r *recorder) OnClose(code int, reason string) { r.closed <- closeInfo{code, reason} }

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func testDialer() *WebSocketDialer {
	return NewWebSocketDialer(WebSocketOptions{
		HandshakeTimeout: 2 * time.Second,
		Logger:           telemetry.Discard(),
	})
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	gotToken := make(chan string, 1)
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`)); err != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- string(data)
		conn.Read(ctx)
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := testDialer().Dial(wsURL(srv, "/live?token=s3cret"), rec)

	waitFor(t, rec.opened, "open")
	if tok := waitFor(t, gotToken, "token"); tok != "s3cret" {
		t.Errorf("server saw token %q", tok)
	}
	if msg := waitFor(t, rec.messages, "message"); string(msg) != `{"type":"hello"}` {
		t.Errorf("message = %s", msg)
	}

	if err := tr.Send([]byte(`{"type":"ack"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := waitFor(t, received, "server receive"); got != `{"type":"ack"}` {
		t.Errorf("server received %s", got)
	}

	if err := tr.Close(StatusNormalClosure, "client disconnect"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ci := waitFor(t, rec.closed, "close"); ci.code != StatusNormalClosure {
		t.Errorf("close code = %d, want %d", ci.code, StatusNormalClosure)
	}
}

func TestWebSocketDialerAbruptServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.CloseNow()
	}))
	defer srv.Close()

	rec := newRecorder()
	testDialer().Dial(wsURL(srv, "/live"), rec)

	waitFor(t, rec.opened, "open")
	if ci := waitFor(t, rec.closed, "close"); ci.code != StatusAbnormalClosure {
		t.Errorf("close code = %d, want %d", ci.code, StatusAbnormalClosure)
	}
	waitFor(t, rec.errs, "error")
}

func TestWebSocketDialerServerCloseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer srv.Close()

	rec := newRecorder()
	testDialer().Dial(wsURL(srv, "/live"), rec)

	ci := waitFor(t, rec.closed, "close")
	if ci.code != int(websocket.StatusGoingAway) {
		t.Errorf("close code = %d, want %d", ci.code, websocket.StatusGoingAway)
	}
	if ci.reason != "restarting" {
		t.Errorf("close reason = %q, want restarting", ci.reason)
	}
}

func TestWebSocketDialerDialFailureRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := wsURL(srv, "/live?token=topsecret")
	srv.Close()

	rec := newRecorder()
	testDialer().Dial(target, rec)

	err := waitFor(t, rec.errs, "dial error")
	if strings.Contains(err.Error(), "topsecret") {
		t.Errorf("dial error leaks token: %v", err)
	}
	if ci := waitFor(t, rec.closed, "close"); ci.code != StatusAbnormalClosure {
		t.Errorf("close code = %d, want %d", ci.code, StatusAbnormalClosure)
	}
	select {
	case <-rec.opened:
		t.Error("open reported for failed dial")
	default:
	}
}

func TestWebSocketDialerSendBeforeOpen(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	rec := newRecorder()
	tr := testDialer().Dial(wsURL(srv, "/live"), rec)
	if err := tr.Send([]byte("{}")); err == nil {
		t.Error("Send before handshake succeeded")
	}
	tr.Close(StatusNormalClosure, "client disconnect")
	if ci := waitFor(t, rec.closed, "close"); ci.code != StatusNormalClosure {
		t.Errorf("close code = %d, want %d", ci.code, StatusNormalClosure)
	}
}

func TestChannelOverWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "abc" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"incident","zone":"old-town"}`))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan any, 4)
	ch, err := New(wsURL(srv, "/live"), CredentialFunc(func() (string, bool) { return "abc", true }),
		WithLogger(telemetry.Discard()),
		WithDialer(testDialer()),
		WithOnMessage(func(msg any) { got <- msg }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ch.Close()

	msg := waitFor(t, got, "decoded message")
	m, ok := msg.(map[string]any)
	if !ok || m["zone"] != "old-town" {
		t.Fatalf("message = %#v", msg)
	}
	if st := ch.State(); st != StateOpen {
		t.Fatalf("State = %q, want open", st)
	}

	if err := ch.Send(map[string]string{"type": "ack"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ch.Disconnect()
	deadline := time.Now().Add(5 * time.Second)
	for ch.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("State = %q, want closed", ch.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := ch.RetryCount(); n != 0 {
		t.Errorf("RetryCount = %d, want 0", n)
	}
}

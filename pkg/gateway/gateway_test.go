package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/relay"
	"github.com/igorsilveira/tourwatch/pkg/store"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

type fakeChannel struct {
	mu          sync.Mutex
	state       livechannel.State
	sent        []any
	sendErr     error
	connects    int
	disconnects int
}

func (f *fakeChannel) Status() livechannel.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return livechannel.Status{State: f.state, MaxRetries: 5, Endpoint: "wss://host/live"}
}

func (f *fakeChannel) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = livechannel.StateConnecting
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = livechannel.StateClosing
}

func (f *fakeChannel) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != livechannel.StateOpen {
		return livechannel.ErrNotOpen
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEvents struct {
	filter store.EventFilter
	events []store.Event
	err    error
}

func (f *fakeEvents) RecentEvents(_ context.Context, filter store.EventFilter) ([]store.Event, error) {
	f.filter = filter
	return f.events, f.err
}

type fakeAuditor struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeAuditor) Log(_ context.Context, eventType, _, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, eventType)
	return nil
}

func newTestGateway(ch *fakeChannel, opts ...func(*Config)) *Gateway {
	cfg := Config{
		Channel: ch,
		Events:  &fakeEvents{},
		Hub:     relay.New(8, telemetry.Discard()),
		Logger:  telemetry.Discard(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	g := newTestGateway(&fakeChannel{})
	rec := do(t, g.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzFollowsChannelState(t *testing.T) {
	ch := &fakeChannel{state: livechannel.StateClosed}
	g := newTestGateway(ch)

	if rec := do(t, g.Handler(), http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("closed: status = %d, want 503", rec.Code)
	}
	ch.state = livechannel.StateOpen
	if rec := do(t, g.Handler(), http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("open: status = %d, want 200", rec.Code)
	}
}

func TestLiveStatus(t *testing.T) {
	g := newTestGateway(&fakeChannel{state: livechannel.StateOpen})
	rec := do(t, g.Handler(), http.MethodGet, "/api/live", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st livechannel.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.State != livechannel.StateOpen || st.MaxRetries != 5 {
		t.Errorf("status = %+v", st)
	}
}

func TestConnectDisconnectAudited(t *testing.T) {
	ch := &fakeChannel{state: livechannel.StateClosed}
	aud := &fakeAuditor{}
	g := newTestGateway(ch, func(c *Config) { c.Audit = aud })

	if rec := do(t, g.Handler(), http.MethodPost, "/api/live/connect", "", nil); rec.Code != http.StatusAccepted {
		t.Errorf("connect status = %d", rec.Code)
	}
	if rec := do(t, g.Handler(), http.MethodPost, "/api/live/disconnect", "", nil); rec.Code != http.StatusAccepted {
		t.Errorf("disconnect status = %d", rec.Code)
	}
	if ch.connects != 1 || ch.disconnects != 1 {
		t.Errorf("connects=%d disconnects=%d", ch.connects, ch.disconnects)
	}
	if len(aud.types) != 2 || aud.types[0] != "manual_connect" || aud.types[1] != "manual_disconnect" {
		t.Errorf("audit = %v", aud.types)
	}
}

func TestLiveSend(t *testing.T) {
	tests := []struct {
		name    string
		state   livechannel.State
		sendErr error
		body    string
		want    int
	}{
		{"open", livechannel.StateOpen, nil, `{"type":"ack"}`, http.StatusOK},
		{"not open", livechannel.StateConnecting, nil, `{"type":"ack"}`, http.StatusConflict},
		{"bad json", livechannel.StateOpen, nil, `{`, http.StatusBadRequest},
		{"transport failure", livechannel.StateOpen, errors.New("broken pipe"), `{}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{state: tt.state, sendErr: tt.sendErr}
			g := newTestGateway(ch)
			rec := do(t, g.Handler(), http.MethodPost, "/api/live/send", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestEventsQuery(t *testing.T) {
	ev := &fakeEvents{events: []store.Event{{ID: "1", Kind: "incident", Payload: `{"type":"incident"}`}}}
	g := newTestGateway(&fakeChannel{}, func(c *Config) { c.Events = ev })

	rec := do(t, g.Handler(), http.MethodGet, "/api/events?kind=incident&limit=5&since=2026-03-01T00:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if ev.filter.Kind != "incident" || ev.filter.Limit != 5 || ev.filter.Since.IsZero() {
		t.Errorf("filter = %+v", ev.filter)
	}
	var got []store.Event
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("events = %+v", got)
	}

	for _, q := range []string{"limit=0", "limit=abc", "since=yesterday"} {
		if rec := do(t, g.Handler(), http.MethodGet, "/api/events?"+q, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	g := newTestGateway(&fakeChannel{}, func(c *Config) { c.AuthToken = "s3cret" })

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"no bearer prefix", map[string]string{"Authorization": "s3cret"}, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, g.Handler(), http.MethodGet, "/api/live", "", tt.header); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := do(t, g.Handler(), http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz behind auth: %d", rec.Code)
	}
}

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"", "127.0.0.1:18790"},
		{"loopback", "127.0.0.1:18790"},
		{"lan", "0.0.0.0:18790"},
		{"10.0.0.5", "10.0.0.5:18790"},
	}
	for _, tt := range tests {
		if got := resolveAddr(tt.bind, 18790); got != tt.want {
			t.Errorf("resolveAddr(%q) = %q, want %q", tt.bind, got, tt.want)
		}
	}
}

func TestWebSocketRelay(t *testing.T) {
	ch := &fakeChannel{state: livechannel.StateOpen}
	hub := relay.New(8, telemetry.Discard())
	g := newTestGateway(ch, func(c *Config) { c.Hub = hub })
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var hello relay.Frame
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("reading hello: %v", err)
	}
	if hello.Type != relay.FrameHello || hello.Session == "" {
		t.Fatalf("hello = %+v", hello)
	}

	hub.Publish(map[string]any{"type": "incident"})
	var f relay.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if f.Type != relay.FrameMessage {
		t.Errorf("frame = %+v", f)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "ack"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for ch.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dashboard frame never forwarded upstream")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHookHandler(t *testing.T) {
	body := []byte(`{"event":"checkin","source":"kiosk","payload":{"guest":7}}`)

	tests := []struct {
		name  string
		state livechannel.State
		sig   string
		body  []byte
		want  int
	}{
		{"forwarded", livechannel.StateOpen, Sign("k", body), body, http.StatusOK},
		{"bad signature", livechannel.StateOpen, "deadbeef", body, http.StatusUnauthorized},
		{"missing signature", livechannel.StateOpen, "", body, http.StatusUnauthorized},
		{"channel not open", livechannel.StateClosed, Sign("k", body), body, http.StatusConflict},
		{"no event", livechannel.StateOpen, Sign("k", []byte(`{}`)), []byte(`{}`), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{state: tt.state}
			hooks, err := NewHookHandler("k", ch, telemetry.Discard())
			if err != nil {
				t.Fatalf("NewHookHandler: %v", err)
			}
			g := newTestGateway(ch, func(c *Config) {
				c.AuthToken = "api-token"
				c.Webhooks = hooks
			})
			req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(tt.body))
			if tt.sig != "" {
				req.Header.Set(SignatureHeader, tt.sig)
			}
			rec := httptest.NewRecorder()
			g.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				msg, _ := ch.sent[0].(map[string]any)
				if msg["type"] != "checkin" || msg["source"] != "kiosk" {
					t.Errorf("forwarded = %#v", ch.sent[0])
				}
			}
		})
	}
}

func TestHookHandlerRequiresSecret(t *testing.T) {
	h, err := NewHookHandler("", &fakeChannel{state: livechannel.StateOpen}, telemetry.Discard())
	if !errors.Is(err, ErrNoWebhookSecret) {
		t.Fatalf("err = %v, want ErrNoWebhookSecret", err)
	}
	if h != nil {
		t.Fatal("handler returned without a secret")
	}
}

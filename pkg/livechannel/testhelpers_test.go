package livechannel

import (
	"sync"
	"testing"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

type fakeTransport struct {
	mu          sync.Mutex
	target      string
	r           Reactions
	sent        [][]byte
	closeCalls  int
	closeCode   int
	closeReason string
	sendErr     error
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []*fakeTransport
}

func (d *fakeDialer) Dial(target string, r Reactions) Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := &fakeTransport{target: target, r: r}
	d.dials = append(d.dials, tr)
	return tr
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) last(t *testing.T) *fakeTransport {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dials) == 0 {
		t.Fatal("no transport dialed")
	}
	return d.dials[len(d.dials)-1]
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest active timer, like the runtime would once its
// interval elapses.
func (c *fakeClock) fireNext(t *testing.T) *fakeTimer {
	t.Helper()
	p := c.pending()
	if len(p) == 0 {
		t.Fatal("no pending timer to fire")
	}
	timer := p[0]
	c.mu.Lock()
	timer.stopped = true
	c.now = c.now.Add(timer.d)
	c.mu.Unlock()
	timer.f()
	return timer
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	ch     *Channel
	dialer *fakeDialer
	clock  *fakeClock
	events *eventLog
	msgs   []any
}

func newHarness(t *testing.T, token string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		clock:  newFakeClock(),
		events: &eventLog{},
	}
	creds := CredentialFunc(func() (string, bool) { return token, token != "" })
	base := []Option{
		WithDialer(h.dialer),
		WithClock(h.clock),
		WithLogger(telemetry.Discard()),
		WithOnEvent(h.events.record),
		WithOnMessage(func(msg any) { h.msgs = append(h.msgs, msg) }),
	}
	ch, err := New("wss://host/live", creds, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ch = ch
	return h
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	if got := h.ch.State(); got != want {
		t.Fatalf("State = %q, want %q", got, want)
	}
}

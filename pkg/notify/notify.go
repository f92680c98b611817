package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

// Alert is the subset of a live message that is worth paging someone for.
type Alert struct {
	Kind     string
	Severity string
	Title    string
	Body     string
	Zone     string
	At       time.Time
}

// Text renders the alert as a plain chat message.
func (a Alert) Text() string {
	var b strings.Builder
	if a.Severity != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(a.Severity))
	}
	b.WriteString(a.Title)
	if a.Zone != "" {
		fmt.Fprintf(&b, " (%s)", a.Zone)
	}
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	return b.String()
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Extract turns a decoded live message into an alert when its "type" field
// is one of types. Matching is case-insensitive.
func Extract(msg any, types []string) (Alert, bool) {
	m, ok := msg.(map[string]any)
	if !ok {
		return Alert{}, false
	}
	kind, _ := m["type"].(string)
	if kind == "" || !contains(types, kind) {
		return Alert{}, false
	}

	a := Alert{
		Kind:     kind,
		Severity: firstString(m, "severity", "level"),
		Title:    firstString(m, "title", "summary"),
		Body:     firstString(m, "message", "body", "text"),
		Zone:     firstString(m, "zone", "location"),
		At:       time.Now().UTC(),
	}
	if a.Title == "" {
		a.Title = kind
	}
	if ts := firstString(m, "at", "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			a.At = t
		}
	}
	return a, true
}

func contains(types []string, kind string) bool {
	for _, t := range types {
		if strings.EqualFold(t, kind) {
			return true
		}
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type Dispatcher struct {
	notifiers []Notifier
	types     []string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewDispatcher(types []string, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		types:     types,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Handle forwards msg to every notifier if it is an alert. It reports
// whether msg matched and the joined delivery errors.
func (d *Dispatcher) Handle(ctx context.Context, msg any) (bool, error) {
	alert, ok := Extract(msg, d.types)
	if !ok || len(d.notifiers) == 0 {
		return ok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			telemetry.Metrics.AlertsForwarded.WithLabelValues(n.Name(), "error").Inc()
			d.logger.Warn("alert delivery failed",
				slog.String("notifier", n.Name()),
				slog.String("kind", alert.Kind),
				slog.String("err", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		telemetry.Metrics.AlertsForwarded.WithLabelValues(n.Name(), "ok").Inc()
	}
	return true, errors.Join(errs...)
}

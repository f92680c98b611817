package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/livechannel"
)

const recordTimeout = 2 * time.Second

// Recorder journals live channel lifecycle events. Its Record method fits
// livechannel.WithOnEvent.
type Recorder struct {
	log      *Logger
	endpoint string
	logger   *slog.Logger
}

func NewRecorder(l *Logger, endpoint string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: l, endpoint: endpoint, logger: logger}
}

func (r *Recorder) Record(ev livechannel.Event) {
	eventType := EventTypeFor(ev)
	if eventType == "" {
		return
	}

	detail := map[string]any{"state": ev.State}
	if ev.Previous != "" {
		detail["previous"] = ev.Previous
	}
	if ev.Attempt > 0 {
		detail["attempt"] = ev.Attempt
	}
	if ev.Err != "" {
		detail["error"] = ev.Err
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.log.Log(ctx, eventType, r.endpoint, "channel", detail); err != nil {
		r.logger.Warn("audit record failed",
			slog.String("event", eventType),
			slog.String("err", err.Error()),
		)
	}
}

// EventTypeFor maps a channel event to its journal type. Unknown kinds map
// to the empty string.
func EventTypeFor(ev livechannel.Event) string {
	switch ev.Kind {
	case livechannel.EventStateChanged:
		switch ev.State {
		case livechannel.StateConnecting:
			return EventChannelConnecting
		case livechannel.StateOpen:
			return EventChannelOpen
		case livechannel.StateClosing:
			return EventChannelClosing
		case livechannel.StateClosed:
			return EventChannelClosed
		}
	case livechannel.EventRetryScheduled:
		return EventChannelRetry
	case livechannel.EventRetriesExhausted:
		return EventChannelExhausted
	case livechannel.EventDecodeFailed:
		return EventDecodeFailed
	case livechannel.EventSendRejected:
		return EventSendRejected
	case livechannel.EventCredentialMissing:
		return EventCredMissing
	}
	return ""
}

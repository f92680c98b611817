package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/store"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

const DefaultQueueSize = 256

type EventAppender interface {
	AppendEvent(ctx context.Context, msg any, receivedAt time.Time) (*store.Event, error)
}

type Publisher interface {
	Publish(msg any)
}

type AlertHandler interface {
	Handle(ctx context.Context, msg any) (bool, error)
}

// MessageRouter takes decoded live messages off the transport goroutine
// and fans them out to the event store, the dashboard relay and alerting.
// Handle never blocks; a full queue drops the message.
type MessageRouter struct {
	queue  chan routed
	store  EventAppender
	relay  Publisher
	alerts AlertHandler
	logger *slog.Logger
}

type routed struct {
	msg any
	at  time.Time
}

type RouterConfig struct {
	QueueSize int
	Store     EventAppender
	Relay     Publisher
	Alerts    AlertHandler
	Logger    *slog.Logger
}

func NewMessageRouter(cfg RouterConfig) *MessageRouter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MessageRouter{
		queue:  make(chan routed, cfg.QueueSize),
		store:  cfg.Store,
		relay:  cfg.Relay,
		alerts: cfg.Alerts,
		logger: cfg.Logger,
	}
}

// Handle has the signature livechannel.WithOnMessage expects.
func (mr *MessageRouter) Handle(msg any) {
	select {
	case mr.queue <- routed{msg: msg, at: time.Now().UTC()}:
	default:
		mr.logger.Warn("message router queue full, dropping message",
			slog.String("kind", store.KindOf(msg)))
	}
}

// Start processes queued messages until ctx is done, then drains what is
// left.
func (mr *MessageRouter) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			mr.drain()
			return
		case m := <-mr.queue:
			mr.route(ctx, m)
		}
	}
}

func (mr *MessageRouter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case m := <-mr.queue:
			mr.route(ctx, m)
		default:
			return
		}
	}
}

func (mr *MessageRouter) route(ctx context.Context, m routed) {
	logger := mr.logger
	kind := store.KindOf(m.msg)

	if mr.store != nil {
		if _, err := mr.store.AppendEvent(ctx, m.msg, m.at); err != nil {
			logger.Error("storing live event",
				slog.String("kind", kind),
				slog.String("err", err.Error()),
			)
		} else {
			telemetry.Metrics.EventsStored.Inc()
		}
	}

	if mr.relay != nil {
		mr.relay.Publish(m.msg)
	}

	if mr.alerts != nil {
		matched, err := mr.alerts.Handle(ctx, m.msg)
		switch {
		case matched && err != nil:
			logger.Error("alert forwarding failed",
				slog.String("kind", kind),
				slog.String("err", err.Error()),
			)
		case matched:
			logger.Info("alert forwarded", slog.String("kind", kind))
		}
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/relay"
)

const wsWriteTimeout = 5 * time.Second

// handleWebSocket streams relay frames to a dashboard. Every JSON frame the
// dashboard sends is forwarded upstream through the live channel.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	client := g.hub.Register()
	if client == nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer g.hub.Unregister(client.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := g.logger.With(slog.String("client", client.ID))
	logger.Info("dashboard client connected")

	hello := relay.Frame{Type: relay.FrameHello, Session: client.ID, At: time.Now().UTC()}
	if g.channel != nil {
		hello.Data = g.channel.Status()
	}
	if err := writeFrame(ctx, conn, hello); err != nil {
		return
	}

	go func() {
		defer cancel()
		for {
			select {
			case f, ok := <-client.Send:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "relay stopped")
					return
				}
				if err := writeFrame(ctx, conn, f); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Info("dashboard client disconnected")
			default:
				if ctx.Err() == nil {
					logger.Warn("websocket read error", slog.String("err", err.Error()))
				}
			}
			return
		}

		var msg any
		if err := json.Unmarshal(data, &msg); err != nil {
			writeFrame(ctx, conn, relay.Frame{Type: relay.FrameError, Error: "invalid message format"})
			continue
		}
		if g.channel == nil {
			writeFrame(ctx, conn, relay.Frame{Type: relay.FrameError, Error: "live channel not configured"})
			continue
		}
		if err := g.channel.Send(msg); err != nil {
			reason := "send failed"
			if errors.Is(err, livechannel.ErrNotOpen) {
				reason = err.Error()
			}
			writeFrame(ctx, conn, relay.Frame{Type: relay.FrameError, Error: reason})
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f relay.Frame) error {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/relay"
	"github.com/igorsilveira/tourwatch/pkg/store"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LiveChannel is the part of *livechannel.Channel the gateway drives.
type LiveChannel interface {
	Status() livechannel.Status
	Connect()
	Disconnect()
	Send(msg any) error
}

type EventSource interface {
	RecentEvents(ctx context.Context, f store.EventFilter) ([]store.Event, error)
}

type Auditor interface {
	Log(ctx context.Context, eventType, endpoint, actor string, detail any) error
}

type Gateway struct {
	server    *http.Server
	router    *chi.Mux
	channel   LiveChannel
	events    EventSource
	hub       *relay.Hub
	audit     Auditor
	webhooks  http.Handler
	logger    *slog.Logger
	authToken string
}

type Config struct {
	Bind      string
	Port      int
	Channel   LiveChannel
	Events    EventSource
	Hub       *relay.Hub
	Audit     Auditor
	Webhooks  http.Handler
	Logger    *slog.Logger
	AuthToken string
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(countRequests)

	g := &Gateway{
		router:    r,
		channel:   cfg.Channel,
		events:    cfg.Events,
		hub:       cfg.Hub,
		audit:     cfg.Audit,
		webhooks:  cfg.Webhooks,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
	}

	g.registerRoutes()

	g.server = &http.Server{
		Addr:              resolveAddr(cfg.Bind, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return g
}

func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) Addr() string { return g.server.Addr }

func (g *Gateway) registerRoutes() {
	g.router.Get("/healthz", g.handleHealthz)
	g.router.Get("/readyz", g.handleReadyz)
	g.router.Handle("/metrics", promhttp.Handler())

	g.router.Group(func(r chi.Router) {
		if g.authToken != "" {
			r.Use(g.authMiddleware)
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/live", g.handleLiveStatus)
			r.Post("/live/connect", g.handleLiveConnect)
			r.Post("/live/disconnect", g.handleLiveDisconnect)
			r.Post("/live/send", g.handleLiveSend)
			r.Get("/events", g.handleEvents)
		})
		if g.hub != nil {
			r.Get("/ws", g.handleWebSocket)
		}
	})

	// Webhooks carry their own HMAC signature instead of the bearer token.
	if g.webhooks != nil {
		g.router.Post("/hooks", g.webhooks.ServeHTTP)
	}
}

func (g *Gateway) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("gateway listening", slog.String("addr", g.server.Addr))

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) shutdown() error {
	g.logger.Info("gateway shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only while the live channel is open.
func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if g.channel == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no channel"})
		return
	}
	st := g.channel.Status()
	if st.State != livechannel.StateOpen {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(st.State)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (g *Gateway) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	if !g.requireChannel(w) {
		return
	}
	writeJSON(w, http.StatusOK, g.channel.Status())
}

func (g *Gateway) handleLiveConnect(w http.ResponseWriter, r *http.Request) {
	if !g.requireChannel(w) {
		return
	}
	g.channel.Connect()
	g.record(r.Context(), "manual_connect")
	writeJSON(w, http.StatusAccepted, g.channel.Status())
}

func (g *Gateway) handleLiveDisconnect(w http.ResponseWriter, r *http.Request) {
	if !g.requireChannel(w) {
		return
	}
	g.channel.Disconnect()
	g.record(r.Context(), "manual_disconnect")
	writeJSON(w, http.StatusAccepted, g.channel.Status())
}

func (g *Gateway) handleLiveSend(w http.ResponseWriter, r *http.Request) {
	if !g.requireChannel(w) {
		return
	}

	var msg any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := g.channel.Send(msg); err != nil {
		if errors.Is(err, livechannel.ErrNotOpen) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		g.logger.Error("live send failed", slog.String("err", err.Error()))
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}

	f := store.EventFilter{Kind: r.URL.Query().Get("kind"), Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = t
	}

	events, err := g.events.RecentEvents(r.Context(), f)
	if err != nil {
		g.logger.Error("listing events", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "listing events failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (g *Gateway) requireChannel(w http.ResponseWriter) bool {
	if g.channel == nil {
		writeError(w, http.StatusServiceUnavailable, "live channel not configured")
		return false
	}
	return true
}

func (g *Gateway) record(ctx context.Context, eventType string) {
	if g.audit == nil {
		return
	}
	st := g.channel.Status()
	if err := g.audit.Log(ctx, eventType, st.Endpoint, "gateway", map[string]any{"state": st.State}); err != nil {
		g.logger.Warn("audit log failed", slog.String("err", err.Error()))
	}
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != g.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		telemetry.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func resolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

const SignatureHeader = "X-Tourwatch-Signature"

type HookPayload struct {
	Event   string          `json:"event"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

type Sender interface {
	Send(msg any) error
}

// HookHandler accepts signed webhooks from third-party systems and relays
// them upstream as {"type": event, "source": ..., "payload": ...}.
type HookHandler struct {
	secret  string
	channel Sender
	logger  *slog.Logger
}

var ErrNoWebhookSecret = errors.New("gateway: webhook secret is required")

func NewHookHandler(secret string, channel Sender, logger *slog.Logger) (*HookHandler, error) {
	if secret == "" {
		return nil, ErrNoWebhookSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HookHandler{secret: secret, channel: channel, logger: logger}, nil
}

func (h *HookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "failed to read body", "bad_body")
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.reject(w, http.StatusUnauthorized, "invalid signature", "bad_signature")
		return
	}

	var p HookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Event == "" {
		h.reject(w, http.StatusBadRequest, "invalid payload", "bad_payload")
		return
	}

	h.logger.Info("webhook received",
		slog.String("event", p.Event),
		slog.String("source", p.Source),
	)

	msg := map[string]any{"type": p.Event, "source": p.Source}
	if len(p.Payload) > 0 {
		msg["payload"] = p.Payload
	}
	if err := h.channel.Send(msg); err != nil {
		if errors.Is(err, livechannel.ErrNotOpen) {
			h.reject(w, http.StatusConflict, err.Error(), "not_open")
			return
		}
		h.logger.Error("webhook forward failed",
			slog.String("event", p.Event),
			slog.String("err", err.Error()),
		)
		h.reject(w, http.StatusBadGateway, "forward failed", "error")
		return
	}

	telemetry.Metrics.WebhooksReceived.WithLabelValues("forwarded").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "forwarded"})
}

func (h *HookHandler) reject(w http.ResponseWriter, status int, msg, outcome string) {
	telemetry.Metrics.WebhooksReceived.WithLabelValues(outcome).Inc()
	writeError(w, status, msg)
}

// Sign returns the hex HMAC-SHA256 of body, the value expected in
// SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

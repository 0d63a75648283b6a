package livestatus

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"livewatch/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	headerWebhookToken = "X-Webhook-Token"
	headerSignature    = "X-Hub-Signature-256"
	headerControlToken = "X-Control-Token"
	headerLeaseExpires = "X-Lease-Expires"
)

const maxNotificationBytes = 1 << 20

// Handler exposes the tracker's HTTP endpoints using go-chi.
type Handler struct {
	svc      *Service
	notifier *Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler that uses the given Service, Notifier, Logger,
// and optional Metrics. Metrics may be nil to disable metric recording
// (e.g. in tests).
func NewHandler(svc *Service, notifier *Notifier, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		svc:      svc,
		notifier: notifier,
		log:      log,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts all tracker endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/webhook", h.Handshake)
	r.Post("/webhook", h.Notification)
	r.Post("/update", h.Update)
	r.Get("/status", h.Status)
	r.Post("/flush", h.Flush)
	r.Get("/", h.WebSocket)
	r.Get("/ws", h.WebSocket)
}

// Handshake handles GET /webhook: the hub's subscription verification.
// Success echoes the challenge as a plain-text body.
func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.svc.VerifyHandshake(HandshakeParams{
		Mode:         q.Get("hub.mode"),
		Topic:        q.Get("hub.topic"),
		Challenge:    q.Get("hub.challenge"),
		VerifyToken:  q.Get("hub.verify_token"),
		LeaseSeconds: q.Get("hub.lease_seconds"),
	})
	if err != nil {
		h.log.Info("handshake rejected",
			slog.String("mode", q.Get("hub.mode")),
			slog.String("topic", q.Get("hub.topic")),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Notification handles POST /webhook: an authenticated push from the hub.
// Unauthenticated pushes get 401; everything else is acknowledged with 204
// so the hub does not retry, even when the payload carried nothing
// actionable.
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.svc.Authenticate(r.Header.Get(headerWebhookToken), r.Header.Get(headerSignature), body) {
		h.log.Info("notification rejected", slog.String("reason", "authentication"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	h.svc.HandleNotification(r.Context(), body)
	if h.metrics != nil {
		h.metrics.IncNotifications()
	}
	w.WriteHeader(http.StatusNoContent)
}

// Update handles POST /update: a privileged direct set or clear.
// Body: { "videoId": "abc123" } or { "videoId": null }.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.svc.AuthorizeControl(r.Header.Get(headerControlToken)) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var req struct {
		VideoID *string `json:"videoId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid update body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	snap := h.svc.ApplyUpdate(req.VideoID)
	h.log.Info("state updated directly", slog.Bool("live", snap.Live))
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /status: poll the current snapshot. The lease expiry is
// exposed as a response header when known.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, leaseExp, ok := h.svc.Status()
	if ok {
		w.Header().Set(headerLeaseExpires, leaseExp.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, snap)
}

// Flush handles POST /flush: the rate-limited manual refresh.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Flush(r.Context())

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "rate limited",
			"retryAfter": secs,
		})
		return
	}

	if h.metrics != nil {
		h.metrics.IncFlushes()
	}
	switch {
	case errors.Is(err, ErrNoLiveVideo):
		writeJSON(w, http.StatusNotFound, snap)
	case errors.Is(err, ErrUpstream):
		writeJSON(w, http.StatusBadGateway, snap)
	case err != nil:
		h.log.Error("flush failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

// WebSocket handles GET / and GET /ws: upgrade to the real-time transport.
// The new listener receives the current snapshot immediately after the
// upgrade, before any broadcast can reach it.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.WriteHeader(http.StatusUpgradeRequired)
		w.Write([]byte("websocket upgrade required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.notifier.Attach(conn, h.svc.Snapshot)
}

// CORS is chi-compatible middleware that answers preflight requests and
// marks responses as cross-origin readable, so browser dashboards can poll
// the status endpoint from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerWebhookToken+", "+headerSignature+", "+headerControlToken)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

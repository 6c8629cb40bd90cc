// Package relayhttp is the HTTP edge of the relay. It serves the pairing
// page, issues OTPs, upgrades WebSocket connections, and feeds decoded
// frames into the routing engine. The handler owns transport concerns only;
// all session and routing state lives behind the engine.
package relayhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wirebeam/wirebeam/internal/engine"
	"github.com/wirebeam/wirebeam/internal/observability"
	"github.com/wirebeam/wirebeam/internal/registry"
	"github.com/wirebeam/wirebeam/sessions"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName    string
	logger        *slog.Logger
	staticDir     string
	templateDir   string
	graceDelay    time.Duration
	sweepInterval time.Duration
}

// WithServerName sets a human-readable server name surfaced on the index page.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the slog logger used by the handler and engine. If not
// provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithStaticDir serves the directory under /static/. Empty disables the route.
func WithStaticDir(dir string) Option {
	return func(c *newConfig) { c.staticDir = dir }
}

// WithTemplateDir loads index.html from dir and hot-reloads it on change.
// Empty falls back to the embedded page.
func WithTemplateDir(dir string) Option {
	return func(c *newConfig) { c.templateDir = dir }
}

// WithGraceDelay overrides the post-disconnect session removal delay.
func WithGraceDelay(d time.Duration) Option {
	return func(c *newConfig) { c.graceDelay = d }
}

// WithSweepInterval overrides the expiry supervisor tick interval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *newConfig) { c.sweepInterval = d }
}

// Handler is the relay's http.Handler.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	eng      *engine.Engine
	idx      *indexPage
	upgrader websocket.Upgrader
}

var _ http.Handler = (*Handler)(nil)

// New builds a Handler on top of store. The caller should also start the
// expiry supervisor via Run.
func New(store sessions.Store, opts ...Option) (*Handler, error) {
	cfg := &newConfig{serverName: "wirebeam"}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}

	engOpts := []engine.Option{engine.WithLogger(log)}
	if cfg.graceDelay > 0 {
		engOpts = append(engOpts, engine.WithGraceDelay(cfg.graceDelay))
	}
	if cfg.sweepInterval > 0 {
		engOpts = append(engOpts, engine.WithSweepInterval(cfg.sweepInterval))
	}
	reg := registry.New(registry.WithLogger(log))
	eng := engine.New(store, reg, engOpts...)

	idx, err := newIndexPage(cfg.templateDir, cfg.serverName, log)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		mux: http.NewServeMux(),
		log: log,
		eng: eng,
		idx: idx,
		upgrader: websocket.Upgrader{
			// Pairing is authorized by OTP possession, not by origin; browsers
			// on arbitrary pages must be able to reach the relay.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	observability.RegisterMetrics()

	h.mux.HandleFunc("GET /{$}", h.handleIndex)
	h.mux.HandleFunc("POST /generate_otp", h.handleGenerateOTP)
	h.mux.HandleFunc("GET /ws/{client_id}", h.handleWebSocket)
	h.mux.HandleFunc("GET /ws", h.handleWebSocket)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.staticDir != "" {
		h.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.staticDir))))
	}

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Run drives the expiry supervisor until ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	return h.eng.Run(ctx)
}

// Close releases background resources (template watcher).
func (h *Handler) Close() error {
	return h.idx.Close()
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.idx.render(w)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (h *Handler) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json")
		return
	}

	sess, err := h.eng.CreateSession(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "issue otp", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "could not issue a code")
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"otp":        sess.OTP,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		"message":    "OTP generated successfully. Share this with the recipient.",
	})
}

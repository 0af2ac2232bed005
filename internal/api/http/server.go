// Package apihttp exposes the transfer engine over a small JSON API plus a
// websocket push channel.
package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swarmhub/internal/app"
	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
)

// EngineAPI is the slice of the transfer engine the handlers use.
type EngineAPI interface {
	Running() bool
	Add(source, savePath string) (ports.Handle, error)
	Remove(fp domain.Fingerprint, deleteFiles bool)
	Handles() map[domain.Fingerprint]ports.Handle
	Statuses() []domain.TransferStatus
	SnapshotSessionStats() domain.SessionStats
	Settings() map[string]any
	ApplySettings(overrides map[string]any)
}

type TunerAPI interface {
	CurrentProfile() string
	ManualProfile() string
	SetManualProfile(name string)
}

type BottleneckSource interface {
	Bottlenecks() []domain.Bottleneck
}

type SettingsController interface {
	Get() app.AppSettings
	Update(settings app.AppSettings) error
}

type Server struct {
	engine      EngineAPI
	tuner       TunerAPI
	bottlenecks BottleneckSource
	settings    SettingsController
	downloadDir string
	logger      *slog.Logger
	handler     http.Handler
	wsHub       *wsHub

	rateLimitRPS   float64
	rateLimitBurst int
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithTuner(tuner TunerAPI) ServerOption {
	return func(s *Server) { s.tuner = tuner }
}

func WithBottleneckSource(src BottleneckSource) ServerOption {
	return func(s *Server) { s.bottlenecks = src }
}

func WithSettings(ctrl SettingsController) ServerOption {
	return func(s *Server) { s.settings = ctrl }
}

// WithDownloadDir sets the default save path for transfers added without one.
func WithDownloadDir(dir string) ServerOption {
	return func(s *Server) { s.downloadDir = dir }
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

func NewServer(engine EngineAPI, opts ...ServerOption) *Server {
	s := &Server{
		engine:         engine,
		rateLimitRPS:   50,
		rateLimitBurst: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/transfers", s.handleTransfers)
	mux.HandleFunc("/transfers/", s.handleTransferByFingerprint)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/bottlenecks", s.handleBottlenecks)
	mux.HandleFunc("/profile", s.handleProfile)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "swarmhub",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst,
			metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Close disconnects all websocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

// BroadcastUpdate pushes a stats and transfer list snapshot to all connected
// websocket clients. Wired as the monitor's broadcast hook.
func (s *Server) BroadcastUpdate(stats domain.SessionStats, statuses []domain.TransferStatus) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("stats", stats)
	s.wsHub.Broadcast("transfers", statuses)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// fingerprintFromPath extracts the fingerprint segment of /transfers/{fp} and
// /transfers/{fp}/{action} paths.
func fingerprintFromPath(path string) (domain.Fingerprint, string) {
	rest := strings.TrimPrefix(path, "/transfers/")
	parts := strings.SplitN(rest, "/", 2)
	fp := domain.CanonicalFingerprint(parts[0])
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return fp, action
}

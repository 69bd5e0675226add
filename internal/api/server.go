// Package api exposes the crowd monitoring server over REST, MJPEG
// streaming and WebSockets. Handlers translate the HTTP surface onto the
// stores and the pipeline coordinator; errors leave as {"detail": ...}
// bodies.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/crowdsight/crowdsight/internal/alerts"
	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/config"
	"github.com/crowdsight/crowdsight/internal/database"
	"github.com/crowdsight/crowdsight/internal/frames"
	"github.com/crowdsight/crowdsight/internal/match"
	"github.com/crowdsight/crowdsight/internal/metrics"
	"github.com/crowdsight/crowdsight/internal/models"
	"github.com/crowdsight/crowdsight/internal/pipeline"
	"github.com/crowdsight/crowdsight/internal/push"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// Deps carries the stores and services the handlers operate on.
type Deps struct {
	Config      *config.Config
	DB          *database.DB
	Cameras     *cameras.Store
	Zones       *zones.Store
	Alerts      *alerts.Store
	Analytics   *analytics.Store
	Movements   *match.Store
	Coordinator *pipeline.Coordinator
	Cache       *frames.Cache
	Hub         *push.Hub
	Collector   *metrics.Collector
	Version     string
}

// Server hosts the HTTP surface.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP surface over the given dependencies.
func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Server{
		deps:   deps,
		logger: slog.Default().With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// Edge nodes and dashboards connect from arbitrary hosts.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the full router.
func (s *Server) Routes() chi.Router {
	cfg := s.deps.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowedOrigins := cfg.Server.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Long-lived connections sit outside the request timeout.
	r.Get("/stream/{id}", s.streamCamera)
	r.Get("/ws/frames", s.wsFrames)
	r.Get("/ws/dashboard/{id}", s.wsDashboard)
	r.Get("/ws/alerts", s.wsAlerts)

	r.Group(func(r chi.Router) {
		timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.Use(middleware.Timeout(timeout))

		r.Get("/health", s.health)
		r.Method(http.MethodGet, "/metrics", s.deps.Collector.Handler())

		r.Route("/cameras", func(r chi.Router) {
			r.Post("/register", s.registerCamera)
			r.Get("/", s.listCameras)
			r.Get("/{id}", s.getCamera)
			r.Get("/{id}/snapshot", s.snapshot)
		})

		r.Post("/frames/upload", s.uploadFrame)

		r.Route("/analytics/{id}", func(r chi.Router) {
			r.Get("/realtime", s.realtimeAnalytics)
			r.Get("/history", s.analyticsHistory)
			r.Get("/heatmap", s.analyticsHeatmap)
			r.Get("/entry-exit", s.entryExit)
		})

		r.Route("/zones", func(r chi.Router) {
			r.Post("/", s.createZone)
			r.Get("/{id}", s.zonesForCamera)
			r.Put("/{id}", s.updateZone)
			r.Delete("/{id}", s.deleteZone)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/active", s.activeAlerts)
			r.Post("/{id}/acknowledge", s.acknowledgeAlert)
		})

		r.Route("/movements", func(r chi.Router) {
			r.Get("/", s.listMovements)
			r.Get("/statistics", s.movementStatistics)
			r.Get("/camera/{id}", s.movementsByCamera)
			r.Get("/pair/{a}/{b}", s.movementsBetween)
		})
	})

	return r
}

// health reports process liveness. A failing database ping or a camera
// whose pipeline went inactive degrades the status.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbState := "ok"
	if err := s.deps.DB.Health(r.Context()); err != nil {
		status = "degraded"
		dbState = "error"
	}
	if inactive, err := s.deps.Cameras.List(r.Context(), cameras.StatusInactive); err == nil && len(inactive) > 0 {
		status = "degraded"
	}

	OK(w, map[string]string{
		"status":    status,
		"version":   s.deps.Version,
		"db":        dbState,
		"timestamp": models.FormatTime(time.Now().UTC()),
	})
}

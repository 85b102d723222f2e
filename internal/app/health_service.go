package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/config"
	"github.com/dokzlo13/bulbd/internal/discovery"
	"github.com/dokzlo13/bulbd/internal/persist"
	"github.com/dokzlo13/bulbd/internal/render"
	"github.com/dokzlo13/bulbd/internal/scheduler"
)

// healthReport is the /health body.
type healthReport struct {
	Status    string                   `json:"status"`
	BridgeID  string                   `json:"bridge_id"`
	Scheduler scheduler.Stats          `json:"scheduler"`
	Render    render.Stats             `json:"render"`
	Saver     *persist.SaverStats      `json:"saver,omitempty"`
	SSDP      *discovery.Stats         `json:"ssdp,omitempty"`
	Socket    *discovery.ListenerStats `json:"ssdp_socket,omitempty"`
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg      *config.Config
	services *Services
	server   *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, services *Services) *HealthService {
	return &HealthService{
		cfg:      cfg,
		services: services,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *HealthService) report() healthReport {
	svc := s.services
	r := healthReport{
		Status:    "healthy",
		BridgeID:  svc.id.desc.BridgeID,
		Scheduler: svc.Scheduler.Stats(),
		Render:    svc.Render.Stats(),
	}
	if svc.Saver != nil {
		st := svc.Saver.Stats()
		r.Saver = &st
	}
	if svc.Responder != nil {
		st := svc.Responder.Stats()
		r.SSDP = &st
	}
	if svc.listener != nil {
		st := svc.listener.Stats()
		r.Socket = &st
	}
	return r
}

// Handler returns the health endpoints.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(s.report())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})

	// Ready once the scheduler is running both tasks
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.services.Scheduler.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

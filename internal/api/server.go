// Package api is the HTTP transport for the control service. Handlers only
// route and frame requests; every call is handed to the network task through
// a submit function and answered from its reply.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/control"
)

// MaxBody bounds request bodies.
const MaxBody = 4 << 10

// DefaultReplyTimeout bounds how long a handler waits for the network task.
const DefaultReplyTimeout = 2 * time.Second

// Submitter hands a call to the network task without blocking. It reports
// false when the task cannot take more work.
type Submitter func(*Call) bool

// Server serves the control API and the UPnP description document.
type Server struct {
	addr        string
	submit      Submitter
	description []byte
	timeout     time.Duration
	handler     http.Handler
	httpServer  *http.Server
}

// NewServer creates a server listening on host:port. description is the
// pre-rendered /description.xml document.
func NewServer(host string, port int, submit Submitter, description []byte, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	s := &Server{
		addr:        fmt.Sprintf("%s:%d", host, port),
		submit:      submit,
		description: description,
		timeout:     timeout,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api", s.call(control.OpCreateUser))
	mux.HandleFunc("POST /api/{$}", s.call(control.OpCreateUser))
	mux.HandleFunc("GET /api/config", s.call(control.OpPublicConfig))
	mux.HandleFunc("GET /api/{user}", s.call(control.OpFullState))
	mux.HandleFunc("GET /api/{user}/config", s.call(control.OpConfig))
	mux.HandleFunc("GET /api/{user}/lights", s.call(control.OpListLights))
	mux.HandleFunc("GET /api/{user}/lights/{id}", s.call(control.OpGetLight))
	mux.HandleFunc("PUT /api/{user}/lights/{id}/state", s.call(control.OpSetState))

	// Everything else under /api answers with the ecosystem's error 4.
	mux.HandleFunc("/api", s.call(control.OpUnsupported))
	mux.HandleFunc("/api/", s.call(control.OpUnsupported))

	mux.HandleFunc("GET /description.xml", s.handleDescription)
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) call(op control.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			status := http.StatusBadRequest
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected request body")
			write(w, control.ErrorResponse(status, control.InvalidJSON(apiAddress(r.URL.Path))))
			return
		}

		call := NewCall(control.Request{
			Op:     op,
			Method: r.Method,
			Path:   apiAddress(r.URL.Path),
			User:   r.PathValue("user"),
			Light:  r.PathValue("id"),
			Body:   body,
		})
		if !s.submit(call) {
			write(w, control.ErrorResponse(http.StatusServiceUnavailable, control.Busy(apiAddress(r.URL.Path))))
			return
		}

		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case resp := <-call.Done():
			s.logHandled(r, op, resp)
			write(w, resp)
		case <-timer.C:
			if call.Abandon() {
				log.Warn().Stringer("op", op).Dur("timeout", s.timeout).Msg("Network task did not reply in time")
				write(w, control.ErrorResponse(http.StatusServiceUnavailable, control.Busy(apiAddress(r.URL.Path))))
				return
			}
			// Already claimed: the change is being applied, so report its outcome.
			select {
			case resp := <-call.Done():
				s.logHandled(r, op, resp)
				write(w, resp)
			case <-r.Context().Done():
			}
		case <-r.Context().Done():
			call.Abandon()
		}
	}
}

func (s *Server) logHandled(r *http.Request, op control.Op, resp control.Response) {
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Stringer("op", op).
		Int("status", resp.Status).
		Bool("error", resp.Err != nil).
		Msg("Handled control request")
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(s.description)
}

func write(w http.ResponseWriter, resp control.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// apiAddress strips the /api prefix; error addresses are resource paths.
func apiAddress(path string) string {
	const prefix = "/api"
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		path = path[len(prefix):]
	}
	if path == "" {
		return "/"
	}
	return path
}

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const awaitTimeout = 5 * time.Minute

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// submitRequest is the POST /api/transcripts body.
type submitRequest struct {
	Video          string   `json:"video"`
	Languages      []string `json:"languages,omitempty"`
	CookieMaterial string   `json:"cookie_material,omitempty"`
}

// transcriptResponse is the job snapshot plus the transcript once available.
type transcriptResponse struct {
	pipeline.JobStatus
	Transcript string `json:"transcript,omitempty"`
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/transcripts", authMiddleware(token, srv.handleTranscripts))
	mux.HandleFunc("/api/transcripts/", authMiddleware(token, srv.handleTranscript))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      awaitTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.daemon.service.Submit(r.Context(), pipeline.Request{
		Video:          req.Video,
		Languages:      req.Languages,
		CookieMaterial: req.CookieMaterial,
	})
	if err != nil {
		if services.IsFatal(err) {
			s.writeError(w, http.StatusBadRequest, services.Details(err))
			return
		}
		s.writeError(w, http.StatusInternalServerError, services.Details(err))
		return
	}

	if wantsWait(r) {
		s.respondAfterWait(w, r, status.JobID)
		return
	}
	s.writeJSON(w, http.StatusAccepted, transcriptResponse{JobStatus: status})
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if jobID == "" || strings.Contains(jobID, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	status, ok := s.daemon.service.Status(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if wantsWait(r) && status.State == pipeline.StateRunning {
		s.respondAfterWait(w, r, jobID)
		return
	}

	response := transcriptResponse{JobStatus: status}
	if status.State == pipeline.StateSucceeded || status.State == pipeline.StateCached {
		if summary, err := s.daemon.service.Await(r.Context(), jobID); err == nil {
			response.Transcript = summary.Transcript
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *apiServer) respondAfterWait(w http.ResponseWriter, r *http.Request, jobID string) {
	waitCtx, cancel := context.WithTimeout(r.Context(), awaitTimeout)
	defer cancel()
	summary, err := s.daemon.service.Await(waitCtx, jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusGatewayTimeout, "job still running")
		return
	}
	status, _ := s.daemon.service.Status(jobID)
	response := transcriptResponse{JobStatus: status, Transcript: summary.Transcript}
	if summary.Succeeded() {
		s.writeJSON(w, http.StatusOK, response)
		return
	}
	s.writeJSON(w, http.StatusUnprocessableEntity, response)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func wantsWait(r *http.Request) bool {
	value := r.URL.Query().Get("wait")
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

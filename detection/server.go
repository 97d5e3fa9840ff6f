package detection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"motionwatch/capture"
	"motionwatch/logging"
)

// Server exposes a Detector over the GET /detect contract.
type Server struct {
	detector Detector
	info     func() ProviderInfo
	timeout  time.Duration
	log      zerolog.Logger
}

// NewServer wraps detector. info may be nil.
func NewServer(detector Detector, info func() ProviderInfo, timeout time.Duration) *Server {
	return &Server{
		detector: detector,
		info:     info,
		timeout:  timeout,
		log:      logging.Component("detect-server"),
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/detect", s.handleDetect).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Detect server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("rtsp_url")
	if source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "RTSP URL parameter is required."})
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	labels, err := s.detector.Detect(ctx, source)
	if err != nil {
		s.log.Warn().Err(err).Str("source", capture.Redact(source)).Msg("Detection failed")
		status := http.StatusBadGateway
		if errors.Is(err, ErrNoFrame) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	if len(labels) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"message": NoTargetMessage})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": labels})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.info != nil {
		resp["provider"] = s.info()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

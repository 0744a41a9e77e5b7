package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/gnssflow/internal/runtime/consumer"
	"github.com/drblury/gnssflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
)

const defaultStatusPort = 8081

// StartStatusServer registers /api/status and /healthz on the status port
// when the status endpoint is enabled.
func (s *Service) StartStatusServer() {
	if s.Conf == nil || !s.Conf.StatusEnabled {
		return
	}

	port := s.Conf.StatusPort
	if port == 0 {
		port = defaultStatusPort
	}

	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
	s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealth))
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, s.Stats()); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHealth answers 200 while the consumer is subscribed and the store
// answers a ping, 503 otherwise.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.State()
	healthy := state == consumer.StateConsuming || state == consumer.StateSubscribed

	storeStatus := "ok"
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			healthy = false
			storeStatus = err.Error()
			s.Logger.Debug("Health check store ping failed", loggingpkg.LogFields{"error": storeStatus})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = jsoncodec.Encode(w, map[string]string{
		"consumer": state.String(),
		"store":    storeStatus,
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

package runtime

import (
	"net/http"
	"strings"

	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
)

// StartAdminServer mounts the admin API when it is enabled.
func (s *Service) StartAdminServer() {
	if !s.Conf.AdminEnabled {
		return
	}

	port := s.Conf.AdminPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(port, "/api/patterns", http.HandlerFunc(s.handleGetPatterns))
}

// HandlerInfos lists the RPC handlers followed by the event subscribers.
func (s *Service) HandlerInfos() []*HandlerInfo {
	var infos []*HandlerInfo
	if s.server != nil {
		infos = append(infos, s.server.HandlerInfos()...)
	}
	if s.events != nil {
		infos = append(infos, s.events.HandlerInfos()...)
	}
	if infos == nil {
		infos = []*HandlerInfo{}
	}
	return infos
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	s.writeAdminJSON(w, r, s.HandlerInfos())
}

func (s *Service) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	s.writeAdminJSON(w, r, s.registry.Describe())
}

func (s *Service) writeAdminJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.AdminCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

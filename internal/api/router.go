package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-matrix/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermMatrixRead)).Post("/auth/ws-ticket", s.handleWSTicket)
			r.With(s.requirePermission(auth.PermSystemAdmin)).Get("/metrics", s.handleMetrics)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)

			r.Route("/matrix", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermMatrixRead)).Group(func(r chi.Router) {
					r.Get("/", s.handleMatrixStatus)
					r.Get("/state", s.handleQuery("full_status"))
					r.Get("/telnet", s.handleQuery("telnet_status"))
					r.Get("/cec", s.handleQuery("cec_status"))
					r.Get("/cables/{direction}/{port}", s.handleCableStatus)
					r.Get("/commands", s.handleListCommands)
				})

				// Per-command permission is checked in the handler.
				r.Post("/commands", s.handleCommand)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
// The API answers "degraded" while the matrix HTTP channel is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.matrix.Status()

	status := "ok"
	if !st.HTTPConnected {
		status = "degraded"
	}

	telnet := "disabled"
	if st.TelnetEnabled {
		telnet = st.TelnetState.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"matrix_id":      st.ID,
		"http_connected": st.HTTPConnected,
		"telnet":         telnet,
	})
}

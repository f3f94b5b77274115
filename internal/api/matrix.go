package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-matrix/internal/audit"
	"github.com/nerrad567/gray-logic-matrix/internal/auth"
	"github.com/nerrad567/gray-logic-matrix/internal/bridges/matrix"
)

// Matrix operation timeouts. CEC commands may need a cache refresh and an
// enable write before the command itself; a full status read is six
// requests plus the Telnet dump.
const (
	commandTimeout = 20 * time.Second
	queryTimeout   = 45 * time.Second
)

// commandRequest is the request body for POST /matrix/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// commandResponse is the response body for an accepted command.
type commandResponse struct {
	Status   string `json:"status"`
	MatrixID string `json:"matrix_id"`
	Command  string `json:"command"`
}

// handleMatrixStatus returns the controller's transport status.
func (s *Server) handleMatrixStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.matrix.Status())
}

// handleQuery returns a handler serving one parameterless read action.
func (s *Server) handleQuery(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveQuery(w, r, action, nil)
	}
}

// handleCableStatus returns the cable state of one port.
//
// Path parameters:
//   - direction: input|in or output|out
//   - port: 1-8
func (s *Server) handleCableStatus(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, "cable_status", map[string]any{
		"direction": chi.URLParam(r, "direction"),
		"port":      chi.URLParam(r, "port"),
	})
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, action string, params map[string]any) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	data, err := s.matrix.Query(ctx, action, params)
	if err != nil {
		writeMatrixError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleListCommands returns the command and read vocabularies.
func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": matrix.Commands,
		"queries":  matrix.Queries,
	})
}

// handleCommand runs one command against the matrix.
//
// Request body:
//
//	{"command": "switch", "parameters": {"input": 3, "output": 1}}
//
// The caller's role must hold the command's permission. Accepted commands
// are journaled with the caller's subject.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if perm := auth.CommandPermission(req.Command); !s.authorised(r, perm) {
		writeForbidden(w, "requires "+string(perm))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := s.matrix.Execute(ctx, req.Command, req.Parameters); err != nil {
		s.logger.Warn("API command failed",
			"command", req.Command,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeMatrixError(w, err)
		return
	}

	details := map[string]any{"command": req.Command}
	if len(req.Parameters) > 0 {
		details["parameters"] = req.Parameters
	}
	s.auditLog(audit.ActionCommand, s.matrix.ID(), callerID(r.Context()), details)

	writeJSON(w, http.StatusOK, commandResponse{
		Status:   "accepted",
		MatrixID: s.matrix.ID(),
		Command:  req.Command,
	})
}

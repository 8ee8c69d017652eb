package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/exhibit-core/internal/audit"
)

type connectRequest struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

type rawRequest struct {
	Hex string `json:"hex"`
}

// handleGetLink returns the link status and counters.
func (s *Server) handleGetLink(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.link.Status(),
		"stats":  s.link.Stats(),
	})
}

// handleLinkConnect starts connecting. An empty body keeps the configured
// address. The call returns before the dial completes; progress is reported
// on the link.state channel.
func (s *Server) handleLinkConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.link.Connect(req.Host, req.Port)
	var details map[string]any
	if req.Host != "" || req.Port != 0 {
		details = map[string]any{"host": req.Host, "port": req.Port}
	}
	s.recordCommand(r, "connect", audit.TargetLink, "", err, details)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.link.Status())
}

// handleLinkDisconnect closes the link and stops reconnecting.
func (s *Server) handleLinkDisconnect(w http.ResponseWriter, r *http.Request) {
	s.link.Disconnect()
	s.recordCommand(r, "disconnect", audit.TargetLink, "", nil, nil)
	writeJSON(w, http.StatusOK, s.link.Status())
}

// handleLinkRaw sends operator-supplied hex to the controller unchanged.
func (s *Server) handleLinkRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Hex == "" {
		writeBadRequest(w, "hex is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.link.SendHex(ctx, req.Hex)
	s.recordCommand(r, "raw", audit.TargetLink, "", err, map[string]any{"hex": req.Hex})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

// handleLifecycle switches the link between foreground and background.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	switch phase := chi.URLParam(r, "phase"); phase {
	case "background":
		s.link.EnterBackground()
	case "foreground":
		s.link.EnterForeground()
	default:
		writeBadRequest(w, "unknown lifecycle phase: "+phase)
		return
	}
	writeJSON(w, http.StatusOK, s.link.Status())
}

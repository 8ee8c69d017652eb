package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/exhibit-core/internal/audit"
)

// recordCommand appends an operator command to the command log. Failures to
// write the log are logged and never fail the request.
func (s *Server) recordCommand(r *http.Request, action, targetType, targetID string, cmdErr error, details map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Source:     audit.SourceAPI,
		Outcome:    audit.OutcomeAccepted,
	}
	if len(details) > 0 {
		entry.Details = make(map[string]any, len(details)+1)
		for k, v := range details {
			entry.Details[k] = v
		}
	}
	if cmdErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Error = cmdErr.Error()
	}
	if id := requestID(r.Context()); id != "" {
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		entry.Details["request_id"] = id
	}

	if err := s.audit.Create(context.WithoutCancel(r.Context()), entry); err != nil {
		s.logger.Warn("failed to record command", "action", action, "target", targetID, "error", err)
	}
}

// handleListAudit returns the command log, newest first.
//
// Query parameters: action, target_type, target_id, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "command log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
		Source:     q.Get("source"),
	}
	for _, v := range []string{filter.Action, filter.TargetType, filter.TargetID, filter.Source} {
		if len(v) > maxQueryParamLen {
			writeBadRequest(w, "query parameter too long")
			return
		}
	}

	var err error
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseIntParam parses an optional non-negative integer.
func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

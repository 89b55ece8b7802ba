// SPDX-License-Identifier: MIT

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/orchestrator"
)

type commandRequest struct {
	Name         string `json:"name"`
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
	Query        string `json:"query,omitempty"`
	VoiceChannel string `json:"voiceChannel,omitempty"`
	ReplyChannel string `json:"replyChannel,omitempty"`
}

type commandResponse struct {
	Success     bool   `json:"success"`
	UserMessage string `json:"userMessage"`
	Skipped     bool   `json:"skipped,omitempty"`
	Rank        int    `json:"rank,omitempty"`
	Removed     int    `json:"removed,omitempty"`
	Size        int    `json:"size,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body", "detail": err.Error()})
		return
	}
	if req.Name == "" || req.TenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body", "detail": "name and tenantId are required"})
		return
	}

	res := s.opts.Orch.Handle(r.Context(), orchestrator.Command{
		Name:         req.Name,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Query:        req.Query,
		VoiceChannel: req.VoiceChannel,
		ReplyChannel: req.ReplyChannel,
	})
	// Command-level failures are user messages, not transport errors.
	writeJSON(w, http.StatusOK, commandResponse{
		Success:     res.Success,
		UserMessage: res.UserMessage,
		Skipped:     res.Skipped,
		Rank:        res.Rank,
		Removed:     res.Removed,
		Size:        res.Size,
	})
}

type queueResponse struct {
	TenantID string `json:"tenantId"`
	Size     int    `json:"size"`
	Head     string `json:"head,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx := r.Context()

	size, err := s.opts.Store.Size(ctx, tenantID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}
	head, _, err := s.opts.Store.PeekHead(ctx, tenantID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{TenantID: tenantID, Size: size, Head: head})
}

func (s *Server) handleAllow(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := s.opts.Store.Allow(r.Context(), tenantID); err != nil {
		l := log.WithComponentFromContext(r.Context(), "api")
		l.Error().Err(err).Msg("allowlist add failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}
	if s.opts.Allowlist != nil {
		s.opts.Allowlist.Invalidate(tenantID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisallow(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := s.opts.Store.Disallow(r.Context(), tenantID); err != nil {
		l := log.WithComponentFromContext(r.Context(), "api")
		l.Error().Err(err).Msg("allowlist remove failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}
	if s.opts.Allowlist != nil {
		s.opts.Allowlist.Invalidate(tenantID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.opts.Version})
}

// handleReadyz reports ready only when the store answers and at least one
// node is connected.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	type readiness struct {
		Ready bool   `json:"ready"`
		Store string `json:"store"`
		Nodes int    `json:"nodes"`
	}
	res := readiness{Store: "ok"}

	if _, err := s.opts.Store.Size(r.Context(), "readyz-probe"); err != nil {
		res.Store = "unavailable"
	}
	res.Nodes = len(s.opts.Nodes.ConnectedNodes())
	res.Ready = res.Store == "ok" && res.Nodes > 0

	code := http.StatusOK
	if !res.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/proxy"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

func metricsHandler() http.Handler { return telemetry.MetricsHandler() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if p := s.deps.Probe; p != nil {
		connected = p.Connected()
		if !connected {
			ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
			connected = p.Connect(ctx) == nil
			cancel()
		}
	}

	status, code := "healthy", http.StatusOK
	if !connected {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":                status,
		"service":               serviceName,
		"version":               s.version,
		"uptime":                time.Since(s.startTime).Round(time.Second).String(),
		"tool_server_connected": connected,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalogue == nil {
		writeError(w, http.StatusServiceUnavailable, "tool catalogue not initialized")
		return
	}
	list, err := s.deps.Catalogue.Tools(r.Context())
	if err != nil {
		telemetry.RequestLogger(s.logger, r.Context(), "").Error("failed to list tools", "error", err)
		writeError(w, http.StatusBadGateway, "tool server unavailable")
		return
	}
	if list == nil {
		list = []tools.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list, "count": len(list)})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Querier == nil {
		writeError(w, http.StatusServiceUnavailable, "service not fully initialized")
		return
	}

	var req proxy.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	resp := s.deps.Querier.Query(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

type contextResponse struct {
	SessionID  string         `json:"session_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	TotalTurns int            `json:"total_turns"`
	Count      int            `json:"count"`
	Turns      []session.Turn `json:"turns"`
}

// handleSessionContext returns turns oldest first. limit keeps the most
// recent N after tool_filter is applied.
func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not initialized")
		return
	}
	id := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	tool := r.URL.Query().Get("tool_filter")

	sess, err := s.deps.Sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		telemetry.RequestLogger(s.logger, r.Context(), id).Error("failed to read session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	turns := session.Filter(sess.Turns, limit, tool)
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, contextResponse{
		SessionID:  sess.ID,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
		TotalTurns: len(sess.Turns),
		Count:      len(turns),
		Turns:      turns,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not initialized")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Sessions.Delete(r.Context(), id); err != nil {
		telemetry.RequestLogger(s.logger, r.Context(), id).Error("failed to delete session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": id})
}

func (s *Server) handleInstance(w http.ResponseWriter, _ *http.Request) {
	name, url := describeInstance(s.sdeHost, s.toolServerURL)
	writeJSON(w, http.StatusOK, map[string]string{
		"instance_name": name,
		"instance_url":  url,
	})
}

// describeInstance derives a display name from the SD Elements host, e.g.
// "sde-ent-onyxdrift.sdelab.net" becomes "Ent Onyxdrift". Without a host the
// tool server URL is shown instead.
func describeInstance(sdeHost, toolServerURL string) (name, url string) {
	if sdeHost == "" {
		url = strings.TrimSuffix(strings.TrimRight(stripScheme(toolServerURL), "/"), "/mcp")
		if url == "" {
			url = "Unknown"
		}
		return "SD Elements", url
	}

	url = strings.TrimRight(stripScheme(sdeHost), "/")
	name = "SD Elements"
	if strings.Contains(url, "sdelab.net") || strings.Contains(url, "sdelements.com") {
		sub, _, _ := strings.Cut(url, ".")
		sub = strings.TrimPrefix(sub, "sde-")
		name = titleWords(strings.ReplaceAll(sub, "-", " "))
	}
	return name, url
}

func stripScheme(s string) string {
	s = strings.TrimPrefix(s, "https://")
	return strings.TrimPrefix(s, "http://")
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

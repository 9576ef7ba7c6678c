package http

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentfleet/agentfleet/internal/adapter/otel"
	"github.com/agentfleet/agentfleet/internal/adapter/ws"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/domain/mcp"
	"github.com/agentfleet/agentfleet/internal/fleet"
	"github.com/agentfleet/agentfleet/internal/mcppool"
)

// Handlers bundles the API dependencies. MCP and Metrics are optional and
// may be nil when the corresponding subsystem is disabled.
type Handlers struct {
	Registry   *fleet.Registry
	Autoscaler *fleet.Autoscaler
	MCP        *mcppool.Manager
	Hub        *ws.Hub
	Metrics    *otel.Metrics
	Version    string
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

type createAgentRequest struct {
	agent.Config
	// AutoStart defaults to true: a created agent is immediately usable.
	AutoStart *bool `json:"auto_start,omitempty"`
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	// Every caller-facing create is demand signal for the autoscaler,
	// whether or not the request succeeds.
	h.Registry.TrackRequest()

	req, ok := readJSON[createAgentRequest](w, r)
	if !ok {
		return
	}

	autoStart := req.AutoStart == nil || *req.AutoStart

	info, err := h.Registry.Create(r.Context(), req.Config, autoStart)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.AgentsCreated.Add(r.Context(), 1)
		h.Metrics.FleetSize.Add(r.Context(), 1)
	}

	writeJSON(w, http.StatusCreated, info)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	infos := h.Registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": infos,
		"count":  len(infos),
	})
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	info, err := h.Registry.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	if h.MCP != nil {
		h.MCP.ReleaseForAgent(id)
	}
	if h.Metrics != nil {
		h.Metrics.AgentsDeleted.Add(r.Context(), 1)
		h.Metrics.FleetSize.Add(r.Context(), -1)
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handlers) StartAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Registry.Start(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	info, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Tool servers are provisioned alongside the session; a pool failure
	// degrades the agent's toolset but never fails the start.
	if h.MCP != nil {
		if _, err := h.MCP.ProvisionForAgent(r.Context(), id, string(info.Config.Kind)); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"agent":       info,
				"mcp_warning": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Registry.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	if h.MCP != nil {
		h.MCP.ReleaseForAgent(id)
	}

	info, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

type sendMessageRequest struct {
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

type sendMessageResponse struct {
	AgentID   string    `json:"agent_id"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	req, ok := readJSON[sendMessageRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Message, "message") {
		return
	}

	info, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, span := otel.StartMessageSpan(r.Context(), id, string(info.Config.Kind))
	defer span.End()

	start := time.Now()
	response, err := h.Registry.SendMessage(ctx, id, req.Message, req.Context)
	elapsed := time.Since(start)

	if h.Metrics != nil {
		h.Metrics.MessageDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("agent.kind", string(info.Config.Kind))))
	}
	if err != nil {
		span.RecordError(err)
		if h.Metrics != nil {
			h.Metrics.MessageFailures.Add(ctx, 1)
		}
		writeDomainError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.MessagesSent.Add(ctx, 1)
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		AgentID:   id,
		Response:  response,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Agent(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	history := a.History()
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": a.ID(),
		"history":  history,
		"count":    len(history),
	})
}

func (h *Handlers) RecoverAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Agent(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, span := otel.StartRecoverySpan(r.Context(), a.ID(), a.Info().RecoveryAttempts+1)
	defer span.End()

	if err := a.Recover(ctx); err != nil {
		span.RecordError(err)
		writeDomainError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.Recoveries.Add(ctx, 1)
	}
	writeJSON(w, http.StatusOK, a.Info())
}

// ---------------------------------------------------------------------------
// Catalog, quick query, autoscaler, MCP
// ---------------------------------------------------------------------------

type agentTypeInfo struct {
	Kind           agent.Kind           `json:"kind"`
	Description    string               `json:"description"`
	AllowedTools   []string             `json:"allowed_tools"`
	PermissionMode agent.PermissionMode `json:"permission_mode"`
}

func (h *Handlers) ListAgentTypes(w http.ResponseWriter, _ *http.Request) {
	kinds := agent.Kinds()
	out := make([]agentTypeInfo, 0, len(kinds))
	for _, k := range kinds {
		d := agent.Catalog[k]
		out = append(out, agentTypeInfo{
			Kind:           k,
			Description:    d.Description,
			AllowedTools:   d.AllowedTools,
			PermissionMode: d.PermissionMode,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_types": out,
		"count":       len(out),
	})
}

type quickQueryRequest struct {
	Kind     agent.Kind `json:"kind,omitempty"`
	Question string     `json:"question"`
}

type quickQueryResponse struct {
	Kind   agent.Kind `json:"kind"`
	Answer string     `json:"answer"`
	Cached bool       `json:"cached"`
}

func (h *Handlers) QuickQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[quickQueryRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Question, "question") {
		return
	}
	if req.Kind == "" {
		req.Kind = agent.KindGeneral
	}

	ctx, span := otel.StartQuickQuerySpan(r.Context(), string(req.Kind))
	defer span.End()

	answer, cached, err := h.Registry.QuickQuery(ctx, req.Kind, req.Question)
	if err != nil {
		span.RecordError(err)
		writeDomainError(w, err)
		return
	}

	if h.Metrics != nil {
		if cached {
			h.Metrics.QuickQueryHits.Add(ctx, 1)
		} else {
			h.Metrics.QuickQueryMisses.Add(ctx, 1)
		}
	}

	writeJSON(w, http.StatusOK, quickQueryResponse{
		Kind:   req.Kind,
		Answer: answer,
		Cached: cached,
	})
}

func (h *Handlers) AutoscalerStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Autoscaler.Snapshot())
}

func (h *Handlers) ListMCPServers(w http.ResponseWriter, _ *http.Request) {
	servers := []mcp.ServerInfo{}
	if h.MCP != nil {
		servers = h.MCP.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.Version,
		"agents":         h.Registry.Count(),
		"ws_connections": h.Hub.ConnectionCount(),
	})
}

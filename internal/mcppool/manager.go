package mcppool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain"
	"github.com/agentfleet/agentfleet/internal/domain/mcp"
)

// sweepInterval is how often the maintenance loop wakes up; each instance
// is then checked against its own health and idle windows.
const sweepInterval = 15 * time.Second

// instance is one provisioned MCP server process.
type instance struct {
	id        string
	cfg       mcp.ServerConfig
	conn      Conn
	status    mcp.ServerStatus
	createdAt time.Time
	lastUsed  time.Time
	lastPing  time.Time
	agents    map[string]int // agent id -> refcount
	errMsg    string

	ready chan struct{} // closed once the connect attempt finishes
	err   error         // connect error, valid after ready closes
}

func (in *instance) connections() int {
	total := 0
	for _, n := range in.agents {
		total += n
	}
	return total
}

func (in *instance) info() mcp.ServerInfo {
	agents := make([]string, 0, len(in.agents))
	for id := range in.agents {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	return mcp.ServerInfo{
		ID:              in.id,
		Kind:            in.cfg.Kind,
		Status:          in.status,
		CreatedAt:       in.createdAt,
		LastHealthCheck: in.lastPing,
		ConnectedAgents: agents,
		ConnectionCount: in.connections(),
		ErrorMessage:    in.errMsg,
	}
}

// Manager owns the MCP server pool. Shared server kinds get one instance
// reused by every agent up to the kind's connection ceiling; exclusive
// kinds get one instance per agent.
type Manager struct {
	cfg       config.MCP
	connector Connector

	mu        sync.Mutex
	instances map[string]*instance

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
	getenv func(string) string
}

// NewManager creates a pool manager using the given connector.
func NewManager(cfg config.MCP, connector Connector) *Manager {
	return &Manager{
		cfg:       cfg,
		connector: connector,
		instances: make(map[string]*instance),
		now:       time.Now,
		getenv:    os.Getenv,
	}
}

// poolKey derives the instance key: shared kinds pool on the kind alone,
// exclusive kinds pool per agent.
func poolKey(cfg mcp.ServerConfig, agentID string) string {
	if cfg.Shared {
		return string(cfg.Kind)
	}
	return string(cfg.Kind) + "/" + agentID
}

// envOK reports whether the kind's required environment variables are set.
func (m *Manager) envOK(cfg mcp.ServerConfig) bool {
	for _, key := range cfg.RequiredEnv {
		if m.getenv(key) == "" {
			return false
		}
	}
	return true
}

// Acquire attaches agentID to a server of the given kind, provisioning one
// if needed. Returns the server snapshot after attachment.
func (m *Manager) Acquire(ctx context.Context, agentID string, kind mcp.ServerKind) (mcp.ServerInfo, error) {
	cfg, ok := mcp.ConfigFor(kind)
	if !ok {
		return mcp.ServerInfo{}, fmt.Errorf("%w: mcp server kind %s", domain.ErrNotFound, kind)
	}
	if !m.envOK(cfg) {
		return mcp.ServerInfo{}, fmt.Errorf("%w: mcp server %s missing required env %s",
			domain.ErrStartFailure, kind, strings.Join(cfg.RequiredEnv, ","))
	}

	key := poolKey(cfg, agentID)

	m.mu.Lock()
	in, exists := m.instances[key]
	if !exists {
		in = &instance{
			id:        uuid.NewString(),
			cfg:       cfg,
			status:    mcp.ServerStarting,
			createdAt: m.now(),
			lastUsed:  m.now(),
			agents:    make(map[string]int),
			ready:     make(chan struct{}),
		}
		m.instances[key] = in
		m.mu.Unlock()

		// Connect outside the lock; concurrent acquirers of the same key
		// wait on the ready channel instead of racing a second spawn.
		conn, err := m.connector.Connect(ctx, cfg)

		m.mu.Lock()
		if err != nil {
			in.err = err
			in.status = mcp.ServerError
			in.errMsg = err.Error()
			delete(m.instances, key)
			close(in.ready)
			m.mu.Unlock()
			return mcp.ServerInfo{}, fmt.Errorf("%w: provision %s: %v", domain.ErrStartFailure, kind, err)
		}
		in.conn = conn
		in.status = mcp.ServerRunning
		in.lastPing = m.now()
		close(in.ready)
		slog.Info("mcp server provisioned", "kind", kind, "server_id", in.id, "shared", cfg.Shared)
	} else {
		m.mu.Unlock()
		select {
		case <-in.ready:
		case <-ctx.Done():
			return mcp.ServerInfo{}, ctx.Err()
		}
		if in.err != nil {
			return mcp.ServerInfo{}, fmt.Errorf("%w: provision %s: %v", domain.ErrStartFailure, kind, in.err)
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	if in.status != mcp.ServerRunning {
		return mcp.ServerInfo{}, fmt.Errorf("%w: mcp server %s is %s", domain.ErrNotRunning, kind, in.status)
	}
	if cfg.MaxConnections > 0 && in.connections() >= cfg.MaxConnections {
		return mcp.ServerInfo{}, fmt.Errorf("%w: mcp server %s at %d connections",
			domain.ErrCapacityExceeded, kind, cfg.MaxConnections)
	}

	in.agents[agentID]++
	in.lastUsed = m.now()
	return in.info(), nil
}

// Release detaches agentID from a server of the given kind. Unknown
// attachments are a no-op.
func (m *Manager) Release(agentID string, kind mcp.ServerKind) {
	cfg, ok := mcp.ConfigFor(kind)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.instances[poolKey(cfg, agentID)]
	if !ok {
		return
	}
	if in.agents[agentID] > 0 {
		in.agents[agentID]--
		if in.agents[agentID] == 0 {
			delete(in.agents, agentID)
		}
	}
	in.lastUsed = m.now()
}

// ProvisionForAgent acquires every MCP server the agent kind requires.
// Optional servers with missing credentials are skipped; a failure on a
// required server rolls back everything acquired so far.
func (m *Manager) ProvisionForAgent(ctx context.Context, agentID, agentKind string) ([]mcp.ServerInfo, error) {
	var acquired []mcp.ServerInfo

	for _, kind := range mcp.ServersForAgentKind(agentKind) {
		cfg, ok := mcp.ConfigFor(kind)
		if !ok {
			continue
		}
		if cfg.Optional && !m.envOK(cfg) {
			slog.Debug("skipping optional mcp server, missing env", "kind", kind, "agent_id", agentID)
			continue
		}

		info, err := m.Acquire(ctx, agentID, kind)
		if err != nil {
			for _, got := range acquired {
				m.Release(agentID, got.Kind)
			}
			return nil, fmt.Errorf("provision %s for agent %s: %w", kind, agentID, err)
		}
		acquired = append(acquired, info)
	}
	return acquired, nil
}

// ReleaseForAgent drops every attachment agentID holds across the pool.
func (m *Manager) ReleaseForAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, in := range m.instances {
		if _, ok := in.agents[agentID]; ok {
			delete(in.agents, agentID)
			in.lastUsed = m.now()
		}
	}
}

// List returns snapshots of every pooled server, sorted by kind then id.
func (m *Manager) List() []mcp.ServerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mcp.ServerInfo, 0, len(m.instances))
	for _, in := range m.instances {
		out = append(out, in.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Run starts the maintenance loop: health pings and idle reaping.
func (m *Manager) Run() {
	if !m.cfg.EnableHealthMonitoring {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the maintenance loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// sweep runs one maintenance pass over the pool.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	type task struct {
		key  string
		in   *instance
		ping bool
		reap bool
	}
	var tasks []task
	now := m.now()
	for key, in := range m.instances {
		if in.status != mcp.ServerRunning {
			continue
		}
		t := task{key: key, in: in}
		if in.cfg.HealthCheckInterval > 0 && now.Sub(in.lastPing) >= in.cfg.HealthCheckInterval {
			t.ping = true
		}
		if in.cfg.IdleTimeout > 0 && in.connections() == 0 && now.Sub(in.lastUsed) > in.cfg.IdleTimeout {
			t.reap = true
		}
		if t.ping || t.reap {
			tasks = append(tasks, t)
		}
	}
	m.mu.Unlock()

	for _, t := range tasks {
		if t.reap {
			slog.Info("reaping idle mcp server", "kind", t.in.cfg.Kind, "server_id", t.in.id)
			m.deprovision(t.key, t.in)
			continue
		}
		if err := t.in.conn.Ping(ctx); err != nil {
			slog.Warn("mcp server failed health check", "kind", t.in.cfg.Kind, "server_id", t.in.id, "error", err)
			m.mu.Lock()
			t.in.status = mcp.ServerError
			t.in.errMsg = err.Error()
			m.mu.Unlock()
			m.deprovision(t.key, t.in)
			continue
		}
		m.mu.Lock()
		t.in.lastPing = m.now()
		m.mu.Unlock()
	}
}

// deprovision removes an instance from the pool and closes its connection.
func (m *Manager) deprovision(key string, in *instance) {
	m.mu.Lock()
	if m.instances[key] == in {
		delete(m.instances, key)
	}
	in.status = mcp.ServerStopped
	m.mu.Unlock()

	if err := in.conn.Close(); err != nil {
		slog.Warn("mcp server close failed", "kind", in.cfg.Kind, "server_id", in.id, "error", err)
	}
}

// ShutdownAll stops the maintenance loop and closes every pooled server.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	all := make(map[string]*instance, len(m.instances))
	for key, in := range m.instances {
		all[key] = in
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for key, in := range all {
		g.Go(func() error {
			m.deprovision(key, in)
			return nil
		})
	}
	return g.Wait()
}

package fleet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agentfleet/agentfleet/internal/adapter/ws"
	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/port/broadcast"
	"github.com/agentfleet/agentfleet/internal/port/cache"
	"github.com/agentfleet/agentfleet/internal/port/session"
	"github.com/agentfleet/agentfleet/internal/resilience"
)

// StatusListener observes agent status transitions. Listeners must be fast
// and must not call back into the registry.
type StatusListener func(agentID string, status agent.Status)

// Registry is the fleet's source of truth: it owns every Agent, enforces
// the capacity ceiling, and fans lifecycle events out to the broadcaster
// and any registered listeners.
type Registry struct {
	fleetCfg   config.Fleet
	runtimeCfg config.Runtime
	adapter    session.Adapter

	mu     sync.RWMutex
	agents map[string]*Agent

	breaker   *resilience.Breaker
	hub       broadcast.Broadcaster
	cache     cache.Cache
	cacheTTL  time.Duration
	listeners []StatusListener
	startSem  *semaphore.Weighted
	requests  *requestWindow

	now func() time.Time
}

// NewRegistry creates a registry with the given fleet limits, runtime
// defaults, and session adapter. Optional collaborators are attached with
// the Set methods before the registry is used.
func NewRegistry(fleetCfg config.Fleet, runtimeCfg config.Runtime, adapter session.Adapter) *Registry {
	starts := fleetCfg.MaxConcurrentStarts
	if starts < 1 {
		starts = 1
	}
	return &Registry{
		fleetCfg:   fleetCfg,
		runtimeCfg: runtimeCfg,
		adapter:    adapter,
		agents:     make(map[string]*Agent),
		startSem:   semaphore.NewWeighted(int64(starts)),
		requests:   newRequestWindow(requestWindowCapacity),
		now:        time.Now,
	}
}

// SetBreaker attaches a circuit breaker wrapping session opens.
func (r *Registry) SetBreaker(b *resilience.Breaker) { r.breaker = b }

// SetBroadcaster attaches the event broadcaster for fleet events.
func (r *Registry) SetBroadcaster(h broadcast.Broadcaster) { r.hub = h }

// SetCache attaches the quick-query response cache.
func (r *Registry) SetCache(c cache.Cache, ttl time.Duration) {
	r.cache = c
	r.cacheTTL = ttl
}

// OnStatus registers a listener for agent status transitions. Must be
// called before any agent is created.
func (r *Registry) OnStatus(fn StatusListener) {
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notifyStatus(id string, status agent.Status) {
	for _, fn := range r.listeners {
		fn(id, status)
	}
	if r.hub != nil {
		r.hub.BroadcastEvent(context.Background(), ws.EventAgentStatus, ws.AgentStatusEvent{
			AgentID: id,
			Status:  string(status),
		})
	}
}

// Create registers a new agent, optionally starting it. Capacity is
// checked at insert time under the registry lock; the start itself runs
// outside the lock so a slow runtime spawn never blocks the fleet. If the
// start fails the agent is removed again and the error returned.
func (r *Registry) Create(ctx context.Context, cfg agent.Config, autoStart bool) (agent.Info, error) {
	id := uuid.NewString()
	a := newAgent(id, cfg, agentDeps{
		adapter:  r.adapter,
		breaker:  r.breaker,
		fleet:    r.fleetCfg,
		runtime:  r.runtimeCfg,
		onStatus: r.notifyStatus,
	})

	r.mu.Lock()
	if len(r.agents) >= r.fleetCfg.MaxAgents {
		r.mu.Unlock()
		return agent.Info{}, fmt.Errorf("%w: fleet at capacity %d", domain.ErrCapacityExceeded, r.fleetCfg.MaxAgents)
	}
	r.agents[id] = a
	r.mu.Unlock()

	if autoStart {
		if err := r.startWithLimit(ctx, a); err != nil {
			r.mu.Lock()
			delete(r.agents, id)
			r.mu.Unlock()
			return agent.Info{}, err
		}
	}

	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, ws.EventAgentCreated, ws.AgentCreatedEvent{
			AgentID: id,
			Kind:    string(a.Config().Kind),
			Status:  string(a.Status()),
		})
	}

	slog.Info("agent created", "agent_id", id, "kind", a.Config().Kind, "auto_start", autoStart)
	return a.Info(), nil
}

// startWithLimit starts an agent under the concurrent-start semaphore.
func (r *Registry) startWithLimit(ctx context.Context, a *Agent) error {
	if err := r.startSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire start slot: %w", err)
	}
	defer r.startSem.Release(1)
	return a.Start(ctx)
}

// Agent returns the live agent handle for id.
func (r *Registry) Agent(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", domain.ErrNotFound, id)
	}
	return a, nil
}

// Get returns the info snapshot for one agent.
func (r *Registry) Get(id string) (agent.Info, error) {
	a, err := r.Agent(id)
	if err != nil {
		return agent.Info{}, err
	}
	return a.Info(), nil
}

// List returns snapshots of every registered agent.
func (r *Registry) List() []agent.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]agent.Info, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Info())
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Start starts the agent with the given id.
func (r *Registry) Start(ctx context.Context, id string) error {
	a, err := r.Agent(id)
	if err != nil {
		return err
	}
	return r.startWithLimit(ctx, a)
}

// Stop stops the agent with the given id. The agent stays registered.
func (r *Registry) Stop(ctx context.Context, id string) error {
	a, err := r.Agent(id)
	if err != nil {
		return err
	}
	return a.Stop(ctx)
}

// SendMessage routes one message to an agent and records it as fleet
// request traffic for the autoscaler.
func (r *Registry) SendMessage(ctx context.Context, id, text string, extra map[string]string) (string, error) {
	a, err := r.Agent(id)
	if err != nil {
		return "", err
	}
	r.TrackRequest()
	return a.SendMessage(ctx, text, extra)
}

// Delete stops an agent and removes it from the fleet. Stop failures are
// logged but never block removal.
func (r *Registry) Delete(ctx context.Context, id string) error {
	a, err := r.Agent(id)
	if err != nil {
		return err
	}

	if err := a.Terminate(ctx); err != nil {
		slog.Warn("stop during delete failed", "agent_id", id, "error", err)
	}

	r.mu.Lock()
	delete(r.agents, id)
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, ws.EventAgentDeleted, ws.AgentDeletedEvent{AgentID: id})
	}

	slog.Info("agent deleted", "agent_id", id)
	return nil
}

// ShutdownAll stops every agent concurrently. Agents stay registered;
// this is the graceful-shutdown path, not a mass delete.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, a := range agents {
		g.Go(func() error {
			if err := a.Stop(ctx); err != nil {
				return fmt.Errorf("stop agent %s: %w", a.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// TrackRequest records one unit of fleet request traffic.
func (r *Registry) TrackRequest() {
	r.requests.record(r.now())
}

// RequestRate returns requests per minute over the given window.
func (r *Registry) RequestRate(window time.Duration) float64 {
	return r.requests.ratePerMinute(r.now(), window)
}

// QuickQuery answers a one-shot question with an ephemeral session of the
// given kind, bypassing the fleet. Responses are cached by kind and
// question so repeated queries stay cheap; the bool reports a cache hit.
func (r *Registry) QuickQuery(ctx context.Context, kind agent.Kind, question string) (string, bool, error) {
	key := quickQueryKey(kind, question)

	if r.cache != nil {
		if v, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			slog.Debug("quick query cache hit", "kind", kind)
			return string(v), true, nil
		}
	}

	defaults := agent.DefaultsFor(kind)
	opts := session.Options{
		SystemPrompt:   defaults.SystemPrompt,
		AllowedTools:   defaults.AllowedTools,
		PermissionMode: defaults.PermissionMode,
		Model:          r.runtimeCfg.Model,
		MaxTurns:       1,
		APIKey:         r.runtimeCfg.APIKey,
		WorkingDir:     r.fleetCfg.DefaultWorkingDir,
	}

	queryCtx := ctx
	var cancel context.CancelFunc
	if r.fleetCfg.MessageTimeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, r.fleetCfg.MessageTimeout)
		defer cancel()
	}

	var sess session.Session
	open := func() error {
		var err error
		sess, err = r.adapter.Open(queryCtx, opts)
		return err
	}
	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(open)
	} else {
		err = open()
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: quick query session: %v", domain.ErrStartFailure, err)
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("quick query session close failed", "error", err)
		}
	}()

	r.TrackRequest()
	fragments, err := sess.Send(queryCtx, question)
	if err != nil {
		return "", false, fmt.Errorf("%w: quick query: %v", domain.ErrInternal, err)
	}

	answer := session.Join(fragments)
	if answer == "" {
		answer = "No response received"
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, []byte(answer), r.cacheTTL); err != nil {
			slog.Warn("quick query cache set failed", "error", err)
		}
	}
	return answer, false, nil
}

func quickQueryKey(kind agent.Kind, question string) string {
	sum := sha256.Sum256([]byte(question))
	return "qq:" + string(kind) + ":" + hex.EncodeToString(sum[:])
}

// requestWindowCapacity bounds the timestamp ring; beyond this the oldest
// requests fall off even inside the window.
const requestWindowCapacity = 1000

// requestWindow is a bounded ring of request timestamps used to derive
// the fleet's request rate.
type requestWindow struct {
	mu    sync.Mutex
	buf   []time.Time
	next  int
	count int
}

func newRequestWindow(capacity int) *requestWindow {
	return &requestWindow{buf: make([]time.Time, capacity)}
}

func (w *requestWindow) record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = t
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// ratePerMinute counts requests within the window ending at now and
// normalizes to a per-minute rate.
func (w *requestWindow) ratePerMinute(now time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)

	w.mu.Lock()
	recent := 0
	start := w.next - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := range w.count {
		if w.buf[(start+i)%len(w.buf)].After(cutoff) {
			recent++
		}
	}
	w.mu.Unlock()

	return float64(recent) / window.Minutes()
}

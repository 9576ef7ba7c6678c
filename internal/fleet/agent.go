// Package fleet implements the agent lifecycle core: the supervised Agent
// state machine, the capacity-enforcing Registry, and the Autoscaler.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/port/session"
	"github.com/agentfleet/agentfleet/internal/resilience"
)

// agentDeps bundles everything an Agent needs from its registry.
type agentDeps struct {
	adapter  session.Adapter
	breaker  *resilience.Breaker
	fleet    config.Fleet
	runtime  config.Runtime
	onStatus func(id string, status agent.Status)
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Agent owns one runtime session: its state machine, counters, monitors,
// and recovery budget. Lifecycle operations (Start, Stop, SendMessage,
// Recover) are serialized by the agent's own mutex; status, activity and
// counters are atomics so the monitor loops never contend with that mutex.
type Agent struct {
	id        string
	cfg       agent.Config // resolved at creation, immutable
	createdAt time.Time

	// mu serializes lifecycle operations. The session handle is only
	// touched with mu held.
	mu         sync.Mutex
	sess       session.Session
	terminated bool // set by Terminate; the agent can never start again

	status           atomic.Value // agent.Status
	lastActivity     atomic.Int64 // unix nanos
	messagesCount    atomic.Int64
	recoveryAttempts atomic.Int64

	history *History

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	deps agentDeps
}

func newAgent(id string, cfg agent.Config, deps agentDeps) *Agent {
	if deps.now == nil {
		deps.now = time.Now
	}
	if deps.sleep == nil {
		deps.sleep = sleepCtx
	}
	a := &Agent{
		id:        id,
		cfg:       agent.Resolve(cfg),
		createdAt: deps.now(),
		history:   NewHistory(deps.fleet.HistoryLimit),
		deps:      deps,
	}
	a.status.Store(agent.StatusStopped)
	a.lastActivity.Store(a.createdAt.UnixNano())
	return a
}

// ID returns the agent's immutable identifier.
func (a *Agent) ID() string { return a.id }

// Config returns the resolved, immutable configuration snapshot.
func (a *Agent) Config() agent.Config { return a.cfg }

// Status returns the current lifecycle status.
func (a *Agent) Status() agent.Status {
	return a.status.Load().(agent.Status)
}

// CreatedAt returns the creation timestamp.
func (a *Agent) CreatedAt() time.Time { return a.createdAt }

// MessagesCount returns the number of completed message exchanges.
func (a *Agent) MessagesCount() int {
	return int(a.messagesCount.Load())
}

// LastActivityAt returns the timestamp of the last successful exchange,
// or the creation time if none has completed yet.
func (a *Agent) LastActivityAt() time.Time {
	return time.Unix(0, a.lastActivity.Load())
}

// Info returns the externally visible snapshot of this agent.
func (a *Agent) Info() agent.Info {
	return agent.Info{
		ID:               a.id,
		Status:           a.Status(),
		Config:           a.cfg,
		CreatedAt:        a.createdAt,
		LastActivityAt:   a.LastActivityAt(),
		MessagesCount:    a.MessagesCount(),
		RecoveryAttempts: int(a.recoveryAttempts.Load()),
	}
}

// History returns the retained conversation exchanges, oldest first.
func (a *Agent) History() []agent.Exchange {
	return a.history.Snapshot()
}

func (a *Agent) setStatus(s agent.Status) {
	a.status.Store(s)
	if a.deps.onStatus != nil {
		a.deps.onStatus(a.id, s)
	}
}

// Start opens the underlying runtime session and launches the monitor
// loops. Idempotent on a running agent.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked(ctx)
}

// startLocked must be called with a.mu held.
func (a *Agent) startLocked(ctx context.Context) error {
	if a.terminated {
		return fmt.Errorf("%w: agent %s is terminated", domain.ErrNotRunning, a.id)
	}
	if a.Status() == agent.StatusRunning {
		return nil
	}

	slog.Info("starting agent", "agent_id", a.id, "kind", a.cfg.Kind)
	a.setStatus(agent.StatusStarting)

	workDir := a.cfg.WorkingDir
	if workDir == "" {
		workDir = filepath.Join(a.deps.fleet.DefaultWorkingDir, a.id)
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		a.setStatus(agent.StatusError)
		return fmt.Errorf("%w: working dir: %v", domain.ErrStartFailure, err)
	}

	opts := session.Options{
		WorkingDir:     workDir,
		SystemPrompt:   a.cfg.SystemPrompt,
		AllowedTools:   a.cfg.AllowedTools,
		PermissionMode: a.cfg.PermissionMode,
		Model:          a.cfg.Model,
		MaxTurns:       a.cfg.MaxTurns,
		APIKey:         a.deps.runtime.APIKey,
		Env:            a.cfg.Environment,
	}
	if opts.Model == "" {
		opts.Model = a.deps.runtime.Model
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if a.deps.fleet.StartTimeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, a.deps.fleet.StartTimeout)
		defer cancel()
	}

	var sess session.Session
	open := func() error {
		var err error
		sess, err = a.deps.adapter.Open(openCtx, opts)
		return err
	}
	var err error
	if a.deps.breaker != nil {
		err = a.deps.breaker.Execute(open)
	} else {
		err = open()
	}
	if err != nil {
		a.setStatus(agent.StatusError)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: open session: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: open session: %v", domain.ErrStartFailure, err)
	}

	a.sess = sess
	a.lastActivity.Store(a.deps.now().UnixNano())
	a.setStatus(agent.StatusRunning)
	a.startMonitorsLocked()

	slog.Info("agent started", "agent_id", a.id, "kind", a.cfg.Kind)
	return nil
}

// startMonitorsLocked launches the health and idle loops. Must be called
// with a.mu held. An interval of zero disables the corresponding loop.
func (a *Agent) startMonitorsLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	a.monitorCancel = cancel

	if a.deps.fleet.HealthCheckInterval > 0 {
		a.monitorWG.Add(1)
		go a.healthLoop(ctx)
	}
	if a.deps.fleet.IdleCheckInterval > 0 {
		a.monitorWG.Add(1)
		go a.idleLoop(ctx)
	}
}

// Stop closes the session. Idempotent on an already-stopped agent.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked(ctx, agent.StatusStopped)
}

// Terminate stops the agent and marks it unstartable. Called on the
// delete path so a recovery already in flight cannot revive an agent
// that has left the registry.
func (a *Agent) Terminate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminated = true
	return a.stopLocked(ctx, agent.StatusTerminated)
}

// stopLocked must be called with a.mu held. The monitor loops are
// cancelled and awaited before the session handle is released so a
// monitor can never act on a half-torn-down agent.
func (a *Agent) stopLocked(ctx context.Context, final agent.Status) error {
	if a.sess == nil {
		a.setStatus(final)
		return nil
	}

	slog.Info("stopping agent", "agent_id", a.id)

	if a.monitorCancel != nil {
		a.monitorCancel()
		a.monitorCancel = nil
	}
	a.monitorWG.Wait()

	a.closeSession(ctx)
	a.sess = nil
	a.setStatus(final)

	slog.Info("agent stopped", "agent_id", a.id)
	return nil
}

// closeSession tries a bounded graceful close first, then an unbounded
// one. Cleanup failures are warnings, never fatal.
func (a *Agent) closeSession(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.sess.Close(closeCtx); err != nil {
		slog.Warn("graceful session close failed, retrying", "agent_id", a.id, "error", err)
		if err := a.sess.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("session close failed", "agent_id", a.id, "error", err)
		}
	}
}

// SendMessage sends text through the session and returns the concatenated
// response. The optional extra context is rendered as a preamble. Fails
// with domain.ErrNotRunning unless the agent is running with a live
// session; the agent's status is never changed by a failed send (that is
// the health monitor's call).
func (a *Agent) SendMessage(ctx context.Context, text string, extra map[string]string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status() != agent.StatusRunning || a.sess == nil {
		return "", fmt.Errorf("%w: agent %s is %s", domain.ErrNotRunning, a.id, a.Status())
	}

	full := composeMessage(text, extra)

	sendCtx := ctx
	var cancel context.CancelFunc
	if a.deps.fleet.MessageTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, a.deps.fleet.MessageTimeout)
		defer cancel()
	}

	fragments, err := a.sess.Send(sendCtx, full)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Error("message exchange timed out", "agent_id", a.id)
			return "", fmt.Errorf("%w: send to agent %s: %v", domain.ErrTimeout, a.id, err)
		}
		slog.Error("message exchange failed", "agent_id", a.id, "error", err)
		return "", fmt.Errorf("%w: send to agent %s: %v", domain.ErrInternal, a.id, err)
	}

	response := session.Join(fragments)
	now := a.deps.now()

	a.messagesCount.Add(1)
	a.lastActivity.Store(now.UnixNano())
	a.history.Append(agent.Exchange{User: text, Assistant: response, Timestamp: now})

	if response == "" {
		return "No response received", nil
	}
	return response, nil
}

// composeMessage prepends the extra context, if any, as a preamble with
// deterministically ordered keys.
func composeMessage(text string, extra map[string]string) string {
	if len(extra) == 0 {
		return text
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("Context:\n")
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(extra[k])
		sb.WriteString("\n")
	}
	sb.WriteString("\nMessage: ")
	sb.WriteString(text)
	return sb.String()
}

// Recover restarts the agent with exponential backoff, consuming one
// recovery attempt. Returns domain.ErrRecoveryExhausted once the budget
// is spent; a successful restart earns a fresh budget.
func (a *Agent) Recover(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return fmt.Errorf("%w: agent %s is terminated", domain.ErrNotRunning, a.id)
	}

	attempts := a.recoveryAttempts.Load()
	if attempts >= int64(a.deps.fleet.MaxRecoveryAttempts) {
		slog.Warn("recovery budget exhausted", "agent_id", a.id, "attempts", attempts)
		return fmt.Errorf("%w: agent %s after %d attempts", domain.ErrRecoveryExhausted, a.id, attempts)
	}

	attempt := a.recoveryAttempts.Add(1)
	slog.Info("recovering agent", "agent_id", a.id, "attempt", attempt)
	a.setStatus(agent.StatusRecovering)

	if err := a.stopLocked(ctx, agent.StatusRecovering); err != nil {
		slog.Warn("stop during recovery failed", "agent_id", a.id, "error", err)
	}

	backoff := a.deps.fleet.RecoveryBackoffBase * (1 << (attempt - 1))
	if err := a.deps.sleep(ctx, backoff); err != nil {
		a.setStatus(agent.StatusError)
		return fmt.Errorf("recovery interrupted: %w", err)
	}

	if err := a.startLocked(ctx); err != nil {
		a.setStatus(agent.StatusError)
		return fmt.Errorf("recovery restart: %w", err)
	}

	a.recoveryAttempts.Store(0)
	slog.Info("agent recovered", "agent_id", a.id)
	return nil
}

// healthLoop watches a running agent and flags it as failed when the
// session disappears, the status leaves Running, or the agent has been
// inactive beyond the health timeout. On failure the loop exits; recovery
// runs on a detached goroutine so Stop can await loop termination.
func (a *Agent) healthLoop(ctx context.Context) {
	defer a.monitorWG.Done()

	ticker := time.NewTicker(a.deps.fleet.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if a.Status() != agent.StatusRunning {
			return
		}

		idle := a.deps.now().Sub(a.LastActivityAt())
		if a.deps.fleet.HealthTimeout > 0 && idle > a.deps.fleet.HealthTimeout {
			slog.Warn("agent failed health check", "agent_id", a.id, "idle", idle)
			a.setStatus(agent.StatusError)
			if a.deps.fleet.EnableAutoRecovery {
				go a.autoRecover()
			}
			return
		}
	}
}

// autoRecover is the health monitor's recovery path. Errors stay internal.
func (a *Agent) autoRecover() {
	if err := a.Recover(context.Background()); err != nil {
		slog.Error("auto-recovery failed", "agent_id", a.id, "error", err)
	}
}

// idleLoop shuts down a running agent once it has been inactive beyond the
// idle timeout. The stop runs on a detached goroutine after the loop exits.
func (a *Agent) idleLoop(ctx context.Context) {
	defer a.monitorWG.Done()

	ticker := time.NewTicker(a.deps.fleet.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if a.Status() != agent.StatusRunning {
			return
		}

		idle := a.deps.now().Sub(a.LastActivityAt())
		if a.deps.fleet.IdleTimeout > 0 && idle > a.deps.fleet.IdleTimeout {
			slog.Info("agent idle timeout, shutting down", "agent_id", a.id, "idle", idle)
			a.status.Store(agent.StatusIdle)
			if a.deps.onStatus != nil {
				a.deps.onStatus(a.id, agent.StatusIdle)
			}
			go func() {
				if err := a.Stop(context.Background()); err != nil {
					slog.Warn("idle shutdown failed", "agent_id", a.id, "error", err)
				}
			}()
			return
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentfleet/agentfleet/internal/adapter/otel"
	"github.com/agentfleet/agentfleet/internal/adapter/ws"
	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/port/broadcast"
)

// passErrorBackoff is the extra delay after a failed evaluation pass, so a
// persistently failing fleet does not spin the scaler.
const passErrorBackoff = time.Minute

// Autoscaler grows and shrinks the fleet from two signals: running-agent
// utilization and the request rate over a sliding window. Scaling actions
// honor a cooldown so the fleet never thrashes.
type Autoscaler struct {
	reg      *Registry
	cfg      config.Autoscale
	fleetCfg config.Fleet
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics

	// Cooldowns are tracked per direction: a fresh scale-up must not
	// block a warranted scale-down, and vice versa.
	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time
	scaleUps      int
	scaleDowns    int
	lastDecision  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// Stats is a point-in-time snapshot of the autoscaler's view of the fleet.
type Stats struct {
	Enabled           bool          `json:"enabled"`
	TotalAgents       int           `json:"total_agents"`
	RunningAgents     int           `json:"running_agents"`
	IdleAgents        int           `json:"idle_agents"`
	Utilization       float64       `json:"utilization"`
	RequestRate       float64       `json:"request_rate_per_min"`
	ScaleUps          int           `json:"scale_ups"`
	ScaleDowns        int           `json:"scale_downs"`
	LastDecision      string        `json:"last_decision"`
	LastScaleUp       time.Time     `json:"last_scale_up,omitzero"`
	LastScaleDown     time.Time     `json:"last_scale_down,omitzero"`
}

// NewAutoscaler creates an autoscaler bound to one registry.
func NewAutoscaler(reg *Registry, cfg config.Autoscale, fleetCfg config.Fleet) *Autoscaler {
	return &Autoscaler{
		reg:      reg,
		cfg:      cfg,
		fleetCfg: fleetCfg,
		now:      time.Now,
	}
}

// SetBroadcaster attaches the event broadcaster for scale events.
func (s *Autoscaler) SetBroadcaster(h broadcast.Broadcaster) { s.hub = h }

// SetMetrics attaches the scale-event instruments.
func (s *Autoscaler) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Run starts the evaluation loop. No-op when autoscaling is disabled.
func (s *Autoscaler) Run() {
	if !s.cfg.Enabled {
		slog.Info("autoscaler disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		slog.Info("autoscaler started", "interval", s.cfg.Interval)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := s.evaluate(ctx); err != nil {
				slog.Error("autoscaler pass failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(passErrorBackoff):
				}
			}
		}
	}()
}

// Stop terminates the evaluation loop and waits for it to exit.
func (s *Autoscaler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// evaluate runs one scaling pass. Utilization is measured against the
// fleet ceiling, not the current population, so a small fleet under load
// reads as low utilization until the request rate says otherwise.
func (s *Autoscaler) evaluate(ctx context.Context) error {
	infos := s.reg.List()
	total := len(infos)
	running, idle := countByStatus(infos)
	rate := s.reg.RequestRate(s.cfg.Window)

	if s.fleetCfg.EnableAutoRecovery {
		s.recoverErrored(ctx, infos)
	}

	// Below the floor: grow back regardless of cooldown or signals.
	if total < s.fleetCfg.MinAgents {
		return s.scaleUp(ctx, s.fleetCfg.MinAgents-total, 0, "below minimum fleet size")
	}
	if total == 0 {
		return nil
	}

	utilization := float64(running) / float64(s.fleetCfg.MaxAgents)
	idleUtilization := float64(idle) / float64(total)

	now := s.now()
	s.mu.Lock()
	upCooldown := !s.lastScaleUp.IsZero() && now.Sub(s.lastScaleUp) < s.cfg.Cooldown
	downCooldown := !s.lastScaleDown.IsZero() && now.Sub(s.lastScaleDown) < s.cfg.Cooldown
	s.mu.Unlock()

	// Scale-up takes priority; the two directions are mutually exclusive
	// within a pass. Each direction honors only its own cooldown.
	wantUp := utilization > s.cfg.ScaleUpThreshold || rate > float64(running)*0.8
	if wantUp && !upCooldown && total < s.fleetCfg.MaxAgents {
		n := max(int(math.Round(float64(total)*0.5)), 2)
		n = min(n, s.fleetCfg.MaxAgents-total)
		reason := fmt.Sprintf("utilization %.2f, rate %.1f/min", utilization, rate)
		return s.scaleUp(ctx, n, utilization, reason)
	}

	wantDown := (utilization < s.cfg.ScaleDownThreshold && idleUtilization > 0.5) ||
		rate < float64(total)*0.2
	if wantDown && !downCooldown && total > s.fleetCfg.MinAgents {
		candidates := scaleDownCandidates(infos)
		if len(candidates) == 0 {
			return nil
		}
		// The removal amount is derived from the idle population; a fleet
		// with no idle agents shrinks by nothing even when traffic is low.
		n := max(int(math.Round(float64(idle)*0.3)), 1)
		n = min(n, idle, len(candidates), total-s.fleetCfg.MinAgents)
		if n <= 0 {
			return nil
		}
		reason := fmt.Sprintf("utilization %.2f, idle %.2f, rate %.1f/min", utilization, idleUtilization, rate)
		return s.scaleDown(ctx, candidates[:n], utilization, reason)
	}

	return nil
}

// recoverErrored tries to recover every errored agent, independent of the
// scale decision. Failures are logged; a dead agent stays errored until
// its recovery budget revives it or an operator intervenes.
func (s *Autoscaler) recoverErrored(ctx context.Context, infos []agent.Info) {
	for _, in := range infos {
		if in.Status != agent.StatusError {
			continue
		}
		a, err := s.reg.Agent(in.ID)
		if err != nil {
			continue
		}
		if err := a.Recover(ctx); err != nil {
			slog.Warn("autoscaler recovery failed", "agent_id", in.ID, "error", err)
		}
	}
}

// scaleUp adds n agents to the fleet. New agents are registered but not
// started; they spin up lazily on first use. The cooldown stamp lands even
// on partial failure so a broken runtime cannot trigger a create storm.
func (s *Autoscaler) scaleUp(ctx context.Context, n int, utilization float64, reason string) error {
	slog.Info("scaling up", "count", n, "reason", reason)

	var failed error
	created := 0
	for range n {
		if _, err := s.reg.Create(ctx, agent.Config{Kind: agent.KindGeneral}, false); err != nil {
			failed = err
			break
		}
		created++
	}

	s.stamp("up", created)
	s.recordScale(ctx, "up", created)

	if s.hub != nil && created > 0 {
		s.hub.BroadcastEvent(ctx, ws.EventFleetScale, ws.FleetScaleEvent{
			Direction:   "up",
			Count:       created,
			Utilization: utilization,
			Reason:      reason,
		})
	}

	if failed != nil {
		return fmt.Errorf("scale up created %d of %d: %w", created, n, failed)
	}
	return nil
}

// scaleDown removes the given agents, oldest first. Individual delete
// failures are logged and skipped; the cooldown stamp lands regardless.
func (s *Autoscaler) scaleDown(ctx context.Context, victims []agent.Info, utilization float64, reason string) error {
	slog.Info("scaling down", "count", len(victims), "reason", reason)

	removed := 0
	for _, v := range victims {
		if err := s.reg.Delete(ctx, v.ID); err != nil {
			slog.Warn("scale down delete failed", "agent_id", v.ID, "error", err)
			continue
		}
		removed++
	}

	s.stamp("down", removed)
	s.recordScale(ctx, "down", removed)

	if s.hub != nil && removed > 0 {
		s.hub.BroadcastEvent(ctx, ws.EventFleetScale, ws.FleetScaleEvent{
			Direction:   "down",
			Count:       removed,
			Utilization: utilization,
			Reason:      reason,
		})
	}
	return nil
}

func (s *Autoscaler) recordScale(ctx context.Context, direction string, count int) {
	if s.metrics == nil || count == 0 {
		return
	}
	s.metrics.ScaleEvents.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("scale.direction", direction)))
}

func (s *Autoscaler) stamp(direction string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDecision = fmt.Sprintf("%s %d", direction, count)
	if direction == "up" {
		s.lastScaleUp = s.now()
		s.scaleUps++
	} else {
		s.lastScaleDown = s.now()
		s.scaleDowns++
	}
}

// Snapshot returns the current autoscaler statistics.
func (s *Autoscaler) Snapshot() Stats {
	infos := s.reg.List()
	running, idle := countByStatus(infos)

	var utilization float64
	if s.fleetCfg.MaxAgents > 0 {
		utilization = float64(running) / float64(s.fleetCfg.MaxAgents)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Enabled:       s.cfg.Enabled,
		TotalAgents:   len(infos),
		RunningAgents: running,
		IdleAgents:    idle,
		Utilization:   utilization,
		RequestRate:   s.reg.RequestRate(s.cfg.Window),
		ScaleUps:      s.scaleUps,
		ScaleDowns:    s.scaleDowns,
		LastDecision:  s.lastDecision,
		LastScaleUp:   s.lastScaleUp,
		LastScaleDown: s.lastScaleDown,
	}
}

func countByStatus(infos []agent.Info) (running, idle int) {
	for _, in := range infos {
		switch in.Status {
		case agent.StatusRunning:
			running++
		case agent.StatusIdle:
			idle++
		}
	}
	return running, idle
}

// scaleDownCandidates picks agents safe to remove: stopped, idle, or
// running but never used. Sorted oldest first; removal starts there.
func scaleDownCandidates(infos []agent.Info) []agent.Info {
	var out []agent.Info
	for _, in := range infos {
		switch {
		case in.Status == agent.StatusStopped, in.Status == agent.StatusIdle:
			out = append(out, in)
		case in.Status == agent.StatusRunning && in.MessagesCount == 0:
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

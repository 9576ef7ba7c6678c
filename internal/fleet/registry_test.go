package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func testRegistry(t *testing.T, ad *fakeAdapter, mutate func(*config.Fleet)) *Registry {
	t.Helper()
	cfg := testFleetConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRegistry(cfg, config.Runtime{Model: "m", APIKey: "k"}, ad)
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, nil)

	info, err := r.Create(context.Background(), agent.Config{Kind: agent.KindCode}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Status != agent.StatusRunning {
		t.Errorf("status = %s, want running", info.Status)
	}

	got, err := r.Get(info.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Config.Kind != agent.KindCode {
		t.Errorf("kind = %s, want code", got.Config.Kind)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestRegistryCreateWithoutStart(t *testing.T) {
	ad := &fakeAdapter{}
	r := testRegistry(t, ad, nil)

	info, err := r.Create(context.Background(), agent.Config{}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Status != agent.StatusStopped {
		t.Errorf("status = %s, want stopped", info.Status)
	}
	if ad.openCount() != 0 {
		t.Errorf("adapter opened %d times, want 0", ad.openCount())
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, func(c *config.Fleet) { c.MaxAgents = 2 })

	for range 2 {
		if _, err := r.Create(context.Background(), agent.Config{}, false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	_, err := r.Create(context.Background(), agent.Config{}, false)
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if r.Count() != 2 {
		t.Errorf("count = %d, want 2", r.Count())
	}
}

func TestRegistryCreateStartFailureRollsBack(t *testing.T) {
	ad := &fakeAdapter{openErr: errors.New("spawn failed")}
	r := testRegistry(t, ad, nil)

	_, err := r.Create(context.Background(), agent.Config{}, true)
	if !errors.Is(err, domain.ErrStartFailure) {
		t.Fatalf("err = %v, want ErrStartFailure", err)
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0 after failed start", r.Count())
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, nil)

	if _, err := r.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeletePreventsPendingRecovery(t *testing.T) {
	ad := &fakeAdapter{}
	r := testRegistry(t, ad, nil)

	info, err := r.Create(context.Background(), agent.Config{}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := r.Agent(info.ID)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}

	if err := r.Delete(context.Background(), info.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A recovery that lost the race with Delete must not restart the
	// session: the agent has left the registry and nothing could ever
	// stop it again.
	opens := ad.openCount()
	if err := a.Recover(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("recover after delete = %v, want ErrNotRunning", err)
	}
	if got := ad.openCount(); got != opens {
		t.Errorf("opens = %d, want %d (no session after delete)", got, opens)
	}
	if got := a.Status(); got != agent.StatusTerminated {
		t.Errorf("status = %s, want terminated", got)
	}

	// Direct restart attempts are refused the same way.
	if err := a.Start(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("start after delete = %v, want ErrNotRunning", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	ad := &fakeAdapter{}
	r := testRegistry(t, ad, nil)

	info, err := r.Create(context.Background(), agent.Config{}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Delete(context.Background(), info.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
	if got := ad.sess.closed.Load(); got != 1 {
		t.Errorf("session closed %d times, want 1", got)
	}

	if err := r.Delete(context.Background(), info.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestRegistrySendMessageTracksRequests(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, nil)

	info, err := r.Create(context.Background(), agent.Config{}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := r.SendMessage(context.Background(), info.ID, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp != "ok" {
		t.Errorf("response = %q, want ok", resp)
	}
	if rate := r.RequestRate(time.Minute); rate <= 0 {
		t.Errorf("request rate = %v, want > 0", rate)
	}
}

func TestRegistryShutdownAll(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, nil)

	var ids []string
	for range 3 {
		info, err := r.Create(context.Background(), agent.Config{}, true)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, info.ID)
	}

	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("shutdown all: %v", err)
	}

	// Agents stay registered but are all stopped.
	if r.Count() != 3 {
		t.Errorf("count = %d, want 3", r.Count())
	}
	for _, id := range ids {
		info, err := r.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if info.Status != agent.StatusStopped {
			t.Errorf("agent %s status = %s, want stopped", id, info.Status)
		}
	}
}

func TestRegistryQuickQueryUsesCache(t *testing.T) {
	ad := &fakeAdapter{}
	r := testRegistry(t, ad, nil)
	r.SetCache(newFakeCache(), time.Minute)

	answer, cached, err := r.QuickQuery(context.Background(), agent.KindResearch, "what is Go?")
	if err != nil {
		t.Fatalf("quick query: %v", err)
	}
	if answer != "ok" || cached {
		t.Errorf("answer = %q cached=%v, want ok from session", answer, cached)
	}
	if ad.openCount() != 1 {
		t.Fatalf("adapter opened %d times, want 1", ad.openCount())
	}
	// Ephemeral session is closed after the query.
	if got := ad.sess.closed.Load(); got != 1 {
		t.Errorf("session closed %d times, want 1", got)
	}

	again, cached, err := r.QuickQuery(context.Background(), agent.KindResearch, "what is Go?")
	if err != nil {
		t.Fatalf("cached quick query: %v", err)
	}
	if again != answer || !cached {
		t.Errorf("cached answer = %q cached=%v, want %q from cache", again, cached, answer)
	}
	if ad.openCount() != 1 {
		t.Errorf("adapter opened %d times after cache hit, want 1", ad.openCount())
	}
}

func TestRegistryRequestRateWindow(t *testing.T) {
	r := testRegistry(t, &fakeAdapter{}, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	r.TrackRequest()
	r.TrackRequest()
	r.TrackRequest()

	// Inside the window: 3 requests over 1 minute.
	if rate := r.RequestRate(time.Minute); rate != 3 {
		t.Errorf("rate = %v, want 3", rate)
	}

	// Move past the window: everything ages out.
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if rate := r.RequestRate(time.Minute); rate != 0 {
		t.Errorf("rate after window = %v, want 0", rate)
	}
}

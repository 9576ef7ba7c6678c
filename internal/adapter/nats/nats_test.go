package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Publisher {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	p, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func TestPublisherBroadcastEvent(t *testing.T) {
	p := testConnect(t)
	ctx := context.Background()

	subject := subjectPrefix + "agent.status"

	consumer, err := p.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	var (
		got  []byte
		done = make(chan struct{})
		once sync.Once
	)
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		once.Do(func() {
			got = msg.Data()
			close(done)
		})
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	defer sub.Stop()

	type statusEvent struct {
		AgentID string `json:"agent_id"`
		Status  string `json:"status"`
	}
	p.BroadcastEvent(ctx, "agent.status", statusEvent{AgentID: "a1", Status: "running"})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	var decoded statusEvent
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.AgentID != "a1" || decoded.Status != "running" {
		t.Errorf("event = %+v", decoded)
	}
}

func TestPublisherBroadcastUnmarshalablePayload(t *testing.T) {
	p := testConnect(t)

	// Channels cannot be marshaled; the publisher must swallow the error.
	p.BroadcastEvent(context.Background(), "agent.status", make(chan int))
}

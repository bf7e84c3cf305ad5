package queue

import (
	"testing"

	"github.com/freshcart-next/internal/config"
)

func TestCartAvailabilityRefreshTaskRoundTrip(t *testing.T) {
	task, err := NewCartAvailabilityRefreshTask(CartAvailabilityRefreshPayload{UserID: 7, ProductID: "A"})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if task.Type() != TaskCartAvailabilityRefresh {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	payload, err := ParseCartAvailabilityRefreshPayload(task)
	if err != nil {
		t.Fatalf("parse payload failed: %v", err)
	}
	if payload.UserID != 7 || payload.ProductID != "A" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDisabledClientSkipsEnqueue(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("client must be disabled")
	}
	if err := client.EnqueueCartAvailabilityRefresh(CartAvailabilityRefreshPayload{UserID: 1}); err != nil {
		t.Fatalf("disabled client must not fail: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(nil)
	if opt.Addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected redis addr %s", opt.Addr)
	}
	if cfg.Concurrency != 10 || cfg.Queues[DefaultQueue] != 1 {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
}

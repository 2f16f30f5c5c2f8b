package fanout_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/outboxkit/core/fanout"
	"github.com/outboxkit/core/message"
)

func TestCoordinatorRegistryResolvesByTopicAndWorkKey(t *testing.T) {
	reg := fanout.NewCoordinatorRegistry()
	reg.Register("orders", "", &fanout.Coordinator{})
	reg.Register("orders", "tenant-1", &fanout.Coordinator{})

	if _, ok := reg.Resolve("orders"); !ok {
		t.Fatal("expected topic-wide coordinator to resolve")
	}
	if _, ok := reg.Resolve("orders:tenant-1"); !ok {
		t.Fatal("expected sharded coordinator to resolve")
	}
	if _, ok := reg.Resolve("unknown"); ok {
		t.Fatal("expected unregistered key to not resolve")
	}
}

func TestCoordinateHandlerReturnsErrorForUnresolvedCoordinator(t *testing.T) {
	handler := fanout.NewCoordinateHandler(fanout.NewCoordinatorRegistry())
	payload, err := json.Marshal(struct {
		Topic   string `json:"topic"`
		WorkKey string `json:"workKey"`
	}{Topic: "orders", WorkKey: ""})
	if err != nil {
		t.Fatal(err)
	}
	env := &message.Envelope{Topic: "fanout.coordinate", Payload: payload}
	if err := handler.Handle(context.Background(), env); err == nil {
		t.Fatal("expected error when no coordinator is registered for the topic")
	}
}

func TestCoordinateHandlerTopic(t *testing.T) {
	handler := fanout.NewCoordinateHandler(fanout.NewCoordinatorRegistry())
	if handler.Topic() != "fanout.coordinate" {
		t.Fatalf("unexpected topic %q", handler.Topic())
	}
}

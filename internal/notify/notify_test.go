package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"buildhook/internal"
)

// stubPublisher records what was published for assertions.
type stubPublisher struct {
	published   int
	lastTopic   string
	lastPayload []byte
}

func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
	}
	return nil
}

func (s *stubPublisher) Close() error { return nil }

func withStubDriver(t *testing.T, name string, stub *stubPublisher, closeFn func() error) {
	t.Helper()
	orig, had := driverFactories[name]
	t.Cleanup(func() {
		if had {
			driverFactories[name] = orig
		} else {
			delete(driverFactories, name)
		}
	})
	RegisterDriver(name, func(cfg internal.NotifierConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, closeFn, nil
	})
}

// TestRegisterDriver tests that a custom driver can be registered, used
// and closed.
func TestRegisterDriver(t *testing.T) {
	stub := &stubPublisher{}
	closed := false
	withStubDriver(t, "custom", stub, func() error { closed = true; return nil })

	n, err := New(internal.NotifierConfig{Driver: "custom"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Publish(context.Background(), TopicBuildScheduled, Notification{Kind: "push", Job: "diaspora"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if stub.published != 1 || stub.lastTopic != TopicBuildScheduled {
		t.Fatalf("expected one publish to %s, got %d to %q", TopicBuildScheduled, stub.published, stub.lastTopic)
	}

	var decoded Notification
	if err := json.Unmarshal(stub.lastPayload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.Job != "diaspora" {
		t.Fatalf("unexpected payload %s", stub.lastPayload)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closed {
		t.Fatalf("expected custom close to be called")
	}
}

// TestFanout tests publishing to several drivers at once.
func TestFanout(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	withStubDriver(t, "fan-a", a, nil)
	withStubDriver(t, "fan-b", b, nil)

	n, err := New(internal.NotifierConfig{Drivers: []string{"fan-a", "fan-b"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Publish(context.Background(), TopicJobCreated, Notification{Job: "diaspora_feature"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected both drivers to publish, got a=%d b=%d", a.published, b.published)
	}
}

// TestBrokenDriverSkipped tests that a driver failing to initialize does
// not block the others.
func TestBrokenDriverSkipped(t *testing.T) {
	stub := &stubPublisher{}
	withStubDriver(t, "good", stub, nil)

	// "sql" without driver and dsn fails to initialize.
	n, err := New(internal.NotifierConfig{Drivers: []string{"sql", "good"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Publish(context.Background(), TopicEventSkipped, Notification{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected the working driver to publish, got %d", stub.published)
	}
}

// TestNoDrivers tests that New fails when nothing could be built.
func TestNoDrivers(t *testing.T) {
	if _, err := New(internal.NotifierConfig{Driver: "sql"}); err == nil {
		t.Fatalf("expected an error with no usable drivers")
	}
}

// TestNoneDriver tests the explicit no-op configuration.
func TestNoneDriver(t *testing.T) {
	n, err := New(internal.NotifierConfig{Driver: "none"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := n.(Nop); !ok {
		t.Fatalf("expected the no-op notifier, got %T", n)
	}
}

// TestHTTPTarget tests HTTP target construction in both modes.
func TestHTTPTarget(t *testing.T) {
	url, err := httpTarget(internal.HTTPNotifierConfig{Mode: "base_url", BaseURL: "http://localhost:8080/hooks/"}, TopicJobDeleted)
	if err != nil {
		t.Fatalf("httpTarget: %v", err)
	}
	if url != "http://localhost:8080/hooks/"+TopicJobDeleted {
		t.Fatalf("unexpected url %q", url)
	}

	url, err = httpTarget(internal.HTTPNotifierConfig{Mode: "topic_url"}, "http://sink.example.com/outcomes")
	if err != nil {
		t.Fatalf("httpTarget: %v", err)
	}
	if url != "http://sink.example.com/outcomes" {
		t.Fatalf("unexpected url %q", url)
	}

	if _, err := httpTarget(internal.HTTPNotifierConfig{Mode: "bogus"}, "topic"); err == nil {
		t.Fatalf("expected an error for an unsupported mode")
	}
}

// TestSchemaAdapter tests the sql dialect mapping.
func TestSchemaAdapter(t *testing.T) {
	if _, err := schemaAdapter("postgres"); err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if _, err := schemaAdapter("mysql"); err != nil {
		t.Fatalf("mysql: %v", err)
	}
	if _, err := schemaAdapter("oracle"); err == nil {
		t.Fatalf("expected an error for an unsupported dialect")
	}
}

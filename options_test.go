package postrelay

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/postrelay/usage"
)

func TestNew_Valid(t *testing.T) {
	relay, err := New(
		WithSources(mustSource(t, "golang", WithDeliveryTarget(testWebhook))),
		WithFetcher(newStaticFetcher()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if relay == nil {
		t.Fatal("New() returned nil relay")
	}
}

func TestNew_Defaults(t *testing.T) {
	relay, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if relay.NotificationDelay() != 2*time.Second {
		t.Errorf("NotificationDelay() = %v, want 2s", relay.NotificationDelay())
	}
	if relay.Port() != 0 {
		t.Errorf("Port() = %d, want 0 (server off)", relay.Port())
	}
	if relay.UsageMeter() == nil {
		t.Error("UsageMeter() = nil, want in-memory default")
	}
	if _, ok := relay.Registry().(*MemoryRegistry); !ok {
		t.Errorf("Registry() = %T, want *MemoryRegistry", relay.Registry())
	}
}

func TestNew_Requirements(t *testing.T) {
	src := mustSource(t, "golang")
	reg, _ := NewMemoryRegistry(src)

	tests := []struct {
		name string
		opts []Option
	}{
		{"no fetcher", []Option{WithSources(src)}},
		{"no sources", []Option{WithFetcher(newStaticFetcher())}},
		{"registry and sources", []Option{WithFetcher(newStaticFetcher()), WithRegistry(reg), WithSources(src)}},
		{"duplicate sources", []Option{WithFetcher(newStaticFetcher()), WithSources(src, src)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("New() should return error")
			}
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	base := []Option{WithSources(mustSource(t, "golang")), WithFetcher(newStaticFetcher())}

	tests := []struct {
		name string
		opt  Option
	}{
		{"negative delay", WithNotificationDelay(-time.Second)},
		{"port zero", WithPort(0)},
		{"port too large", WithPort(65536)},
		{"nil logger", WithLogger(nil)},
		{"nil registry", WithRegistry(nil)},
		{"nil fetcher", WithFetcher(nil)},
		{"nil factory", WithDelivererFactory(nil)},
		{"nil meter", WithUsageMeter(nil)},
		{"nil metrics registry", WithMetricsRegistry(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append(append([]Option(nil), base...), tt.opt)
			if _, err := New(opts...); err == nil {
				t.Errorf("New() with %s should return error", tt.name)
			}
		})
	}
}

func TestWithNotificationDelay_Zero(t *testing.T) {
	relay, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithNotificationDelay(0),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if relay.NotificationDelay() != 0 {
		t.Errorf("NotificationDelay() = %v, want 0", relay.NotificationDelay())
	}
}

func TestWithPort_ValidEdgeCases(t *testing.T) {
	for _, port := range []int{1, 8080, 65535} {
		relay, err := New(
			WithSources(mustSource(t, "golang")),
			WithFetcher(newStaticFetcher()),
			WithPort(port),
		)
		if err != nil {
			t.Fatalf("WithPort(%d) error = %v", port, err)
		}
		if relay.Port() != port {
			t.Errorf("Port() = %d, want %d", relay.Port(), port)
		}
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	relay, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if relay.logger != logger {
		t.Error("logger was not applied")
	}
}

func TestWithTickCallback_NilIsIgnored(t *testing.T) {
	relay, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithTickCallback(nil),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(relay.tickCallbacks) != 0 {
		t.Errorf("tickCallbacks = %d, want 0", len(relay.tickCallbacks))
	}
}

func TestWithMetricsRegistry_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithMetricsRegistry(reg),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "postrelay_active_sources" {
			found = true
		}
	}
	if !found {
		t.Error("postrelay_active_sources not registered")
	}
}

func TestWithMetricsRegistry_SharedRegistryFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := []Option{
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithMetricsRegistry(reg),
	}
	if _, err := New(opts...); err != nil {
		t.Fatalf("first New() error = %v", err)
	}

	relay, err := New(opts...)
	if err == nil {
		t.Fatal("second New() on a shared registry succeeded")
	}
	if relay != nil {
		t.Errorf("second New() relay = %v, want nil", relay)
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		t.Errorf("error = %v, want AlreadyRegisteredError", err)
	}
}

func TestWithUsageMeter(t *testing.T) {
	meter := usage.NewMemory(nil)
	relay, err := New(
		WithSources(mustSource(t, "golang")),
		WithFetcher(newStaticFetcher()),
		WithUsageMeter(meter),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if relay.UsageMeter() == nil {
		t.Fatal("UsageMeter() = nil")
	}
}

package main

import (
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/eikq/arcanum/internal/config"
	"github.com/eikq/arcanum/internal/observe"
	"github.com/eikq/arcanum/internal/spellbook"
)

// Exercises the full config → metrics → hub wiring the binary performs at
// startup, with an isolated meter provider.
func TestNewHub_FromDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	hub := newHub(cfg, spellbook.Default(), metrics)
	if hub == nil {
		t.Fatal("newHub returned nil")
	}
	if got := hub.RoomCount(); got != 0 {
		t.Errorf("fresh hub RoomCount = %d, want 0", got)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{config.LogLevel("bogus"), "INFO"},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in).String(); got != tt.want {
			t.Errorf("slogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

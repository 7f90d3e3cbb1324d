package postrelay

import (
	"testing"
	"time"
)

func TestNewSource_Defaults(t *testing.T) {
	src, err := NewSource("golang")
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	if src.Name != "golang" {
		t.Errorf("Name = %v, want golang", src.Name)
	}
	if src.Interval != defaultSourceInterval {
		t.Errorf("Interval = %v, want %v", src.Interval, defaultSourceInterval)
	}
	if !src.Enabled {
		t.Error("Enabled = false, want true")
	}
	if src.Target != "" {
		t.Errorf("Target = %q, want empty", src.Target)
	}
	if src.Qualifies() {
		t.Error("a source without a target should not qualify for polling")
	}
}

func TestNewSource_EmptyName(t *testing.T) {
	if _, err := NewSource(""); err == nil {
		t.Error("NewSource() with empty name should return error")
	}
}

func TestNewSource_AllOptions(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src, err := NewSource("golang",
		WithInterval(90*time.Second),
		WithDeliveryTarget(testWebhook),
		WithEnabled(false),
		WithLastChecked(last),
	)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	if src.Interval != 90*time.Second {
		t.Errorf("Interval = %v, want 90s", src.Interval)
	}
	if src.Target != testWebhook {
		t.Errorf("Target = %q, want %q", src.Target, testWebhook)
	}
	if src.Enabled {
		t.Error("Enabled = true, want false")
	}
	if !src.LastChecked.Equal(last) {
		t.Errorf("LastChecked = %v, want %v", src.LastChecked, last)
	}
}

func TestWithInterval_Invalid(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Minute},
		{"sub-second", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSource("golang", WithInterval(tt.d)); err == nil {
				t.Errorf("WithInterval(%v) should return error", tt.d)
			}
		})
	}
}

func TestWithDeliveryTarget_Invalid(t *testing.T) {
	for _, target := range []string{"", "not a url", "discord.com/api/webhooks/1", "ftp://discord.com/x"} {
		if _, err := NewSource("golang", WithDeliveryTarget(target)); err == nil {
			t.Errorf("WithDeliveryTarget(%q) should return error", target)
		}
	}
}

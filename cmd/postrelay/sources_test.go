package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpalmerr/postrelay/config"
)

func TestSources_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := executeCmd(t, "sources", "list", "-c", path)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "No sources configured.") {
		t.Errorf("empty list output = %q", out)
	}

	steps := [][]string{
		{"sources", "add", "golang", "--interval", "2.5", "--webhook", "https://discord.com/api/webhooks/1/a"},
		{"sources", "add", "goblog", "--kind", "feed", "--url", "https://go.dev/blog/feed.atom", "--interval", "60"},
		{"sources", "set-interval", "golang", "10"},
		{"sources", "set-webhook", "goblog", "${GOBLOG_WEBHOOK:-}"},
		{"sources", "disable", "goblog"},
	}
	for _, args := range steps {
		if _, err := executeCmd(t, append(args, "-c", path)...); err != nil {
			t.Fatalf("%v error = %v", args, err)
		}
	}

	out, err = executeCmd(t, "sources", "list", "-c", path)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	for _, phrase := range []string{"golang", "10m", "goblog", "feed", "60m"} {
		if !strings.Contains(out, phrase) {
			t.Errorf("list output missing %q\nGot: %s", phrase, out)
		}
	}
	if strings.Contains(out, "webhooks/1/a") {
		t.Error("list should not print webhook URLs")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "${GOBLOG_WEBHOOK:-}") {
		t.Errorf("env reference not saved verbatim:\n%s", data)
	}

	reg, err := config.OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry() error = %v", err)
	}
	cfg, _ := reg.Config()
	if cfg.Sources[1].IsEnabled() {
		t.Error("goblog should be disabled")
	}

	if _, err := executeCmd(t, "sources", "enable", "goblog", "-c", path); err != nil {
		t.Fatalf("enable error = %v", err)
	}
	if _, err := executeCmd(t, "sources", "remove", "golang", "-c", path); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	cfg, _ = reg.Config()
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "goblog" || !cfg.Sources[0].IsEnabled() {
		t.Errorf("sources after remove = %+v", cfg.Sources)
	}
}

func TestSources_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"remove unknown", []string{"sources", "remove", "nope"}, "unknown source"},
		{"bad interval", []string{"sources", "set-interval", "nope", "soon"}, "invalid interval"},
		{"zero interval on add", []string{"sources", "add", "golang", "--interval", "0"}, "interval"},
		{"feed without url", []string{"sources", "add", "goblog", "--kind", "feed"}, "url is required"},
		{"missing argument", []string{"sources", "enable"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, append(tt.args, "-c", path)...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}

	_, err := executeCmd(t, "sources", "disable", "nope", "-c", path)
	if !errors.Is(err, config.ErrUnknownSource) {
		t.Errorf("disable unknown error = %v, want ErrUnknownSource", err)
	}
}

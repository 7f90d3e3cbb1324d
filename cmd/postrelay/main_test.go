package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCmd runs the root command with args and returns captured stdout and
// any error. Flag values are reset first since cobra keeps them between runs.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "postrelay dev") {
		t.Errorf("output = %q, want version line", out)
	}
}

func TestConfigPath_FromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.yaml")
	t.Setenv("POSTRELAY_CONFIG", path)

	out, err := executeCmd(t, "env")
	if err != nil {
		t.Fatalf("env error = %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output should name %s, got:\n%s", path, out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not created at env path: %v", err)
	}
}

func TestEnv_ReportsPresenceOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("REDDIT_CLIENT_ID", "client-id-value")
	t.Setenv("REDDIT_CLIENT_SECRET", "")

	out, err := executeCmd(t, "env", "-c", path)
	if err != nil {
		t.Fatalf("env error = %v", err)
	}
	for _, phrase := range []string{
		"Client ID:     set",
		"Client secret: not set",
		"Reddit ready:  false",
		"Webhooks:      0 of 0 sources",
	} {
		if !strings.Contains(out, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, out)
		}
	}
	if strings.Contains(out, "client-id-value") {
		t.Error("env printed a credential value")
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "text", "warn")

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected a text-format warn record, got %q", buf.String())
	}
}

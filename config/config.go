// Package config provides YAML configuration for postrelay.
//
// The same file holds the relay settings and the list of sources, and is
// rewritten by the relay itself as sources are checked. See [FileRegistry].
//
// Example configuration:
//
//	settings:
//	  notification_delay: 2s
//	  port: 8080
//	  usage_db: data/usage.db
//	  reddit:
//	    client_id: ${REDDIT_CLIENT_ID}
//	    client_secret: ${REDDIT_CLIENT_SECRET}
//	    user_agent: postrelay/1.0 by u/someone
//
//	sources:
//	  - name: golang
//	    interval: 5
//	    webhook_url: ${GOLANG_WEBHOOK}
//	  - name: goblog
//	    kind: feed
//	    url: https://go.dev/blog/feed.atom
//	    interval: 60
//	    webhook_url: https://discord.com/api/webhooks/...
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/postrelay/internal/source"
)

// DefaultNotificationDelay is used when settings.notification_delay is absent.
const DefaultNotificationDelay = 2 * time.Second

// Config is the root configuration structure for postrelay.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Sources  []SourceConfig `yaml:"sources"`
}

// Settings are the relay-wide options.
type Settings struct {
	// NotificationDelay is the pause between two deliveries of one scan.
	// Accepts duration strings like "2s" or integer milliseconds.
	// Defaults to 2s; 0 disables pacing.
	NotificationDelay *Duration `yaml:"notification_delay,omitempty"`

	// Port is the status server port. 0 disables the server.
	Port int `yaml:"port,omitempty"`

	// UsageDB is the sqlite file for byte accounting. Empty keeps usage in memory.
	UsageDB string `yaml:"usage_db,omitempty"`

	// LogFormat is "json" (default) or "text".
	LogFormat string `yaml:"log_format,omitempty"`

	// LogLevel is "debug", "info" (default), "warn" or "error".
	LogLevel string `yaml:"log_level,omitempty"`

	// Reddit holds the API credentials. Values support environment variable
	// substitution and are overridden by REDDIT_* variables.
	Reddit RedditSettings `yaml:"reddit"`
}

// RedditSettings are the Reddit application credentials.
type RedditSettings struct {
	ClientID     string `yaml:"client_id,omitempty" env:"REDDIT_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret,omitempty" env:"REDDIT_CLIENT_SECRET"`
	UserAgent    string `yaml:"user_agent,omitempty" env:"REDDIT_USER_AGENT"`
	Username     string `yaml:"username,omitempty" env:"REDDIT_USERNAME"`
	Password     string `yaml:"password,omitempty" env:"REDDIT_PASSWORD"`
}

// Configured reports whether enough credentials are present to call the API.
func (r RedditSettings) Configured() bool {
	return r.ClientID != "" && r.ClientSecret != "" && r.UserAgent != ""
}

// SourceConfig defines one polled source.
type SourceConfig struct {
	// Name is the subreddit name, or any unique label for a feed.
	Name string `yaml:"name"`

	// Kind is "reddit" (default) or "feed".
	Kind source.Kind `yaml:"kind,omitempty"`

	// URL is the feed document URL. Required for kind feed.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url,omitempty"`

	// Interval is the polling interval in minutes. Decimals are allowed.
	Interval Minutes `yaml:"interval"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// WebhookURL is the Discord webhook items are delivered to. A source
	// without one is never polled.
	// Supports environment variable substitution.
	WebhookURL string `yaml:"webhook_url,omitempty"`

	// LastChecked is maintained by the relay.
	LastChecked time.Time `yaml:"last_checked,omitempty"`
}

// IsEnabled applies the default for a missing enabled flag.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveKind applies the default kind.
func (s SourceConfig) EffectiveKind() source.Kind {
	if s.Kind == "" {
		return source.KindReddit
	}
	return s.Kind
}

// Delay returns the notification delay with its default applied.
func (s Settings) Delay() time.Duration {
	if s.NotificationDelay == nil {
		return DefaultNotificationDelay
	}
	return s.NotificationDelay.Duration()
}

// Duration wraps time.Duration for YAML. It accepts duration strings and,
// for compatibility with millisecond settings, bare integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!int" {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Minutes is an interval expressed in (possibly fractional) minutes.
type Minutes float64

// Duration converts m to a time.Duration.
func (m Minutes) Duration() time.Duration {
	return time.Duration(float64(m) * float64(time.Minute))
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in source URLs, webhook URLs and reddit
// credentials.
func Parse(data []byte) (*Config, error) {
	cfg, err := parseRaw(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseRaw decodes without expanding or validating.
func parseRaw(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides reddit credentials with the REDDIT_* variables found by
// lookuper. A nil lookuper reads the process environment.
func (c *Config) ApplyEnv(ctx context.Context, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var env RedditSettings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("reading reddit environment: %w", err)
	}

	r := &c.Settings.Reddit
	override(&r.ClientID, env.ClientID)
	override(&r.ClientSecret, env.ClientSecret)
	override(&r.UserAgent, env.UserAgent)
	override(&r.Username, env.Username)
	override(&r.Password, env.Password)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// clone returns a deep copy, so expansion never leaks into a raw document.
func (c *Config) clone() *Config {
	out := *c
	if c.Settings.NotificationDelay != nil {
		d := *c.Settings.NotificationDelay
		out.Settings.NotificationDelay = &d
	}
	out.Sources = make([]SourceConfig, len(c.Sources))
	for i, s := range c.Sources {
		if s.Enabled != nil {
			e := *s.Enabled
			s.Enabled = &e
		}
		out.Sources[i] = s
	}
	return &out
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	st := &c.Settings

	if st.NotificationDelay != nil && st.NotificationDelay.Duration() < 0 {
		return fmt.Errorf("settings.notification_delay cannot be negative, got %s", st.NotificationDelay.Duration())
	}
	if st.Port < 0 || st.Port > 65535 {
		return fmt.Errorf("settings.port must be between 0 and 65535, got %d", st.Port)
	}
	switch st.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("settings.log_format must be json or text, got %q", st.LogFormat)
	}
	switch strings.ToLower(st.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("settings.log_level must be debug, info, warn or error, got %q", st.LogLevel)
	}

	creds := []struct {
		name string
		val  *string
	}{
		{"client_id", &st.Reddit.ClientID},
		{"client_secret", &st.Reddit.ClientSecret},
		{"user_agent", &st.Reddit.UserAgent},
		{"username", &st.Reddit.Username},
		{"password", &st.Reddit.Password},
	}
	for _, cr := range creds {
		expanded, err := expandEnvVars(*cr.val)
		if err != nil {
			return fmt.Errorf("settings.reddit.%s: %w", cr.name, err)
		}
		*cr.val = expanded
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]

		src.Name = strings.TrimSpace(src.Name)
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d] (%s): duplicate name", i, src.Name)
		}
		seen[src.Name] = struct{}{}

		if src.Interval <= 0 {
			return fmt.Errorf("sources[%d] (%s): interval must be a positive number of minutes, got %v", i, src.Name, float64(src.Interval))
		}

		switch src.Kind {
		case "", source.KindReddit:
			if src.URL != "" {
				return fmt.Errorf("sources[%d] (%s): url is only valid for kind feed", i, src.Name)
			}
		case source.KindFeed:
			if src.URL == "" {
				return fmt.Errorf("sources[%d] (%s): url is required for kind feed", i, src.Name)
			}
			expanded, err := expandEnvVars(src.URL)
			if err != nil {
				return fmt.Errorf("sources[%d] (%s): url: %w", i, src.Name, err)
			}
			src.URL = expanded
			if err := checkHTTPURL(src.URL); err != nil {
				return fmt.Errorf("sources[%d] (%s): url: %w", i, src.Name, err)
			}
		default:
			return fmt.Errorf("sources[%d] (%s): kind must be reddit or feed, got %q", i, src.Name, src.Kind)
		}

		if src.WebhookURL != "" {
			expanded, err := expandEnvVars(src.WebhookURL)
			if err != nil {
				return fmt.Errorf("sources[%d] (%s): webhook_url: %w", i, src.Name, err)
			}
			src.WebhookURL = expanded
			// an env var may legitimately expand to nothing: the source is then unconfigured
			if src.WebhookURL != "" {
				if err := checkHTTPURL(src.WebhookURL); err != nil {
					return fmt.Errorf("sources[%d] (%s): webhook_url: %w", i, src.Name, err)
				}
			}
		}
	}

	return nil
}

// checkHTTPURL requires an absolute http(s) URL.
func checkHTTPURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}

// Default returns the document written when no configuration file exists.
func Default() *Config {
	delay := Duration(DefaultNotificationDelay)
	return &Config{
		Settings: Settings{
			NotificationDelay: &delay,
			UsageDB:           "data/usage.db",
			LogFormat:         "json",
			LogLevel:          "info",
			Reddit: RedditSettings{
				ClientID:     "${REDDIT_CLIENT_ID:-}",
				ClientSecret: "${REDDIT_CLIENT_SECRET:-}",
				UserAgent:    "${REDDIT_USER_AGENT:-postrelay/1.0}",
			},
		},
		Sources: []SourceConfig{},
	}
}

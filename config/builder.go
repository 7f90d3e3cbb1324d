package config

import (
	"github.com/jpalmerr/postrelay"
	"github.com/jpalmerr/postrelay/internal/source"
)

// BuildSources converts parsed configuration into SDK Source values, in file
// order. cfg must already be validated, so no construction can fail.
func BuildSources(cfg *Config) []postrelay.Source {
	sources := make([]postrelay.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, buildSource(sc))
	}
	return sources
}

// buildSource maps one entry. Fields are copied directly rather than through
// the SDK options so an empty or unexpanded webhook stays a non-qualifying
// source instead of an error.
func buildSource(sc SourceConfig) postrelay.Source {
	return postrelay.Source{
		Name:        sc.Name,
		Interval:    sc.Interval.Duration(),
		Enabled:     sc.IsEnabled(),
		Target:      sc.WebhookURL,
		LastChecked: sc.LastChecked,
	}
}

// BuildRoutes returns the fetch route of every source.
func BuildRoutes(cfg *Config) source.Routes {
	routes := make(source.Routes, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		routes[sc.Name] = source.Route{Kind: sc.EffectiveKind(), URL: sc.URL}
	}
	return routes
}

// BuildRedditConfig returns the Reddit client settings. Endpoint URLs are
// left empty so the client uses its defaults.
func BuildRedditConfig(cfg *Config) source.RedditConfig {
	r := cfg.Settings.Reddit
	return source.RedditConfig{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		UserAgent:    r.UserAgent,
		Username:     r.Username,
		Password:     r.Password,
	}
}

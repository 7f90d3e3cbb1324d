// Package postrelay relays new posts from subreddits and feeds to Discord
// webhooks.
//
// Each source is polled on its own interval. When a relay starts, every
// configured source gets an initial scan that forwards its two most recent
// items; from then on each poll forwards only items created after the
// source's last check, pacing deliveries so webhooks are not flooded.
//
// # Quick Start
//
//	src, _ := postrelay.NewSource("golang",
//	    postrelay.WithInterval(5*time.Minute),
//	    postrelay.WithDeliveryTarget("https://discord.com/api/webhooks/..."),
//	)
//	relay, _ := postrelay.New(
//	    postrelay.WithSources(src),
//	    postrelay.WithFetcher(fetcher),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	relay.Start(ctx) // blocks until context is cancelled
//
// The fetcher is any [Fetcher]; the cmd/postrelay binary wires the Reddit
// and feed fetchers from internal/source. Deliveries default to Discord
// embeds.
//
// # Architecture
//
//   - internal/poller: per-source scheduler, new-item detection, pacing
//   - internal/source: Reddit and RSS/Atom fetchers
//   - internal/notify: Discord webhook delivery
//   - internal/store: latest scan per source with pub/sub
//   - internal/server: status API, SSE and Prometheus endpoint
//   - usage: network byte accounting
//   - config: YAML configuration acting as the source registry
package postrelay

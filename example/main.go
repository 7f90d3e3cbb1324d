package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/postrelay"
	"github.com/jpalmerr/postrelay/internal/notify"
	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/internal/source"
)

func main() {
	// start mock feed and webhook (see mock_server.go)
	go StartMockServer(":9999")
	time.Sleep(100 * time.Millisecond)

	demo, err := postrelay.NewSource("Mock Feed",
		postrelay.WithInterval(15*time.Second),
		postrelay.WithDeliveryTarget("http://localhost:9999/webhook"),
	)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	client := poller.NewClient()
	routes := source.Routes{
		demo.Name: {Kind: source.KindFeed, URL: "http://localhost:9999/feed.xml"},
	}
	fetcher := source.NewRouter(routes, nil, source.NewFeed(client, "postrelay-demo/1.0", nil, nil))
	factory := notify.NewFactory(client, nil, nil, notify.WithFlavor(func(poller.Source) notify.Flavor {
		return notify.FlavorFeed
	}))

	relay, err := postrelay.New(
		postrelay.WithSources(demo),
		postrelay.WithFetcher(fetcher),
		postrelay.WithDelivererFactory(factory),
		postrelay.WithNotificationDelay(500*time.Millisecond),
		postrelay.WithPort(8080),
	)
	if err != nil {
		slog.Error("failed to create relay", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   postrelay Demo                                      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Mock feed publishes every 20-60s, polled every 15s  ║")
	fmt.Println("  ║   Status: http://localhost:8080/api/sources           ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.Start(ctx); err != nil {
		slog.Error("relay error", "error", err)
		os.Exit(1)
	}
}

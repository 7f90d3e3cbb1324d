// Standalone mock feed and webhook for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/postrelay serve -c example/config.yaml
package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

type item struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Title   string   `xml:"channel>title"`
	Items   []item   `xml:"channel>item"`
}

func main() {
	fmt.Println("Mock feed on :9999/feed.xml (new post every 30s)")
	fmt.Println("Mock webhook on :9999/webhook")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		mu      sync.Mutex
		started = time.Now()
	)

	http.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		// one post per 30s since start, newest first, at most 25
		n := int(time.Since(started)/(30*time.Second)) + 2
		doc := rss{Version: "2.0", Title: "Mock Feed"}
		for i := n; i > 0 && len(doc.Items) < 25; i-- {
			posted := started.Add(time.Duration(i-2) * 30 * time.Second)
			doc.Items = append(doc.Items, item{
				Title:   fmt.Sprintf("Mock post #%d", i),
				Link:    fmt.Sprintf("http://localhost:9999/posts/%d", i),
				GUID:    fmt.Sprintf("mock-%d", i),
				PubDate: posted.Format(time.RFC1123Z),
			})
		}

		w.Header().Set("Content-Type", "application/rss+xml")
		_ = xml.NewEncoder(w).Encode(doc)
	})

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("webhook received", "payload", payload)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

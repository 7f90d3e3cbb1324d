package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockFeed publishes a new post every 20-60 seconds.
type mockFeed struct {
	mu        sync.Mutex
	posts     []mockPost
	nextPost  time.Time
	published int
}

type mockPost struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Title   string     `xml:"channel>title"`
	Items   []mockPost `xml:"channel>item"`
}

func (f *mockFeed) publish(now time.Time) {
	f.published++
	f.posts = append([]mockPost{{
		Title:   fmt.Sprintf("Mock post #%d", f.published),
		Link:    fmt.Sprintf("http://localhost:9999/posts/%d", f.published),
		GUID:    fmt.Sprintf("mock-%d", f.published),
		PubDate: now.Format(time.RFC1123Z),
		Desc:    "<p>Posted by the <b>mock</b> feed.</p>",
	}}, f.posts...)
	if len(f.posts) > 25 {
		f.posts = f.posts[:25]
	}
	f.nextPost = now.Add(time.Duration(20+rand.Intn(41)) * time.Second)
}

// StartMockServer runs a feed that grows over time at /feed.xml and a fake
// Discord webhook at /webhook that logs what it receives.
// Call this in a goroutine before starting the relay.
func StartMockServer(addr string) {
	feed := &mockFeed{}
	// two existing posts for the initial scan
	feed.publish(time.Now().Add(-2 * time.Minute))
	feed.publish(time.Now().Add(-time.Minute))

	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		feed.mu.Lock()
		if time.Now().After(feed.nextPost) {
			feed.publish(time.Now())
			slog.Info("mock post published", "count", feed.published)
		}
		doc := rss{Version: "2.0", Title: "Mock Feed", Items: append([]mockPost(nil), feed.posts...)}
		feed.mu.Unlock()

		w.Header().Set("Content-Type", "application/rss+xml")
		if err := xml.NewEncoder(w).Encode(doc); err != nil {
			slog.Error("failed to write feed", "error", err)
		}
	})

	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Embeds []struct {
				Title  string `json:"title"`
				Fields []struct {
					Value string `json:"value"`
				} `json:"fields"`
			} `json:"embeds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, e := range payload.Embeds {
			title := ""
			if len(e.Fields) > 0 {
				title = e.Fields[0].Value
			}
			slog.Info("webhook received", "embed", e.Title, "title", title)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

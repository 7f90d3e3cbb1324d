package source

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

const (
	feedTimeout = 15 * time.Second
	maxBodyLen  = 2048
)

var stripPolicy = bluemonday.StrictPolicy()

// Feed fetches RSS and Atom documents.
type Feed struct {
	client    *poller.Client
	userAgent string
	meter     usage.Meter
	logger    *slog.Logger
}

// NewFeed creates a [Feed]. meter may be nil.
func NewFeed(client *poller.Client, userAgent string, meter usage.Meter, logger *slog.Logger) *Feed {
	if client == nil {
		client = poller.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		client:    client,
		userAgent: userAgent,
		meter:     meter,
		logger:    logger.With("component", "feed"),
	}
}

// FetchFeed downloads the document at feedURL and returns up to limit of its
// items in document order, attributed to name.
func (f *Feed) FetchFeed(ctx context.Context, name, feedURL string, limit int) ([]poller.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	headers := map[string]string{"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"}
	if f.userAgent != "" {
		headers["User-Agent"] = f.userAgent
	}

	resp := f.client.Do(ctx, poller.Request{URL: feedURL, Headers: headers, Timeout: feedTimeout})
	if resp.Error != nil {
		return nil, resp.Error
	}
	recordUsage(ctx, f.meter, f.logger, len(resp.Body))
	if !resp.OK() {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().ParseString(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]poller.Item, 0, min(limit, len(parsed.Items)))
	for _, entry := range parsed.Items {
		items = append(items, feedItem(name, entry))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func feedItem(name string, entry *gofeed.Item) poller.Item {
	it := poller.Item{
		ID:     entry.GUID,
		Title:  strings.TrimSpace(entry.Title),
		Source: name,
		URL:    entry.Link,
	}
	if it.ID == "" {
		it.ID = entry.Link
	}
	if it.URL == "" && strings.HasPrefix(entry.GUID, "http") {
		it.URL = entry.GUID
	}

	switch {
	case entry.PublishedParsed != nil:
		it.CreatedAt = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		it.CreatedAt = entry.UpdatedParsed.UTC()
	}

	if entry.Author != nil {
		it.Author = entry.Author.Name
	} else if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		it.Author = entry.Authors[0].Name
	}

	body := entry.Description
	if body == "" {
		body = entry.Content
	}
	it.Body = sanitize(body)

	if entry.Image != nil {
		it.Thumbnail = entry.Image.URL
	}

	it.Media = poller.MediaLink
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "video/") {
			it.Media = poller.MediaVideo
			if it.URL == "" {
				it.URL = enc.URL
			}
			break
		}
	}
	if it.Media == poller.MediaLink && it.Body != "" {
		it.Media = poller.MediaNone
	}
	return it
}

// sanitize strips all markup and clips the result. The policy escapes its
// output for HTML; bodies end up in Discord markdown, so entities are decoded.
func sanitize(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(strings.TrimSpace(s)))
	return clip(strings.TrimSpace(s), maxBodyLen)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// recordUsage adds n bytes to meter. Accounting failures never fail a fetch.
func recordUsage(ctx context.Context, meter usage.Meter, logger *slog.Logger, n int) {
	if meter == nil || n == 0 {
		return
	}
	if err := meter.AddUsage(ctx, int64(n)); err != nil {
		logger.Warn("recording usage failed", "bytes", n, "error", err)
	}
}

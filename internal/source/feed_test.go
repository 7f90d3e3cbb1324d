package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Go Blog</title>
    <link>https://go.dev/blog</link>
    <item>
      <title>Go 1.24 is released</title>
      <link>https://go.dev/blog/go1.24</link>
      <guid>https://go.dev/blog/go1.24</guid>
      <author>gopher@go.dev (The Go Team)</author>
      <pubDate>Tue, 11 Feb 2025 10:00:00 +0000</pubDate>
      <description><![CDATA[<p>We are <b>happy</b> to announce Go 1.24.</p><script>alert(1)</script>]]></description>
    </item>
    <item>
      <title>GopherCon talk</title>
      <link>https://go.dev/talks/1</link>
      <guid isPermaLink="false">talk-1</guid>
      <pubDate>Mon, 10 Feb 2025 09:00:00 +0000</pubDate>
      <enclosure url="https://cdn.example.com/talk.mp4" type="video/mp4" length="1000"/>
    </item>
    <item>
      <title>Bare link</title>
      <link>https://go.dev/bare</link>
    </item>
  </channel>
</rss>`

func serveDoc(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "postrelay-test/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestFeed_FetchFeed verifies RSS items map to items in document order with
// sanitised bodies.
func TestFeed_FetchFeed(t *testing.T) {
	srv := serveDoc(t, http.StatusOK, rssDoc)
	meter := usage.NewMemory(nil)
	f := NewFeed(poller.NewClient(), "postrelay-test/1.0", meter, testLogger())

	items, err := f.FetchFeed(context.Background(), "goblog", srv.URL, 25)
	require.NoError(t, err)
	require.Len(t, items, 3)

	first := items[0]
	assert.Equal(t, "https://go.dev/blog/go1.24", first.ID)
	assert.Equal(t, "Go 1.24 is released", first.Title)
	assert.Equal(t, "goblog", first.Source)
	assert.Equal(t, time.Date(2025, 2, 11, 10, 0, 0, 0, time.UTC), first.CreatedAt)
	assert.Equal(t, poller.MediaNone, first.Media)
	assert.NotContains(t, first.Body, "<")
	assert.NotContains(t, first.Body, "alert")
	assert.Contains(t, first.Body, "happy")

	assert.Equal(t, "talk-1", items[1].ID)
	assert.Equal(t, poller.MediaVideo, items[1].Media)

	assert.Equal(t, poller.MediaLink, items[2].Media)
	assert.True(t, items[2].CreatedAt.IsZero())
	assert.Equal(t, "https://go.dev/bare", items[2].ID)

	st, err := meter.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(rssDoc)), st.Today)
}

// TestFeed_BodyEntitiesDecoded verifies bodies carry plain text, not HTML
// entities.
func TestFeed_BodyEntitiesDecoded(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Cartoons</title>
    <item>
      <title>Classic</title>
      <link>https://example.com/tj</link>
      <description>Tom &amp; Jerry's &quot;show&quot;</description>
    </item>
    <item>
      <title>Markup</title>
      <link>https://example.com/markup</link>
      <description><![CDATA[<p>Fish &amp; <b>chips</b> aren't &lt;bad&gt;</p>]]></description>
    </item>
  </channel>
</rss>`
	srv := serveDoc(t, http.StatusOK, doc)
	f := NewFeed(nil, "postrelay-test/1.0", nil, testLogger())

	items, err := f.FetchFeed(context.Background(), "cartoons", srv.URL, 25)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, `Tom & Jerry's "show"`, items[0].Body)
	assert.Equal(t, "Fish & chips aren't <bad>", items[1].Body)
}

// TestFeed_Limit verifies the result is truncated to the limit.
func TestFeed_Limit(t *testing.T) {
	srv := serveDoc(t, http.StatusOK, rssDoc)
	f := NewFeed(nil, "postrelay-test/1.0", nil, testLogger())

	items, err := f.FetchFeed(context.Background(), "goblog", srv.URL, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

// TestFeed_Errors covers bad statuses and unparseable documents.
func TestFeed_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, "upstream down"},
		{"not a feed", http.StatusOK, "<html><body>nope</body></html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveDoc(t, tt.status, tt.body)
			f := NewFeed(nil, "postrelay-test/1.0", nil, testLogger())

			_, err := f.FetchFeed(context.Background(), "goblog", srv.URL, 25)
			assert.Error(t, err)
		})
	}
}

// TestClip verifies clipping never splits a multi-byte rune.
func TestClip(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := clip(s, 5)
	assert.Equal(t, "éé", got)
	assert.Equal(t, "short", clip("short", 10))
}

// fakeFetcher records the names it was asked for.
type fakeFetcher struct {
	names []string
}

func (f *fakeFetcher) FetchRecent(_ context.Context, name string, _ int) ([]poller.Item, error) {
	f.names = append(f.names, name)
	return []poller.Item{{ID: name}}, nil
}

// TestRouter_Dispatch verifies each kind reaches its fetcher.
func TestRouter_Dispatch(t *testing.T) {
	srv := serveDoc(t, http.StatusOK, rssDoc)
	reddit := &fakeFetcher{}
	r := NewRouter(Routes{
		"golang": {Kind: KindReddit},
		"goblog": {Kind: KindFeed, URL: srv.URL},
		"odd":    {Kind: "gopher"},
	}, reddit, NewFeed(nil, "postrelay-test/1.0", nil, testLogger()))

	items, err := r.FetchRecent(context.Background(), "golang", 2)
	require.NoError(t, err)
	assert.Equal(t, "golang", items[0].ID)
	assert.Equal(t, []string{"golang"}, reddit.names)

	items, err = r.FetchRecent(context.Background(), "goblog", 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = r.FetchRecent(context.Background(), "odd", 1)
	assert.Error(t, err)

	_, err = r.FetchRecent(context.Background(), "missing", 1)
	assert.Error(t, err)
}

// TestRouter_NoReddit verifies reddit sources fail cleanly without credentials.
func TestRouter_NoReddit(t *testing.T) {
	r := NewRouter(Routes{"golang": {Kind: KindReddit}}, nil, nil)

	_, err := r.FetchRecent(context.Background(), "golang", 2)
	assert.True(t, errors.Is(err, ErrNoReddit))
}

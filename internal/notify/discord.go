// Package notify delivers items to Discord webhooks as rich embeds.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

const (
	embedColor = 0x00ff00

	maxDescription = 4096
	maxFieldValue  = 1024
	truncMarker    = "\n\n...(truncated)"

	// Discord answers webhooks with a small body; count a flat 1KB for it.
	responseEstimate = 1024

	sendTimeout = 10 * time.Second

	// rate limited sends are retried this many times before giving up
	maxRateLimitRetries = 3
	defaultRetryAfter   = time.Second
	maxRetryAfter       = 30 * time.Second
)

// Flavor selects the wording of an embed.
type Flavor int

const (
	// FlavorReddit prefixes sources with "r/" and authors with "u/".
	FlavorReddit Flavor = iota
	// FlavorFeed uses bare source and author names.
	FlavorFeed
)

// Embed is a Discord message embed.
type Embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color"`
	Fields      []Field     `json:"fields,omitempty"`
	Footer      *Footer     `json:"footer,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
	Image       *EmbedMedia `json:"image,omitempty"`
	Thumbnail   *EmbedMedia `json:"thumbnail,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text string `json:"text"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

// Payload is the webhook request body.
type Payload struct {
	Embeds []Embed `json:"embeds"`
}

// BuildEmbed renders it as an embed.
func BuildEmbed(it poller.Item, flavor Flavor) Embed {
	label := it.Source
	author := it.Author
	if author == "" {
		author = "unknown"
	}
	if flavor == FlavorReddit {
		label = "r/" + label
		author = "u/" + author
	}

	title := it.Title
	if title == "" {
		title = "(untitled)"
	}
	titleValue := clipRunes(title, maxFieldValue)
	if it.URL != "" {
		titleValue = titleLink(title, it.URL)
	}

	posted := "unknown"
	if !it.CreatedAt.IsZero() {
		posted = fmt.Sprintf("<t:%d:R>", it.CreatedAt.Unix())
	}

	e := Embed{
		Title: "New Post in " + label,
		Color: embedColor,
		Fields: []Field{
			{Name: "Title", Value: titleValue},
			{Name: "Author", Value: clipRunes(author, maxFieldValue), Inline: true},
			{Name: "Posted", Value: posted, Inline: true},
		},
		Footer: &Footer{Text: label},
	}
	if !it.CreatedAt.IsZero() {
		e.Timestamp = it.CreatedAt.UTC().Format(time.RFC3339)
	}

	switch it.Media {
	case poller.MediaImage:
		e.Image = &EmbedMedia{URL: it.URL}
		e.Description = "Image Post"
	case poller.MediaVideo:
		e.Description = truncateDescription("Video Post: " + it.URL)
		if it.Thumbnail != "" {
			e.Thumbnail = &EmbedMedia{URL: it.Thumbnail}
		}
	case poller.MediaLink:
		e.Description = truncateDescription("Link Post: " + it.URL)
	default:
		e.Description = truncateDescription(it.Body)
	}
	return e
}

// titleLink renders a markdown link within maxFieldValue. The title is clipped
// so the URL stays whole; a URL too long to fit at all gives up the link.
func titleLink(title, link string) string {
	room := maxFieldValue - utf8.RuneCountInString(link) - len("[]()")
	if room < 1 {
		return clipRunes(title, maxFieldValue)
	}
	return fmt.Sprintf("[%s](%s)", clipRunes(title, room), link)
}

// truncateDescription keeps descriptions within Discord's limit.
func truncateDescription(s string) string {
	if strings.TrimSpace(s) == "" {
		return "No content"
	}
	if utf8.RuneCountInString(s) <= maxDescription {
		return s
	}
	keep := maxDescription - utf8.RuneCountInString(truncMarker)
	return string([]rune(s)[:keep]) + truncMarker
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// Discord is a [poller.Deliverer] posting to one webhook.
type Discord struct {
	client  *poller.Client
	webhook string
	flavor  Flavor
	meter   usage.Meter
	logger  *slog.Logger
}

// NewDiscord creates a deliverer for webhook. meter may be nil.
func NewDiscord(client *poller.Client, webhook string, flavor Flavor, meter usage.Meter, logger *slog.Logger) *Discord {
	if client == nil {
		client = poller.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		client:  client,
		webhook: webhook,
		flavor:  flavor,
		meter:   meter,
		logger:  logger.With("component", "discord"),
	}
}

// Send posts it to the webhook. The estimated traffic is recorded before each
// request is made, so failed sends are counted too. A 429 answer is retried
// after the delay Discord asks for, up to maxRateLimitRetries times.
func (d *Discord) Send(ctx context.Context, it poller.Item) error {
	body, err := json.Marshal(Payload{Embeds: []Embed{BuildEmbed(it, d.flavor)}})
	if err != nil {
		return fmt.Errorf("encoding embed: %w", err)
	}

	var wait time.Duration
	backoff := retry.WithMaxRetries(maxRateLimitRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		return wait, false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if d.meter != nil {
			if err := d.meter.AddUsage(ctx, int64(len(body)+responseEstimate)); err != nil {
				d.logger.Warn("recording usage failed", "error", err)
			}
		}

		resp := d.client.Do(ctx, poller.Request{
			Method:  http.MethodPost,
			URL:     d.webhook,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
			Timeout: sendTimeout,
		})
		if resp.Error != nil {
			return resp.Error
		}
		if resp.OK() {
			return nil
		}
		serr := &StatusError{Code: resp.StatusCode, Body: clipRunes(string(resp.Body), 200)}
		if resp.StatusCode == http.StatusTooManyRequests {
			wait = retryAfter(resp)
			d.logger.Warn("rate limited by discord", "item", it.ID, "retry_after", wait)
			return retry.RetryableError(serr)
		}
		return serr
	})
}

// retryAfter reads the delay from the Retry-After header, falling back to the
// retry_after field of the JSON body. Both are in seconds and may be
// fractional.
func retryAfter(resp poller.Response) time.Duration {
	secs, ok := 0.0, false
	if v := resp.Header.Get("Retry-After"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			secs, ok = f, true
		}
	}
	if !ok {
		var rl struct {
			RetryAfter *float64 `json:"retry_after"`
		}
		if json.Unmarshal(resp.Body, &rl) == nil && rl.RetryAfter != nil {
			secs, ok = *rl.RetryAfter, true
		}
	}
	if !ok || secs < 0 {
		return defaultRetryAfter
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord webhook returned %d: %s", e.Code, e.Body)
}

// FactoryOption configures [NewFactory].
type FactoryOption func(*factory)

// WithFlavor picks the embed wording per source.
func WithFlavor(fn func(src poller.Source) Flavor) FactoryOption {
	return func(f *factory) { f.flavor = fn }
}

type factory struct {
	client *poller.Client
	meter  usage.Meter
	logger *slog.Logger
	flavor func(poller.Source) Flavor
}

// NewFactory returns a [poller.DelivererFactory] building a [Discord] per
// source. Targets that are not absolute http(s) URLs are rejected with a
// [poller.ConfigurationError].
func NewFactory(client *poller.Client, meter usage.Meter, logger *slog.Logger, opts ...FactoryOption) poller.DelivererFactory {
	f := &factory{client: client, meter: meter, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return func(src poller.Source) (poller.Deliverer, error) {
		if err := ValidateWebhook(src.Target); err != nil {
			return nil, &poller.ConfigurationError{Source: src.Name, Err: err}
		}
		flavor := FlavorReddit
		if f.flavor != nil {
			flavor = f.flavor(src)
		}
		return NewDiscord(f.client, src.Target, flavor, f.meter, f.logger), nil
	}
}

// ValidateWebhook checks that raw is an absolute http(s) URL.
func ValidateWebhook(raw string) error {
	if raw == "" {
		return errors.New("webhook url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

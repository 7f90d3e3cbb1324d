package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

const (
	// RedditTokenURL is the application-only OAuth token endpoint.
	RedditTokenURL = "https://www.reddit.com/api/v1/access_token"

	// RedditAPIURL is the base of authenticated API requests.
	RedditAPIURL = "https://oauth.reddit.com"

	redditTimeout = 20 * time.Second
)

// RedditConfig holds the credentials of a Reddit "script" or "web" app.
//
// With Username set the password grant is used, otherwise the client
// credentials grant. UserAgent is mandatory; Reddit throttles generic agents.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Username     string
	Password     string

	// TokenURL and APIURL override the endpoints, for tests.
	TokenURL string
	APIURL   string
}

// Validate reports missing credentials.
func (c RedditConfig) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.UserAgent == "" {
		missing = append(missing, "user_agent")
	}
	if c.Username != "" && c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("reddit: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Reddit fetches the newest posts of a subreddit.
type Reddit struct {
	client *poller.Client
	apiURL string
	meter  usage.Meter
	logger *slog.Logger
}

// NewReddit builds an authenticated fetcher. base provides the pooled
// transport; tokens are requested lazily on the first fetch and renewed on
// expiry. meter may be nil.
func NewReddit(ctx context.Context, cfg RedditConfig, base *poller.Client, meter usage.Meter, logger *slog.Logger) (*Reddit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = poller.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = RedditTokenURL
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = RedditAPIURL
	}

	// every request, token requests included, must carry the user agent
	uaClient := &http.Client{Transport: &userAgentTransport{
		agent: cfg.UserAgent,
		base:  base.HTTPClient().Transport,
	}}
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, uaClient)

	var ts oauth2.TokenSource
	if cfg.Username != "" {
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		}
		ts = oauth2.ReuseTokenSource(nil, &passwordSource{
			ctx:      tokenCtx,
			conf:     conf,
			username: cfg.Username,
			password: cfg.Password,
		})
	} else {
		conf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ts = conf.TokenSource(tokenCtx)
	}

	return &Reddit{
		client: poller.NewClientWith(oauth2.NewClient(tokenCtx, ts)),
		apiURL: apiURL,
		meter:  meter,
		logger: logger.With("component", "reddit"),
	}, nil
}

// FetchRecent returns up to limit of the subreddit's newest posts, newest first.
func (r *Reddit) FetchRecent(ctx context.Context, name string, limit int) ([]poller.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/r/%s/new?limit=%d&raw_json=1", r.apiURL, url.PathEscape(name), limit)

	resp := r.client.Do(ctx, poller.Request{
		URL:     u,
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: redditTimeout,
	})
	if resp.Error != nil {
		return nil, resp.Error
	}
	recordUsage(ctx, r.meter, r.logger, len(resp.Body))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit returned %d: %s", resp.StatusCode, clip(string(resp.Body), 200))
	}

	var l listing
	if err := json.Unmarshal(resp.Body, &l); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}

	items := make([]poller.Item, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		items = append(items, child.Data.item(name))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data post   `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Selftext   string  `json:"selftext"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Thumbnail  string  `json:"thumbnail"`
	PostHint   string  `json:"post_hint"`
	IsSelf     bool    `json:"is_self"`
	IsVideo    bool    `json:"is_video"`
	CreatedUTC float64 `json:"created_utc"`
}

func (p post) item(name string) poller.Item {
	sub := p.Subreddit
	if sub == "" {
		sub = name
	}
	link := p.URL
	if link == "" && p.Permalink != "" {
		link = "https://www.reddit.com" + p.Permalink
	}
	return poller.Item{
		ID:        p.ID,
		Title:     p.Title,
		Author:    p.Author,
		Source:    sub,
		CreatedAt: time.UnixMilli(int64(p.CreatedUTC * 1000)).UTC(),
		Body:      p.Selftext,
		URL:       link,
		Media:     p.media(),
		Thumbnail: usableThumbnail(p.Thumbnail),
	}
}

func (p post) media() poller.MediaHint {
	switch {
	case p.IsSelf:
		return poller.MediaNone
	case p.PostHint == "image":
		return poller.MediaImage
	case p.IsVideo, p.PostHint == "hosted:video", p.PostHint == "rich:video", p.PostHint == "video":
		return poller.MediaVideo
	default:
		return poller.MediaLink
	}
}

// usableThumbnail drops reddit's placeholder values.
func usableThumbnail(s string) string {
	switch s {
	case "", "default", "self", "nsfw", "spoiler", "image":
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return ""
	}
	return s
}

// passwordSource performs the password grant on every call. Reddit issues
// no refresh token for it, so renewal means asking again.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := p.conf.PasswordCredentialsToken(p.ctx, p.username, p.password)
	if err != nil {
		return nil, fmt.Errorf("reddit token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("reddit token: empty access token")
	}
	return tok, nil
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return base.RoundTrip(req)
}

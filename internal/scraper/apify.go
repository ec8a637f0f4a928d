// Package scraper retrieves raw profile records from Apify actors.
//
// Every call runs an actor synchronously through the run-sync-get-dataset-items
// endpoint and returns the dataset items tagged with the normalizer source
// they belong to.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/normalize"
)

const (
	defaultBaseURL = "https://api.apify.com"
	defaultWait    = 120 * time.Second
)

var (
	// ErrNotConfigured is returned when no API token is set. It is job-fatal.
	ErrNotConfigured = errors.New("APIFY_API_TOKEN is not set")
	// ErrUnauthorized means Apify rejected the token. It is job-fatal.
	ErrUnauthorized = errors.New("apify rejected the api token")
)

// HTTPError is a non-2xx reply from Apify other than 401/403.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("apify returned %d: %s", e.StatusCode, e.Body)
}

// IsFatal reports whether err should fail the whole discovery job rather
// than only the current hashtag.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUnauthorized)
}

// Actors names the Apify actor used for each kind of scrape.
type Actors struct {
	InstagramHashtag   string
	InstagramProfile   string
	InstagramFollowers string
	TikTok             string
	TikTokFollowers    string
}

// DefaultActors are the public actors the service was built against.
func DefaultActors() Actors {
	return Actors{
		InstagramHashtag:   "apify/instagram-hashtag-scraper",
		InstagramProfile:   "apify/instagram-profile-scraper",
		InstagramFollowers: "apify/instagram-followers-scraper",
		TikTok:             "clockworks/tiktok-scraper",
		TikTokFollowers:    "clockworks/tiktok-followers-scraper",
	}
}

// Client calls Apify.
type Client struct {
	token   string
	baseURL string
	actors  Actors
	wait    time.Duration
	http    *http.Client
	log     *slog.Logger

	attempts uint
	delay    time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL points the client at another host.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

// WithActors overrides the actor ids.
func WithActors(a Actors) Option { return func(c *Client) { c.actors = a } }

// WithWait sets the per-call wait budget. Apify is asked to stop the run
// when it elapses and the HTTP request gives up shortly after.
func WithWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.wait = d
		}
	}
}

// WithRetry sets the attempt count and base delay for transient failures.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// New returns a Client. An empty token is accepted; every call then fails
// with ErrNotConfigured.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:    token,
		baseURL:  defaultBaseURL,
		actors:   DefaultActors(),
		wait:     defaultWait,
		log:      slog.Default(),
		attempts: 2,
		delay:    2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.delay < 2*time.Millisecond {
		c.delay = 2 * time.Millisecond
	}
	if c.attempts == 0 {
		c.attempts = 1
	}
	c.http = &http.Client{Timeout: c.wait + 15*time.Second}
	return c
}

// ScrapeHashtag returns up to limit records tagged with tag.
func (c *Client) ScrapeHashtag(ctx context.Context, platform model.Platform, tag string, limit int) ([]normalize.RawRecord, error) {
	tag = CleanHashtag(tag)
	if tag == "" {
		return nil, fmt.Errorf("empty hashtag")
	}
	switch platform {
	case model.PlatformInstagram:
		return c.run(ctx, c.actors.InstagramHashtag, map[string]any{
			"hashtags":     []string{tag},
			"resultsLimit": limit,
			"searchType":   "hashtag",
		}, limit, normalize.SourceInstagramPost)
	case model.PlatformTikTok:
		return c.run(ctx, c.actors.TikTok, map[string]any{
			"hashtags":             []string{tag},
			"resultsPerPage":       limit,
			"shouldDownloadVideos": false,
			"shouldDownloadCovers": false,
		}, limit, normalize.SourceTikTokVideo)
	}
	return nil, fmt.Errorf("unsupported platform %q", platform)
}

// ScrapeProfiles returns the full profiles of the given accounts.
func (c *Client) ScrapeProfiles(ctx context.Context, platform model.Platform, usernames []string, limit int) ([]normalize.RawRecord, error) {
	names := cleanUsernames(usernames)
	if len(names) == 0 {
		return nil, fmt.Errorf("no usernames")
	}
	switch platform {
	case model.PlatformInstagram:
		return c.run(ctx, c.actors.InstagramProfile, map[string]any{
			"usernames": names,
		}, limit, normalize.SourceInstagramProfile)
	case model.PlatformTikTok:
		return c.run(ctx, c.actors.TikTok, map[string]any{
			"profiles":             names,
			"resultsPerPage":       1,
			"shouldDownloadVideos": false,
			"shouldDownloadCovers": false,
		}, limit, normalize.SourceTikTokVideo)
	}
	return nil, fmt.Errorf("unsupported platform %q", platform)
}

// ScrapeFollowers returns up to limit followers of username.
func (c *Client) ScrapeFollowers(ctx context.Context, platform model.Platform, username string, limit int) ([]normalize.RawRecord, error) {
	names := cleanUsernames([]string{username})
	if len(names) == 0 {
		return nil, fmt.Errorf("empty username")
	}
	switch platform {
	case model.PlatformInstagram:
		return c.run(ctx, c.actors.InstagramFollowers, map[string]any{
			"usernames":    names,
			"resultsLimit": limit,
		}, limit, normalize.SourceInstagramFollower)
	case model.PlatformTikTok:
		return c.run(ctx, c.actors.TikTokFollowers, map[string]any{
			"profiles":       names,
			"resultsPerPage": limit,
		}, limit, normalize.SourceTikTokUser)
	}
	return nil, fmt.Errorf("unsupported platform %q", platform)
}

func (c *Client) run(ctx context.Context, actor string, input map[string]any, limit int, source normalize.Source) ([]normalize.RawRecord, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal actor input: %w", err)
	}

	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(c.wait.Seconds())))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	// Actor ids use "~" in URLs instead of "/".
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?%s",
		c.baseURL, strings.ReplaceAll(actor, "/", "~"), params.Encode())

	body, err := retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.token)

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, err
			}
			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return nil, ErrUnauthorized
			case resp.StatusCode < 200 || resp.StatusCode > 299:
				return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 300)}
			}
			return raw, nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxJitter(c.delay/2),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying apify run", "actor", actor, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", actor, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode %s dataset: %w", actor, err)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	records := make([]normalize.RawRecord, 0, len(items))
	for _, it := range items {
		records = append(records, normalize.RawRecord{Source: source, Data: it})
	}
	c.log.Debug("apify run finished", "actor", actor, "items", len(records))
	return records, nil
}

// CleanHashtag strips surrounding space and leading '#'.
func CleanHashtag(tag string) string {
	return strings.TrimLeft(strings.TrimSpace(tag), "#")
}

func cleanUsernames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		if u = strings.TrimLeft(strings.TrimSpace(u), "@"); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

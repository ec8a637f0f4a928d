// Package media fetches remote profile images and copies them to durable
// storage.
//
// Fetches go through a single-flight cache so the image proxy and the
// scoring engine share one download of the same avatar. Failures are soft:
// callers treat any error as "image unavailable".
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/null"

	"newface/discovery-service/internal/model"
)

const (
	userAgent    = "Mozilla/5.0 (compatible; NewfaceBot/1.0)"
	maxImageSize = 10 << 20
	cacheTTL     = 15 * time.Minute
)

// ErrNotImage is returned when a URL does not resolve to image bytes.
var ErrNotImage = errors.New("response is not an image")

// HTTPError is a non-200 reply from an image host.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Fetcher downloads images with a per-request timeout, retry on transient
// errors and an in-memory single-flight cache.
type Fetcher struct {
	client  *http.Client
	cache   *sfcache.TieredCache[string, []byte]
	timeout time.Duration
	log     *slog.Logger
}

// NewFetcher returns a Fetcher whose individual downloads are bounded by timeout.
func NewFetcher(timeout time.Duration, log *slog.Logger) (*Fetcher, error) {
	if log == nil {
		log = slog.Default()
	}
	tc, err := sfcache.NewTiered[string, []byte](null.New[string, []byte](), sfcache.TTL(cacheTTL))
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		cache:   tc,
		timeout: timeout,
		log:     log,
	}, nil
}

// Fetch returns the image bytes and MIME type at rawURL. When the URL serves
// an HTML page, its og:image is followed once.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, "", fmt.Errorf("invalid image url %q: %w", rawURL, err)
	}

	envelope, err := f.cache.GetSet(ctx, cacheKey(rawURL), func(ctx context.Context) ([]byte, error) {
		data, mimeType, err := f.download(ctx, rawURL, true)
		if err != nil {
			return nil, err
		}
		return pack(mimeType, data), nil
	}, cacheTTL)
	if err != nil {
		return nil, "", err
	}
	mimeType, data := unpack(envelope)
	return data, mimeType, nil
}

// FetchBase64 is Fetch with the payload base64-encoded for model attachments.
func (f *Fetcher) FetchBase64(ctx context.Context, rawURL string) (model.Image, error) {
	data, mimeType, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return model.Image{}, err
	}
	return model.Image{Data: base64.StdEncoding.EncodeToString(data), MIMEType: mimeType}, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string, followPage bool) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type reply struct {
		body        []byte
		contentType string
	}
	r, err := retry.DoWithData(
		func() (reply, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
			if err != nil {
				return reply{}, err
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "image/avif,image/webp,image/*,text/html;q=0.5,*/*;q=0.1")
			if ref := refererFor(rawURL); ref != "" {
				req.Header.Set("Referer", ref)
			}

			resp, err := f.client.Do(req)
			if err != nil {
				return reply{}, err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return reply{}, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
			if err != nil {
				return reply{}, err
			}
			if len(body) > maxImageSize {
				return reply{}, fmt.Errorf("image larger than %d bytes", maxImageSize)
			}
			return reply{body: body, contentType: resp.Header.Get("Content-Type")}, nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			f.log.Debug("retrying image fetch", "attempt", n+1, "url", rawURL, "err", err)
		}),
	)
	if err != nil {
		return nil, "", err
	}

	mimeType := mediaType(r.contentType, r.body)
	if strings.HasPrefix(mimeType, "image/") {
		return r.body, mimeType, nil
	}
	if followPage && mimeType == "text/html" {
		next, err := ogImage(rawURL, r.body)
		if err != nil {
			return nil, "", err
		}
		return f.download(ctx, next, false)
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotImage, mimeType)
}

// ogImage extracts the absolute og:image URL of an HTML page.
func ogImage(pageURL string, body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	content, ok := doc.Find(`meta[property="og:image"], meta[name="og:image"]`).First().Attr("content")
	content = strings.TrimSpace(content)
	if !ok || content == "" {
		return "", fmt.Errorf("%w: html page without og:image", ErrNotImage)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(content)
	if err != nil {
		return "", fmt.Errorf("bad og:image %q: %w", content, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// mediaType prefers the declared Content-Type and sniffs when it is missing
// or generic.
func mediaType(header string, body []byte) string {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt = strings.Split(http.DetectContentType(body), ";")[0]
	}
	return mt
}

// refererFor returns the page origin some CDNs require before serving media.
func refererFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "cdninstagram") || strings.Contains(host, "fbcdn"):
		return "https://www.instagram.com/"
	case strings.Contains(host, "tiktokcdn") || strings.Contains(host, "tiktok"):
		return "https://www.tiktok.com/"
	}
	return ""
}

func isRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "img:" + hex.EncodeToString(sum[:])
}

// pack stores the MIME type ahead of the bytes, NUL-separated.
func pack(mimeType string, data []byte) []byte {
	out := make([]byte, 0, len(mimeType)+1+len(data))
	out = append(out, mimeType...)
	out = append(out, 0)
	return append(out, data...)
}

func unpack(envelope []byte) (string, []byte) {
	i := bytes.IndexByte(envelope, 0)
	if i < 0 {
		return "application/octet-stream", envelope
	}
	return string(envelope[:i]), envelope[i+1:]
}

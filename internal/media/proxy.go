package media

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"newface/discovery-service/internal/model"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Proxy copies externally hosted profile pictures into a Store so candidate
// rows do not depend on expiring CDN links.
type Proxy struct {
	fetcher *Fetcher
	store   Store
	log     *slog.Logger
	now     func() time.Time
}

// NewProxy returns a Proxy. A nil store disables copying.
func NewProxy(fetcher *Fetcher, store Store, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{fetcher: fetcher, store: store, log: log, now: time.Now}
}

// ProxyProfileImage returns the durable URL of the copied image, or the
// original URL when fetching or storing fails.
func (p *Proxy) ProxyProfileImage(ctx context.Context, platform model.Platform, username, imageURL string) string {
	if imageURL == "" || p == nil || p.store == nil || p.fetcher == nil {
		return imageURL
	}
	data, mimeType, err := p.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		p.log.Warn("profile image fetch failed, keeping original url", "username", username, "err", err)
		return imageURL
	}
	stored, err := p.store.Put(ctx, ObjectKey(platform, username, p.now()), data, mimeType)
	if err != nil {
		p.log.Warn("profile image store failed, keeping original url", "username", username, "err", err)
		return imageURL
	}
	return stored
}

// ObjectKey names a stored avatar: platform/username_unixmillis.
func ObjectKey(platform model.Platform, username string, at time.Time) string {
	name := unsafeKeyChars.ReplaceAllString(strings.ToLower(username), "_")
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s/%s_%d", platform, name, at.UnixMilli())
}

// Package normalize converts raw scraper records into canonical profiles.
//
// Each source shape has its own field table (a struct with explicit JSON
// tags) and one mapping function. Records without a resolvable username are
// rejected with ErrNoUsername and dropped by NormalizeAll.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"newface/discovery-service/internal/model"
)

// Source identifies the shape of a raw record.
type Source string

const (
	// SourceInstagramPost is a hashtag-scraper result: a post with its owner embedded.
	SourceInstagramPost Source = "instagram-post"
	// SourceInstagramProfile is a profile-scraper result with post history.
	SourceInstagramProfile Source = "instagram-profile"
	// SourceInstagramFollower is a follower-list entry.
	SourceInstagramFollower Source = "instagram-follower"
	// SourceTikTokVideo is a TikTok video with an authorMeta sub-object.
	SourceTikTokVideo Source = "tiktok-video"
	// SourceTikTokUser is a flat TikTok author record (profile and follower scrapes).
	SourceTikTokUser Source = "tiktok-user"
)

// Platform returns the social network a source belongs to.
func (s Source) Platform() model.Platform {
	switch s {
	case SourceTikTokVideo, SourceTikTokUser:
		return model.PlatformTikTok
	}
	return model.PlatformInstagram
}

// RawRecord is one untouched item returned by the scrape provider.
type RawRecord struct {
	Source Source
	Data   json.RawMessage
}

var (
	// ErrNoUsername means the record has no resolvable username.
	ErrNoUsername = errors.New("record has no username")
	// ErrUnknownSource means no mapping exists for the record's source.
	ErrUnknownSource = errors.New("unknown record source")
)

// maxEngagementPosts is how many recent Instagram posts feed the engagement rate.
const maxEngagementPosts = 10

var textPolicy = bluemonday.StrictPolicy()

// Normalize maps one raw record to a canonical profile.
func Normalize(rec RawRecord) (model.Profile, error) {
	switch rec.Source {
	case SourceInstagramPost:
		var r igPost
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return model.Profile{}, fmt.Errorf("decode instagram post: %w", err)
		}
		return fromInstagramPost(r)
	case SourceInstagramProfile:
		var r igProfile
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return model.Profile{}, fmt.Errorf("decode instagram profile: %w", err)
		}
		return fromInstagramProfile(r)
	case SourceInstagramFollower:
		var r igFollower
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return model.Profile{}, fmt.Errorf("decode instagram follower: %w", err)
		}
		return fromInstagramFollower(r)
	case SourceTikTokVideo:
		var r ttVideo
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return model.Profile{}, fmt.Errorf("decode tiktok video: %w", err)
		}
		p, err := fromTikTokAuthor(r.AuthorMeta, r.Stats, r.Author)
		if err != nil {
			return p, err
		}
		if r.VideoMeta.CoverURL != "" {
			p.RecentImageURLs = []string{r.VideoMeta.CoverURL}
		}
		return p, nil
	case SourceTikTokUser:
		var r ttUser
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return model.Profile{}, fmt.Errorf("decode tiktok user: %w", err)
		}
		return fromTikTokAuthor(r.ttAuthor, r.Stats, "")
	}
	return model.Profile{}, fmt.Errorf("%w: %q", ErrUnknownSource, rec.Source)
}

// NormalizeAll maps every record, silently dropping those that fail.
func NormalizeAll(records []RawRecord) []model.Profile {
	profiles := make([]model.Profile, 0, len(records))
	for _, rec := range records {
		p, err := Normalize(rec)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// Dedupe keeps the first profile per case-insensitive username, preserving order.
func Dedupe(sets ...[]model.Profile) []model.Profile {
	seen := make(map[string]bool)
	var out []model.Profile
	for _, set := range sets {
		for _, p := range set {
			key := p.Key()
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// ─── Instagram ────────────────────────────────────────────────────────────────

type igPost struct {
	OwnerUsername string `json:"ownerUsername"`
	OwnerFullName string `json:"ownerFullName"`
	DisplayURL    string `json:"displayUrl"`
	LocationName  string `json:"locationName"`
	LikesCount    count  `json:"likesCount"`
	CommentsCount count  `json:"commentsCount"`
}

type igProfile struct {
	Username          string          `json:"username"`
	FullName          string          `json:"fullName"`
	Biography         string          `json:"biography"`
	ProfilePicURL     string          `json:"profilePicUrl"`
	ProfilePicURLHD   string          `json:"profilePicUrlHD"`
	FollowersCount    count           `json:"followersCount"`
	FollowsCount      count           `json:"followsCount"`
	FollowingCount    count           `json:"followingCount"`
	PostsCount        count           `json:"postsCount"`
	Verified          bool            `json:"verified"`
	IsVerified        bool            `json:"isVerified"`
	IsBusinessAccount bool            `json:"isBusinessAccount"`
	ExternalURL       string          `json:"externalUrl"`
	BusinessEmail     string          `json:"businessEmail"`
	BusinessPhone     string          `json:"businessPhoneNumber"`
	BusinessAddress   json.RawMessage `json:"businessAddress"`
	LatestPosts       []igPost        `json:"latestPosts"`
}

type igFollower struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
	IsVerified    bool   `json:"is_verified"`
}

type igAddress struct {
	StreetAddress string `json:"street_address"`
	CityName      string `json:"city_name"`
}

// fromInstagramPost derives a one-post preview; follower counts are unknown.
func fromInstagramPost(r igPost) (model.Profile, error) {
	username := cleanUsername(r.OwnerUsername)
	if username == "" {
		return model.Profile{}, ErrNoUsername
	}
	p := model.Profile{
		Platform:    model.PlatformInstagram,
		Username:    username,
		DisplayName: displayName(r.OwnerFullName, username),
		Location:    optional(r.LocationName),
	}
	if r.DisplayURL != "" {
		p.RecentImageURLs = []string{r.DisplayURL}
	}
	return p, nil
}

func fromInstagramProfile(r igProfile) (model.Profile, error) {
	username := cleanUsername(r.Username)
	if username == "" {
		return model.Profile{}, ErrNoUsername
	}

	posts := r.LatestPosts
	if len(posts) > maxEngagementPosts {
		posts = posts[:maxEngagementPosts]
	}
	var interactions int64
	var images []string
	for _, post := range posts {
		interactions += post.LikesCount.value() + post.CommentsCount.value()
		if post.DisplayURL != "" && len(images) < model.MaxRecentImages {
			images = append(images, post.DisplayURL)
		}
	}

	followers := r.FollowersCount.value()
	avatar := r.ProfilePicURL
	if avatar == "" {
		avatar = r.ProfilePicURLHD
	}

	return model.Profile{
		Platform:          model.PlatformInstagram,
		Username:          username,
		DisplayName:       displayName(r.FullName, username),
		Biography:         sanitize(r.Biography),
		Location:          optional(parseAddress(r.BusinessAddress)),
		ExternalURL:       r.ExternalURL,
		Email:             r.BusinessEmail,
		Phone:             r.BusinessPhone,
		FollowersCount:    followers,
		FollowingCount:    firstNonZero(r.FollowsCount.value(), r.FollowingCount.value()),
		PostsCount:        r.PostsCount.value(),
		EngagementRate:    engagement(float64(interactions), float64(len(posts)), followers),
		IsVerified:        r.Verified || r.IsVerified,
		IsBusinessAccount: r.IsBusinessAccount,
		ProfileImageURL:   avatar,
		RecentImageURLs:   images,
	}, nil
}

func fromInstagramFollower(r igFollower) (model.Profile, error) {
	username := cleanUsername(r.Username)
	if username == "" {
		return model.Profile{}, ErrNoUsername
	}
	return model.Profile{
		Platform:        model.PlatformInstagram,
		Username:        username,
		DisplayName:     displayName(r.FullName, username),
		IsVerified:      r.IsVerified,
		ProfileImageURL: r.ProfilePicURL,
	}, nil
}

// parseAddress accepts businessAddress as either a plain string or an object.
func parseAddress(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var addr igAddress
	if err := json.Unmarshal(raw, &addr); err != nil {
		return ""
	}
	parts := make([]string, 0, 2)
	for _, part := range []string{addr.StreetAddress, addr.CityName} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// ─── TikTok ───────────────────────────────────────────────────────────────────

type ttVideo struct {
	AuthorMeta ttAuthor `json:"authorMeta"`
	// Author is the bare username some actors send instead of authorMeta.name.
	Author    string   `json:"author"`
	Stats     *ttStats `json:"stats"`
	VideoMeta struct {
		CoverURL string `json:"coverUrl"`
	} `json:"videoMeta"`
}

type ttUser struct {
	ttAuthor
	Stats *ttStats `json:"stats"`
}

// ttStats is the counter object of profile-shaped records. Its fields win
// over the authorMeta counters when set.
type ttStats struct {
	FollowerCount  count `json:"followerCount"`
	HeartCount     count `json:"heartCount"`
	VideoCount     count `json:"videoCount"`
	FollowingCount count `json:"followingCount"`
}

type ttAuthor struct {
	Name      string `json:"name"`
	NickName  string `json:"nickName"`
	Nickname  string `json:"nickname"`
	Signature string `json:"signature"`
	Avatar    string `json:"avatar"`
	Verified  bool   `json:"verified"`
	Fans      count  `json:"fans"`
	Heart     count  `json:"heart"`
	Video     count  `json:"video"`
	Following count  `json:"following"`
}

func fromTikTokAuthor(a ttAuthor, stats *ttStats, fallbackName string) (model.Profile, error) {
	username := cleanUsername(a.Name)
	if username == "" {
		username = cleanUsername(fallbackName)
	}
	if username == "" {
		return model.Profile{}, ErrNoUsername
	}
	var st ttStats
	if stats != nil {
		st = *stats
	}
	fans := firstNonZero(st.FollowerCount.value(), a.Fans.value())
	hearts := firstNonZero(st.HeartCount.value(), a.Heart.value())
	videos := firstNonZero(st.VideoCount.value(), a.Video.value())
	nick := a.NickName
	if nick == "" {
		nick = a.Nickname
	}
	return model.Profile{
		Platform:        model.PlatformTikTok,
		Username:        username,
		DisplayName:     displayName(nick, username),
		Biography:       sanitize(a.Signature),
		FollowersCount:  fans,
		FollowingCount:  firstNonZero(st.FollowingCount.value(), a.Following.value()),
		PostsCount:      videos,
		EngagementRate:  engagement(float64(hearts), float64(videos), fans),
		IsVerified:      a.Verified,
		ProfileImageURL: a.Avatar,
	}, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// engagement returns round((interactions/items)/followers*100, 2), or 0 when
// either denominator is zero.
func engagement(interactions, items float64, followers int64) float64 {
	if items <= 0 || followers <= 0 {
		return 0
	}
	rate := interactions / items / float64(followers) * 100
	return math.Round(rate*100) / 100
}

func firstNonZero(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func cleanUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

func displayName(name, username string) string {
	if name = sanitize(name); name != "" {
		return name
	}
	return username
}

// sanitize strips markup from scraped free text.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// count decodes a JSON counter that may arrive as a number, a numeric
// string or null. Hidden counters (Instagram reports -1) read as zero.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = count(f)
	return nil
}

func (c count) value() int64 {
	if c < 0 {
		return 0
	}
	return int64(c)
}

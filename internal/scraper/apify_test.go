package scraper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/normalize"
	"newface/discovery-service/internal/scraper"
)

type capture struct {
	path  string
	query string
	auth  string
	input map[string]any
}

func apifyServer(t *testing.T, status int, reply string, got *capture, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if got != nil {
			got.path = r.URL.Path
			got.query = r.URL.RawQuery
			got.auth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &got.input)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
}

func newClient(srv *httptest.Server, token string) *scraper.Client {
	return scraper.New(token,
		scraper.WithBaseURL(srv.URL),
		scraper.WithWait(90*time.Second),
		scraper.WithRetry(3, time.Millisecond),
	)
}

func TestScrapeHashtag_Instagram(t *testing.T) {
	var got capture
	srv := apifyServer(t, http.StatusCreated, `[{"ownerUsername":"ana"},{"ownerUsername":"bo"},{"ownerUsername":"cy"}]`, &got, nil)
	defer srv.Close()

	recs, err := newClient(srv, "tok").ScrapeHashtag(context.Background(), model.PlatformInstagram, "#newface", 2)
	if err != nil {
		t.Fatalf("ScrapeHashtag: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (limit)", len(recs))
	}
	for _, r := range recs {
		if r.Source != normalize.SourceInstagramPost {
			t.Errorf("source = %q", r.Source)
		}
	}
	if got.path != "/v2/acts/apify~instagram-hashtag-scraper/run-sync-get-dataset-items" {
		t.Errorf("path = %q", got.path)
	}
	if got.query != "limit=2&timeout=90" {
		t.Errorf("query = %q", got.query)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("auth = %q", got.auth)
	}
	if diff := cmp.Diff([]any{"newface"}, got.input["hashtags"]); diff != "" {
		t.Errorf("hashtags (-want +got):\n%s", diff)
	}
}

func TestScrapeHashtag_TikTok(t *testing.T) {
	var got capture
	srv := apifyServer(t, http.StatusOK, `[{"authorMeta":{"name":"ana"}}]`, &got, nil)
	defer srv.Close()

	recs, err := newClient(srv, "tok").ScrapeHashtag(context.Background(), model.PlatformTikTok, "streetstyle", 13)
	if err != nil {
		t.Fatalf("ScrapeHashtag: %v", err)
	}
	if len(recs) != 1 || recs[0].Source != normalize.SourceTikTokVideo {
		t.Fatalf("records = %+v", recs)
	}
	if got.path != "/v2/acts/clockworks~tiktok-scraper/run-sync-get-dataset-items" {
		t.Errorf("path = %q", got.path)
	}
	if got.input["resultsPerPage"] != float64(13) {
		t.Errorf("resultsPerPage = %v", got.input["resultsPerPage"])
	}
}

func TestScrapeProfiles_StripsAt(t *testing.T) {
	var got capture
	srv := apifyServer(t, http.StatusOK, `[]`, &got, nil)
	defer srv.Close()

	_, err := newClient(srv, "tok").ScrapeProfiles(context.Background(), model.PlatformInstagram, []string{"@ana", " bo ", "@"}, 10)
	if err != nil {
		t.Fatalf("ScrapeProfiles: %v", err)
	}
	if diff := cmp.Diff([]any{"ana", "bo"}, got.input["usernames"]); diff != "" {
		t.Errorf("usernames (-want +got):\n%s", diff)
	}
}

func TestScrapeFollowers_Sources(t *testing.T) {
	srv := apifyServer(t, http.StatusOK, `[{"username":"x"}]`, nil, nil)
	defer srv.Close()
	c := newClient(srv, "tok")

	cases := []struct {
		platform model.Platform
		want     normalize.Source
	}{
		{model.PlatformInstagram, normalize.SourceInstagramFollower},
		{model.PlatformTikTok, normalize.SourceTikTokUser},
	}
	for _, tc := range cases {
		recs, err := c.ScrapeFollowers(context.Background(), tc.platform, "@ana", 5)
		if err != nil {
			t.Fatalf("%s: %v", tc.platform, err)
		}
		if len(recs) != 1 || recs[0].Source != tc.want {
			t.Errorf("%s: records = %+v", tc.platform, recs)
		}
	}
}

func TestScrape_NoTokenIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := apifyServer(t, http.StatusOK, `[]`, nil, &calls)
	defer srv.Close()

	_, err := newClient(srv, "").ScrapeHashtag(context.Background(), model.PlatformInstagram, "a", 5)
	if !errors.Is(err, scraper.ErrNotConfigured) || !scraper.IsFatal(err) {
		t.Errorf("err = %v, want fatal ErrNotConfigured", err)
	}
	if calls.Load() != 0 {
		t.Error("no request should be made without a token")
	}
}

func TestScrape_UnauthorizedIsFatalAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := apifyServer(t, http.StatusUnauthorized, `{"error":{"type":"token-not-valid"}}`, nil, &calls)
	defer srv.Close()

	_, err := newClient(srv, "bad").ScrapeHashtag(context.Background(), model.PlatformInstagram, "a", 5)
	if !scraper.IsFatal(err) {
		t.Errorf("err = %v, want fatal", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestScrape_ServerErrorRetriedThenSoft(t *testing.T) {
	var calls atomic.Int32
	srv := apifyServer(t, http.StatusBadGateway, `upstream`, nil, &calls)
	defer srv.Close()

	_, err := newClient(srv, "tok").ScrapeHashtag(context.Background(), model.PlatformTikTok, "a", 5)
	var httpErr *scraper.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want HTTP 502", err)
	}
	if scraper.IsFatal(err) {
		t.Error("a 502 must not be job-fatal")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestCleanHashtag(t *testing.T) {
	for in, want := range map[string]string{"#a": "a", " ##b ": "b", "c": "c", "#": ""} {
		if got := scraper.CleanHashtag(in); got != want {
			t.Errorf("CleanHashtag(%q) = %q, want %q", in, got, want)
		}
	}
}

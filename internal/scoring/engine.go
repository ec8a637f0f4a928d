// Package scoring rates a canonical profile with a generative model.
//
// The model supplies the per-dimension scores; the composite is always
// recomputed here with fixed weights. Score never fails: any network, model
// or parse error yields DefaultAnalysis and a score of DefaultDimensionScore.
package scoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"newface/discovery-service/internal/model"
)

// MaxImages is the most images attached to one model call: the profile
// picture plus four more.
const MaxImages = 5

// Generator invokes the generative model.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []model.Image) (string, error)
}

// ImageFetcher downloads an image for inline attachment.
type ImageFetcher interface {
	FetchBase64(ctx context.Context, url string) (model.Image, error)
}

// Request is one profile to score.
type Request struct {
	Profile model.Profile
	// ImageURLs are caller-supplied pictures, tried before recent posts.
	ImageURLs []string
	Mode      model.ScoringMode
	Filters   *model.Filters
}

// Result is the composite score and the analysis that produced it.
type Result struct {
	Score    int            `json:"score"`
	Analysis model.Analysis `json:"analysis"`
}

// Engine scores profiles.
type Engine struct {
	gen        Generator
	images     ImageFetcher
	log        *slog.Logger
	batchSize  int
	batchDelay time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithBatching sets the group size and inter-group delay used by ScoreBatch.
func WithBatching(size int, delay time.Duration) Option {
	return func(e *Engine) {
		if size > 0 {
			e.batchSize = size
		}
		if delay >= 0 {
			e.batchDelay = delay
		}
	}
}

// NewEngine returns an Engine. images may be nil, in which case every call
// takes the text-only path.
func NewEngine(gen Generator, images ImageFetcher, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{gen: gen, images: images, log: log, batchSize: 3, batchDelay: time.Second}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score rates one profile.
func (e *Engine) Score(ctx context.Context, req Request) Result {
	mode := req.Mode
	if mode != model.ModeStreetCasting {
		mode = model.ModeStandard
	}

	images := e.ResolveImages(ctx, req)
	prompt := BuildPrompt(req.Profile, mode, req.Filters, len(images))

	text, err := e.gen.Generate(ctx, prompt, images)
	if err != nil {
		e.log.Warn("model call failed, using default analysis",
			"username", req.Profile.Username, "mode", mode, "err", err)
		return fallback(mode, len(images) > 0)
	}

	analysis, err := ParseResponse(text, mode)
	if err != nil {
		e.log.Warn("unparsable model response, using default analysis",
			"username", req.Profile.Username, "mode", mode, "err", err)
		return fallback(mode, len(images) > 0)
	}

	analysis.VisionAnalyzed = len(images) > 0
	score := ApplyComposite(&analysis, ageRange(req.Filters))
	return Result{Score: score, Analysis: analysis}
}

// ScoreBatch scores requests in groups of the configured size, pausing
// between groups. Results are returned in input order.
func (e *Engine) ScoreBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	for start := 0; start < len(reqs); start += e.batchSize {
		end := min(start+e.batchSize, len(reqs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = e.Score(ctx, reqs[i])
				return nil
			})
		}
		_ = g.Wait()

		if end < len(reqs) && e.batchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.batchDelay):
			}
		}
	}
	return results
}

// ResolveImages fetches up to MaxImages pictures concurrently: the profile
// picture, then caller-supplied URLs, then recent posts. Failed fetches are
// omitted; order follows the candidate list.
func (e *Engine) ResolveImages(ctx context.Context, req Request) []model.Image {
	if e.images == nil {
		return nil
	}
	urls := imageURLs(req)
	if len(urls) == 0 {
		return nil
	}

	fetched := make([]*model.Image, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			img, err := e.images.FetchBase64(ctx, u)
			if err != nil {
				e.log.Debug("image unavailable", "url", u, "err", err)
				return nil
			}
			fetched[i] = &img
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Image, 0, len(urls))
	for _, img := range fetched {
		if img != nil {
			out = append(out, *img)
		}
	}
	return out
}

func imageURLs(req Request) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || len(urls) >= MaxImages {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	add(req.Profile.ProfileImageURL)
	for _, u := range req.ImageURLs {
		add(u)
	}
	for _, u := range req.Profile.RecentImageURLs {
		add(u)
	}
	return urls
}

func fallback(mode model.ScoringMode, vision bool) Result {
	a := DefaultAnalysis(mode)
	a.VisionAnalyzed = vision
	return Result{Score: a.OverallScore, Analysis: a}
}

func ageRange(f *model.Filters) *model.AgeRange {
	if f == nil {
		return nil
	}
	return f.AgeRange
}

package discovery

import (
	"math"
	"strings"
	"time"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/scraper"
)

// PlatformsBoth requests Instagram and TikTok together.
const PlatformsBoth = "both"

// StartRequest is the caller input of a discovery job.
type StartRequest struct {
	// Platforms is "instagram", "tiktok" or "both".
	Platforms  string           `json:"platforms"`
	SearchType model.SearchType `json:"searchType"`
	Hashtags   []string         `json:"hashtags,omitempty"`
	Usernames  []string         `json:"usernames,omitempty"`
	// SearchQuery is a comma-separated alternative to Hashtags/Usernames.
	SearchQuery       string         `json:"searchQuery,omitempty"`
	Limit             int            `json:"limit,omitempty"`
	StreetCastingMode bool           `json:"streetCastingMode"`
	Filters           *model.Filters `json:"filters,omitempty"`
	Async             bool           `json:"async,omitempty"`
}

// Settings are the orchestrator tunables.
type Settings struct {
	AnalysisFraction float64
	AnalysisMin      int
	AnalysisMax      int
	AnalysisWorkers  int
	DefaultLimit     int
	PerCallCap       int
	CandidateDelay   time.Duration
}

// DefaultSettings mirrors the service defaults.
func DefaultSettings() Settings {
	return Settings{
		AnalysisFraction: 0.5,
		AnalysisMin:      10,
		AnalysisMax:      25,
		AnalysisWorkers:  1,
		DefaultLimit:     50,
		PerCallCap:       30,
		CandidateDelay:   200 * time.Millisecond,
	}
}

// Plan is a validated request resolved into scrape calls.
type Plan struct {
	Platforms  []model.Platform
	SearchType model.SearchType
	// Terms are hashtags for hashtag/location searches and usernames otherwise.
	Terms   []string
	Limit   int
	PerCall int
	Mode    model.ScoringMode
	Filters *model.Filters
}

// NewPlan validates req. Errors are *model.ValidationError.
func NewPlan(req StartRequest, st Settings) (Plan, error) {
	platforms, err := ParsePlatforms(req.Platforms)
	if err != nil {
		return Plan{}, err
	}
	if req.SearchType == "" {
		return Plan{}, &model.ValidationError{Msg: "searchType is required"}
	}
	searchType, err := model.ParseSearchType(string(req.SearchType))
	if err != nil {
		return Plan{}, &model.ValidationError{Msg: err.Error()}
	}

	terms := searchTerms(req, searchType)
	if len(terms) == 0 {
		if searchType == model.SearchProfile || searchType == model.SearchFollowers {
			return Plan{}, &model.ValidationError{Msg: "usernames are required"}
		}
		return Plan{}, &model.ValidationError{Msg: "hashtags are required"}
	}
	if req.Limit < 0 {
		return Plan{}, &model.ValidationError{Msg: "limit must not be negative"}
	}
	if f := req.Filters; f != nil {
		if f.MinFollowers != nil && f.MaxFollowers != nil && *f.MinFollowers > *f.MaxFollowers {
			return Plan{}, &model.ValidationError{Msg: "filters.minFollowers exceeds filters.maxFollowers"}
		}
	}

	limit := req.Limit
	if limit == 0 {
		limit = st.DefaultLimit
	}
	mode := model.ModeStandard
	if req.StreetCastingMode {
		mode = model.ModeStreetCasting
	}

	return Plan{
		Platforms:  platforms,
		SearchType: searchType,
		Terms:      terms,
		Limit:      limit,
		PerCall:    PerCallLimit(limit, len(platforms), len(terms), st.PerCallCap),
		Mode:       mode,
		Filters:    req.Filters,
	}, nil
}

// ParsePlatforms expands "instagram", "tiktok" or "both".
func ParsePlatforms(s string) ([]model.Platform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, &model.ValidationError{Msg: "platforms is required"}
	}
	if s == PlatformsBoth {
		return []model.Platform{model.PlatformInstagram, model.PlatformTikTok}, nil
	}
	p, err := model.ParsePlatform(s)
	if err != nil {
		return nil, &model.ValidationError{Msg: err.Error()}
	}
	return []model.Platform{p}, nil
}

// PerCallLimit splits limit evenly across platforms and terms, rounding up,
// and caps the share at perCallCap.
func PerCallLimit(limit, platforms, terms, perCallCap int) int {
	if platforms < 1 {
		platforms = 1
	}
	if terms < 1 {
		terms = 1
	}
	n := int(math.Ceil(float64(limit) / float64(platforms) / float64(terms)))
	if perCallCap > 0 && n > perCallCap {
		n = perCallCap
	}
	return max(n, 1)
}

// AnalysisSubsetSize is how many of n filtered profiles are scored:
// max(ceil(n*fraction), minimum) capped at maximum and at n.
func AnalysisSubsetSize(n int, fraction float64, minimum, maximum int) int {
	k := int(math.Ceil(float64(n) * fraction))
	k = max(k, minimum)
	if maximum > 0 {
		k = min(k, maximum)
	}
	return min(k, n)
}

func searchTerms(req StartRequest, st model.SearchType) []string {
	var raw []string
	switch st {
	case model.SearchProfile, model.SearchFollowers:
		raw = req.Usernames
	default:
		raw = req.Hashtags
	}
	if len(raw) == 0 && req.SearchQuery != "" {
		raw = strings.Split(req.SearchQuery, ",")
	}

	seen := make(map[string]bool)
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		switch st {
		case model.SearchProfile, model.SearchFollowers:
			t = strings.TrimLeft(strings.TrimSpace(t), "@")
		case model.SearchLocation:
			t = strings.ReplaceAll(scraper.CleanHashtag(t), " ", "")
		default:
			t = scraper.CleanHashtag(t)
		}
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		terms = append(terms, t)
	}
	return terms
}

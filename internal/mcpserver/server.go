// Package mcpserver exposes profile scoring and discovery jobs as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"newface/discovery-service/internal/discovery"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/scoring"
)

// MaxBatchProfiles caps score_profiles.
const MaxBatchProfiles = 50

// Scorer rates profiles without persisting them.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) scoring.Result
	ScoreBatch(ctx context.Context, reqs []scoring.Request) []scoring.Result
}

// Register adds the scoring tools, and the discovery tools when disc is
// non-nil, to srv.
func Register(srv *mcp.Server, scorer Scorer, disc *discovery.Service) {
	registerScoreProfile(srv, scorer)
	registerScoreProfiles(srv, scorer)
	if disc != nil {
		registerStartDiscovery(srv, disc)
		registerGetDiscoveryJob(srv, disc)
	}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(name, version string, scorer Scorer, disc *discovery.Service) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	Register(srv, scorer, disc)
	return srv
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool decodes the arguments into Req, runs fn and returns its result as
// JSON text. Decode and handler failures become tool errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		out, err := fn(ctx, &in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

var profileSchema = map[string]any{
	"type":        "object",
	"description": "Canonical profile: platform, username, displayName, biography, followersCount, engagementRate, profileImageUrl, recentImageUrls...",
}

var filtersSchema = map[string]any{
	"type":        "object",
	"description": "Optional constraints: minFollowers, maxFollowers, maxEngagement, targetCities, ageRange {min, max}, stylePreference",
}

// --- score_profile ---

type scoreReq struct {
	Profile           model.Profile  `json:"profile"`
	ImageURLs         []string       `json:"imageUrls"`
	StreetCastingMode bool           `json:"streetCastingMode"`
	Filters           *model.Filters `json:"filters"`
}

func registerScoreProfile(srv *mcp.Server, scorer Scorer) {
	tool := &mcp.Tool{
		Name:        "score_profile",
		Description: "Score one social profile as a potential new face. Returns the composite score and the full analysis.",
		InputSchema: inputSchema(map[string]any{
			"profile":           profileSchema,
			"imageUrls":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Extra pictures to attach"},
			"streetCastingMode": map[string]any{"type": "boolean", "description": "Use the street-casting rubric"},
			"filters":           filtersSchema,
		}, []string{"profile"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *scoreReq) (any, error) {
		if strings.TrimSpace(r.Profile.Username) == "" {
			return nil, errors.New("profile.username is required")
		}
		return scorer.Score(ctx, scoring.Request{
			Profile:   r.Profile,
			ImageURLs: r.ImageURLs,
			Mode:      modeOf(r.StreetCastingMode),
			Filters:   r.Filters,
		}), nil
	})
}

// --- score_profiles ---

type scoreBatchReq struct {
	Profiles          []model.Profile `json:"profiles"`
	StreetCastingMode bool            `json:"streetCastingMode"`
	Filters           *model.Filters  `json:"filters"`
}

func registerScoreProfiles(srv *mcp.Server, scorer Scorer) {
	tool := &mcp.Tool{
		Name:        "score_profiles",
		Description: "Score several profiles in rate-limited groups. Results are in input order.",
		InputSchema: inputSchema(map[string]any{
			"profiles":          map[string]any{"type": "array", "items": profileSchema},
			"streetCastingMode": map[string]any{"type": "boolean"},
			"filters":           filtersSchema,
		}, []string{"profiles"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *scoreBatchReq) (any, error) {
		if len(r.Profiles) == 0 {
			return nil, errors.New("profiles is required")
		}
		if len(r.Profiles) > MaxBatchProfiles {
			return nil, fmt.Errorf("at most %d profiles per call", MaxBatchProfiles)
		}
		reqs := make([]scoring.Request, 0, len(r.Profiles))
		for _, p := range r.Profiles {
			if strings.TrimSpace(p.Username) == "" {
				return nil, errors.New("every profile needs a username")
			}
			reqs = append(reqs, scoring.Request{Profile: p, Mode: modeOf(r.StreetCastingMode), Filters: r.Filters})
		}
		return map[string]any{"results": scorer.ScoreBatch(ctx, reqs)}, nil
	})
}

// --- start_discovery ---

type startReq struct {
	UserID string `json:"userId"`
	discovery.StartRequest
}

func registerStartDiscovery(srv *mcp.Server, disc *discovery.Service) {
	tool := &mcp.Tool{
		Name:        "start_discovery",
		Description: "Scrape Instagram/TikTok for unsigned talent, score the best matches and save them as candidates. Blocks until the job ends unless async is true.",
		InputSchema: inputSchema(map[string]any{
			"userId":            map[string]any{"type": "string", "description": "Owner of the job and its candidates"},
			"platforms":         map[string]any{"type": "string", "enum": []string{"instagram", "tiktok", "both"}},
			"searchType":        map[string]any{"type": "string", "enum": []string{"hashtag", "location", "profile", "followers"}},
			"hashtags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"usernames":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limit":             map[string]any{"type": "integer", "minimum": 0},
			"streetCastingMode": map[string]any{"type": "boolean"},
			"filters":           filtersSchema,
			"async":             map[string]any{"type": "boolean"},
		}, []string{"userId", "platforms", "searchType"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *startReq) (any, error) {
		return disc.Start(ctx, r.UserID, r.StartRequest)
	})
}

// --- get_discovery_job ---

type jobReq struct {
	UserID string `json:"userId"`
	JobID  string `json:"jobId"`
}

func registerGetDiscoveryJob(srv *mcp.Server, disc *discovery.Service) {
	tool := &mcp.Tool{
		Name:        "get_discovery_job",
		Description: "Return a discovery job's status, counters and top candidates.",
		InputSchema: inputSchema(map[string]any{
			"userId": map[string]any{"type": "string"},
			"jobId":  map[string]any{"type": "string"},
		}, []string{"userId", "jobId"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *jobReq) (any, error) {
		if r.JobID == "" {
			return nil, errors.New("jobId is required")
		}
		return disc.Status(ctx, r.UserID, r.JobID)
	})
}

func modeOf(street bool) model.ScoringMode {
	if street {
		return model.ModeStreetCasting
	}
	return model.ModeStandard
}

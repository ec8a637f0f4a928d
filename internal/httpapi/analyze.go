package httpapi

import (
	"net/http"
	"strings"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/scoring"
)

// MaxAnalyzeProfiles caps a batch analyze request.
const MaxAnalyzeProfiles = 50

type analyzeRequest struct {
	Profile           *model.Profile  `json:"profile,omitempty"`
	Profiles          []model.Profile `json:"profiles,omitempty"`
	ImageURLs         []string        `json:"imageUrls,omitempty"`
	StreetCastingMode bool            `json:"streetCastingMode"`
	Filters           *model.Filters  `json:"filters,omitempty"`
}

type batchResponse struct {
	Results []scoring.Result `json:"results"`
}

// analyze handles POST /analyze. A single "profile" returns one result;
// "profiles" are scored in rate-limited groups and return {"results": [...]}.
func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	mode := model.ModeStandard
	if body.StreetCastingMode {
		mode = model.ModeStreetCasting
	}

	switch {
	case body.Profile != nil && len(body.Profiles) > 0:
		jsonError(w, "send either profile or profiles", http.StatusBadRequest)
	case body.Profile != nil:
		if strings.TrimSpace(body.Profile.Username) == "" {
			jsonError(w, "profile.username is required", http.StatusBadRequest)
			return
		}
		jsonOK(w, h.scorer.Score(r.Context(), scoring.Request{
			Profile:   *body.Profile,
			ImageURLs: body.ImageURLs,
			Mode:      mode,
			Filters:   body.Filters,
		}))
	case len(body.Profiles) > MaxAnalyzeProfiles:
		jsonError(w, "too many profiles", http.StatusBadRequest)
	case len(body.Profiles) > 0:
		reqs := make([]scoring.Request, 0, len(body.Profiles))
		for _, p := range body.Profiles {
			if strings.TrimSpace(p.Username) == "" {
				jsonError(w, "every profile needs a username", http.StatusBadRequest)
				return
			}
			reqs = append(reqs, scoring.Request{Profile: p, Mode: mode, Filters: body.Filters})
		}
		jsonOK(w, batchResponse{Results: h.scorer.ScoreBatch(r.Context(), reqs)})
	default:
		jsonError(w, "profile is required", http.StatusBadRequest)
	}
}

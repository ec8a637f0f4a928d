package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"newface/discovery-service/internal/model"
)

// rawDimension accepts numeric fields as floats since models are loose with types.
type rawDimension struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Factors    []string `json:"factors"`
	Notes      string   `json:"notes"`
}

type rawAnalysis struct {
	PhysicalPotential   *rawDimension `json:"physical_potential"`
	UnsignedProbability *rawDimension `json:"unsigned_probability"`
	Reachability        *rawDimension `json:"reachability"`
	EngagementHealth    *rawDimension `json:"engagement_health"`

	OverallScore        *float64 `json:"overall_score"`
	OverallAssessment   string   `json:"overall_assessment"`
	Strengths           []string `json:"strengths"`
	PotentialCategories []string `json:"potential_categories"`
	Recommendations     []string `json:"recommendations"`

	EstimatedAge             *float64 `json:"estimated_age"`
	AgeConfidence            *float64 `json:"age_confidence"`
	RawPotentialScore        *float64 `json:"raw_potential_score"`
	ContentAuthenticityScore *float64 `json:"content_authenticity_score"`
	ContentStyle             string   `json:"content_style"`
	DeviceQuality            string   `json:"device_quality"`
	AuthenticitySignals      []string `json:"authenticity_signals"`
	StreetCastingScore       *float64 `json:"street_casting_score"`
}

// ParseResponse decodes a model reply into an Analysis. Code fences around the
// JSON are tolerated, and so is prose around the object. Missing dimensions
// take the default score and confidence. The returned analysis has no
// composite yet; see ApplyComposite.
func ParseResponse(text string, mode model.ScoringMode) (model.Analysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &raw); err != nil {
		obj, ok := ExtractObject(text)
		if !ok {
			return model.Analysis{}, fmt.Errorf("parse model response: %w", err)
		}
		raw = rawAnalysis{}
		if err := json.Unmarshal([]byte(obj), &raw); err != nil {
			return model.Analysis{}, fmt.Errorf("parse model response: %w", err)
		}
	}

	a := model.Analysis{
		PhysicalPotential:   raw.PhysicalPotential.toScore(),
		UnsignedProbability: raw.UnsignedProbability.toScore(),
		Reachability:        raw.Reachability.toScore(),
		EngagementHealth:    raw.EngagementHealth.toScore(),
		OverallAssessment:   strings.TrimSpace(raw.OverallAssessment),
		Strengths:           nonNil(raw.Strengths),
		PotentialCategories: nonNil(raw.PotentialCategories),
		Recommendations:     nonNil(raw.Recommendations),
	}

	if mode == model.ModeStreetCasting {
		a.StreetCasting = &model.StreetCastingAnalysis{
			EstimatedAge:             intOr(raw.EstimatedAge, 0, 0, 120),
			AgeConfidence:            intOr(raw.AgeConfidence, 0, 0, 100),
			RawPotentialScore:        intOr(raw.RawPotentialScore, DefaultDimensionScore, 0, 100),
			ContentAuthenticityScore: intOr(raw.ContentAuthenticityScore, DefaultDimensionScore, 0, 100),
			ContentStyle:             parseContentStyle(raw.ContentStyle),
			DeviceQuality:            parseDeviceQuality(raw.DeviceQuality),
			AuthenticitySignals:      nonNil(raw.AuthenticitySignals),
		}
	}
	return a, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence, if present.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractObject returns the text from the first '{' to the last '}'.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func (d *rawDimension) toScore() model.DimensionScore {
	if d == nil {
		return model.DimensionScore{
			Score:      DefaultDimensionScore,
			Confidence: DefaultConfidence,
			Factors:    []string{},
		}
	}
	return model.DimensionScore{
		Score:      intOr(d.Score, DefaultDimensionScore, 0, 100),
		Confidence: intOr(d.Confidence, DefaultConfidence, 0, 100),
		Factors:    nonNil(d.Factors),
		Notes:      strings.TrimSpace(d.Notes),
	}
}

func intOr(v *float64, fallback, lo, hi int) int {
	if v == nil || math.IsNaN(*v) {
		return fallback
	}
	n := int(math.Round(*v))
	return min(hi, max(lo, n))
}

func parseContentStyle(s string) model.ContentStyle {
	cs := model.ContentStyle(strings.ToLower(strings.TrimSpace(s)))
	switch cs {
	case model.ContentProfessional, model.ContentSemiProfessional, model.ContentAmateur, model.ContentCandid:
		return cs
	}
	return model.ContentAmateur
}

func parseDeviceQuality(s string) model.DeviceQuality {
	dq := model.DeviceQuality(strings.ToLower(strings.TrimSpace(s)))
	switch dq {
	case model.DeviceDSLR, model.DeviceMirrorless, model.DeviceIPhone, model.DeviceAndroid, model.DeviceUnknown:
		return dq
	}
	return model.DeviceUnknown
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

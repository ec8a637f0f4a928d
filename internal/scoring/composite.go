package scoring

import (
	"math"

	"newface/discovery-service/internal/model"
)

// DefaultDimensionScore and DefaultConfidence fill any dimension the model
// did not provide, and every dimension of the fallback analysis.
const (
	DefaultDimensionScore = 50
	DefaultConfidence     = 20
)

// Standard rubric weights.
const (
	WeightPhysical   = 0.35
	WeightUnsigned   = 0.25
	WeightReach      = 0.20
	WeightEngagement = 0.20
)

// Street-casting rubric weights.
const (
	StreetWeightUnsigned     = 0.30
	StreetWeightRawPotential = 0.20
	StreetWeightPhysical     = 0.25
	StreetWeightAuthenticity = 0.15
	StreetWeightAgeMatch     = 0.10
)

// StandardComposite is round(.35p + .25u + .20r + .20e).
func StandardComposite(physical, unsigned, reach, engagement int) int {
	return roundScore(WeightPhysical*float64(physical) +
		WeightUnsigned*float64(unsigned) +
		WeightReach*float64(reach) +
		WeightEngagement*float64(engagement))
}

// StreetComposite is round(.30u + .20raw + .25p + .15auth + .10age).
func StreetComposite(unsigned, rawPotential, physical, authenticity, ageMatch int) int {
	return roundScore(StreetWeightUnsigned*float64(unsigned) +
		StreetWeightRawPotential*float64(rawPotential) +
		StreetWeightPhysical*float64(physical) +
		StreetWeightAuthenticity*float64(authenticity) +
		StreetWeightAgeMatch*float64(ageMatch))
}

// AgeMatch scores an estimated age against the target range: 100 inside the
// range, minus 10 per year outside it, floored at 0. Without a range every
// age matches; an unknown age (0) with a range scores DefaultDimensionScore.
func AgeMatch(estimatedAge int, r *model.AgeRange) int {
	if r == nil {
		return 100
	}
	if estimatedAge <= 0 {
		return DefaultDimensionScore
	}
	lo, hi := r.Min, r.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	var distance int
	switch {
	case estimatedAge < lo:
		distance = lo - estimatedAge
	case estimatedAge > hi:
		distance = estimatedAge - hi
	default:
		return 100
	}
	return max(0, 100-10*distance)
}

// ApplyComposite recomputes the authoritative composite from the dimension
// scores and writes it into a, discarding whatever the model proposed.
func ApplyComposite(a *model.Analysis, r *model.AgeRange) int {
	if sc := a.StreetCasting; sc != nil {
		sc.AgeMatchScore = AgeMatch(sc.EstimatedAge, r)
		sc.StreetCastingScore = StreetComposite(
			a.UnsignedProbability.Score,
			sc.RawPotentialScore,
			a.PhysicalPotential.Score,
			sc.ContentAuthenticityScore,
			sc.AgeMatchScore,
		)
		a.OverallScore = sc.StreetCastingScore
		return a.OverallScore
	}
	a.OverallScore = StandardComposite(
		a.PhysicalPotential.Score,
		a.UnsignedProbability.Score,
		a.Reachability.Score,
		a.EngagementHealth.Score,
	)
	return a.OverallScore
}

// DefaultAnalysis is the uniform fallback used whenever scoring cannot
// complete. Its composite is always DefaultDimensionScore.
func DefaultAnalysis(mode model.ScoringMode) model.Analysis {
	dim := func() model.DimensionScore {
		return model.DimensionScore{
			Score:      DefaultDimensionScore,
			Confidence: DefaultConfidence,
			Factors:    []string{},
			Notes:      "Automatic analysis unavailable",
		}
	}
	a := model.Analysis{
		PhysicalPotential:   dim(),
		UnsignedProbability: dim(),
		Reachability:        dim(),
		EngagementHealth:    dim(),
		OverallScore:        DefaultDimensionScore,
		OverallAssessment:   "Unable to complete full analysis. Manual review recommended.",
		Strengths:           []string{},
		PotentialCategories: []string{},
		Recommendations:     []string{"Review the profile manually"},
	}
	if mode == model.ModeStreetCasting {
		a.StreetCasting = &model.StreetCastingAnalysis{
			RawPotentialScore:        DefaultDimensionScore,
			ContentAuthenticityScore: DefaultDimensionScore,
			ContentStyle:             model.ContentAmateur,
			DeviceQuality:            model.DeviceUnknown,
			AuthenticitySignals:      []string{},
			AgeMatchScore:            DefaultDimensionScore,
			StreetCastingScore:       DefaultDimensionScore,
		}
	}
	return a
}

func roundScore(v float64) int {
	return clamp(int(math.Round(v)))
}

func clamp(v int) int {
	return min(100, max(0, v))
}

package scoring_test

import (
	"math"
	"testing"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/scoring"
)

func TestStandardComposite(t *testing.T) {
	cases := []struct {
		p, u, r, e int
		want       int
	}{
		{50, 50, 50, 50, 50},
		{100, 0, 0, 0, 35},
		{0, 100, 0, 0, 25},
		{80, 70, 60, 90, 76}, // 28 + 17.5 + 12 + 18 = 75.5 → 76
		{0, 0, 0, 0, 0},
		{100, 100, 100, 100, 100},
	}
	for _, c := range cases {
		if got := scoring.StandardComposite(c.p, c.u, c.r, c.e); got != c.want {
			t.Errorf("StandardComposite(%d,%d,%d,%d) = %d, want %d", c.p, c.u, c.r, c.e, got, c.want)
		}
	}
}

func TestStandardComposite_MatchesFormulaOnGrid(t *testing.T) {
	for p := 0; p <= 100; p += 17 {
		for u := 0; u <= 100; u += 23 {
			for r := 0; r <= 100; r += 31 {
				for e := 0; e <= 100; e += 29 {
					want := int(math.Round(0.35*float64(p) + 0.25*float64(u) + 0.20*float64(r) + 0.20*float64(e)))
					if got := scoring.StandardComposite(p, u, r, e); got != want {
						t.Fatalf("StandardComposite(%d,%d,%d,%d) = %d, want %d", p, u, r, e, got, want)
					}
				}
			}
		}
	}
}

func TestStreetComposite(t *testing.T) {
	// .30*80 + .20*60 + .25*70 + .15*90 + .10*100 = 24 + 12 + 17.5 + 13.5 + 10 = 77
	if got := scoring.StreetComposite(80, 60, 70, 90, 100); got != 77 {
		t.Errorf("StreetComposite = %d, want 77", got)
	}
	if got := scoring.StreetComposite(50, 50, 50, 50, 50); got != 50 {
		t.Errorf("StreetComposite(all 50) = %d, want 50", got)
	}
}

func TestAgeMatch(t *testing.T) {
	target := &model.AgeRange{Min: 18, Max: 24}
	cases := []struct {
		age  int
		r    *model.AgeRange
		want int
	}{
		{20, target, 100},
		{18, target, 100},
		{24, target, 100},
		{30, target, 40},
		{16, target, 80},
		{40, target, 0},
		{5, target, 0},
		{0, target, scoring.DefaultDimensionScore},
		{30, nil, 100},
		{20, &model.AgeRange{Min: 24, Max: 18}, 100},
	}
	for _, c := range cases {
		if got := scoring.AgeMatch(c.age, c.r); got != c.want {
			t.Errorf("AgeMatch(%d, %v) = %d, want %d", c.age, c.r, got, c.want)
		}
	}
}

func TestApplyComposite_OverwritesModelScore(t *testing.T) {
	a := model.Analysis{
		PhysicalPotential:   model.DimensionScore{Score: 80},
		UnsignedProbability: model.DimensionScore{Score: 70},
		Reachability:        model.DimensionScore{Score: 60},
		EngagementHealth:    model.DimensionScore{Score: 90},
		OverallScore:        12,
	}
	if got := scoring.ApplyComposite(&a, nil); got != 76 || a.OverallScore != 76 {
		t.Errorf("ApplyComposite = %d (stored %d), want 76", got, a.OverallScore)
	}
}

func TestApplyComposite_StreetCasting(t *testing.T) {
	a := model.Analysis{
		PhysicalPotential:   model.DimensionScore{Score: 70},
		UnsignedProbability: model.DimensionScore{Score: 80},
		StreetCasting: &model.StreetCastingAnalysis{
			EstimatedAge:             30,
			RawPotentialScore:        60,
			ContentAuthenticityScore: 90,
			StreetCastingScore:       99,
		},
	}
	got := scoring.ApplyComposite(&a, &model.AgeRange{Min: 18, Max: 24})
	// age match 40: 24 + 12 + 17.5 + 13.5 + 4 = 71
	if got != 71 {
		t.Errorf("ApplyComposite = %d, want 71", got)
	}
	if a.StreetCasting.AgeMatchScore != 40 || a.StreetCasting.StreetCastingScore != 71 || a.OverallScore != 71 {
		t.Errorf("stored scores: ageMatch=%d street=%d overall=%d",
			a.StreetCasting.AgeMatchScore, a.StreetCasting.StreetCastingScore, a.OverallScore)
	}
}

func TestDefaultAnalysis(t *testing.T) {
	for _, mode := range []model.ScoringMode{model.ModeStandard, model.ModeStreetCasting} {
		a := scoring.DefaultAnalysis(mode)
		for name, d := range map[string]model.DimensionScore{
			"physical":   a.PhysicalPotential,
			"unsigned":   a.UnsignedProbability,
			"reach":      a.Reachability,
			"engagement": a.EngagementHealth,
		} {
			if d.Score != 50 || d.Confidence != 20 {
				t.Errorf("%s/%s = %d/%d, want 50/20", mode, name, d.Score, d.Confidence)
			}
		}
		if a.OverallScore != 50 {
			t.Errorf("%s overall = %d, want 50", mode, a.OverallScore)
		}
		if (mode == model.ModeStreetCasting) != (a.StreetCasting != nil) {
			t.Errorf("%s: street-casting block presence wrong", mode)
		}
	}
}

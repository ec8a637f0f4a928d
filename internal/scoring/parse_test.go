package scoring_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/scoring"
)

func TestStripCodeFence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```JSON\n{\"a\":1}\n```\n", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```{\"a\":1}```  ", `{"a":1}`},
		{"```json\n{\n  \"a\": 1\n}\n```", "{\n  \"a\": 1\n}"},
	}
	for _, c := range cases {
		if got := scoring.StripCodeFence(c.in); got != c.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseResponse_Standard(t *testing.T) {
	text := "```json\n" + `{
  "physical_potential": {"score": 82.6, "confidence": 70, "factors": ["jawline"], "notes": "strong"},
  "unsigned_probability": {"score": 140, "confidence": -5},
  "engagement_health": {"score": 40, "confidence": 60, "factors": [], "notes": ""},
  "overall_score": 3,
  "overall_assessment": " Promising. ",
  "strengths": ["height"],
  "potential_categories": ["Editorial"]
}` + "\n```"

	a, err := scoring.ParseResponse(text, model.ModeStandard)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}

	want := model.Analysis{
		PhysicalPotential:   model.DimensionScore{Score: 83, Confidence: 70, Factors: []string{"jawline"}, Notes: "strong"},
		UnsignedProbability: model.DimensionScore{Score: 100, Confidence: 0, Factors: []string{}},
		Reachability:        model.DimensionScore{Score: 50, Confidence: 20, Factors: []string{}},
		EngagementHealth:    model.DimensionScore{Score: 40, Confidence: 60, Factors: []string{}},
		OverallAssessment:   "Promising.",
		Strengths:           []string{"height"},
		PotentialCategories: []string{"Editorial"},
		Recommendations:     []string{},
	}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("analysis (-want +got):\n%s", diff)
	}
}

func TestParseResponse_StreetCastingEnums(t *testing.T) {
	text := `{
  "physical_potential": {"score": 70, "confidence": 50},
  "unsigned_probability": {"score": 80, "confidence": 50},
  "estimated_age": 21.4,
  "age_confidence": 65,
  "raw_potential_score": 75,
  "content_style": "Candid",
  "device_quality": "polaroid",
  "authenticity_signals": ["no filters"]
}`
	a, err := scoring.ParseResponse(text, model.ModeStreetCasting)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	sc := a.StreetCasting
	if sc == nil {
		t.Fatal("street-casting block missing")
	}
	want := model.StreetCastingAnalysis{
		EstimatedAge:             21,
		AgeConfidence:            65,
		RawPotentialScore:        75,
		ContentAuthenticityScore: 50,
		ContentStyle:             model.ContentCandid,
		DeviceQuality:            model.DeviceUnknown,
		AuthenticitySignals:      []string{"no filters"},
	}
	if diff := cmp.Diff(want, *sc); diff != "" {
		t.Errorf("street casting (-want +got):\n%s", diff)
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	for _, text := range []string{"", "I think this person is great!", "```json\n{\"physical_potential\": \n```"} {
		if _, err := scoring.ParseResponse(text, model.ModeStandard); err == nil {
			t.Errorf("ParseResponse(%q) expected error", text)
		}
	}
}

func TestParseResponse_LooseWrapping(t *testing.T) {
	obj := `{"physical_potential": {"score": 77, "confidence": 60, "factors": []}}`
	for _, text := range []string{
		"```json " + obj + "```",
		"Here is the analysis:\n```json\n" + obj + "\n```",
		"Sure! " + obj + " Let me know if you need more.",
	} {
		a, err := scoring.ParseResponse(text, model.ModeStandard)
		if err != nil {
			t.Errorf("ParseResponse(%q): %v", text, err)
			continue
		}
		if a.PhysicalPotential.Score != 77 {
			t.Errorf("ParseResponse(%q): physical score = %d, want 77", text, a.PhysicalPotential.Score)
		}
	}
}

func TestExtractObject(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{`noise {"a":{"b":1}} tail`, `{"a":{"b":1}}`, true},
		{"no braces", "", false},
		{"} backwards {", "", false},
	}
	for _, c := range cases {
		got, ok := scoring.ExtractObject(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ExtractObject(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

package scoring

import (
	"fmt"
	"strings"

	"newface/discovery-service/internal/model"
)

const standardInstructions = `You are an expert talent scout for a premium modeling agency. Assess the social media profile below as a potential new face.

Score four dimensions from 0 to 100, each with a confidence from 0 to 100:
- physical_potential (weight 35%%): bone structure, proportions, photogenic quality, distinctive look
- unsigned_probability (weight 25%%): likelihood the person is NOT already represented by an agency
- reachability (weight 20%%): how easy the person is to contact (contact details, DMs, business account, audience size)
- engagement_health (weight 20%%): authentic, organic engagement without signs of bought followers

overall_score = 0.35*physical_potential + 0.25*unsigned_probability + 0.20*reachability + 0.20*engagement_health
`

const streetInstructions = `You are a street-casting scout looking for raw, unpolished, undiscovered talent. Polished professional content is a NEGATIVE signal here: it suggests the person is already working with an agency or photographers.

Score these dimensions from 0 to 100, each dimension with a confidence from 0 to 100:
- physical_potential (weight 25%%): natural features and presence, judged through amateur photos
- unsigned_probability (weight 30%%): likelihood the person is NOT already represented
- raw_potential_score (weight 20%%): how much the person could develop with professional guidance
- content_authenticity_score (weight 15%%): candid, self-shot, unfiltered content scores higher
- age match (weight 10%%): computed from your estimated_age against the target range
Also report reachability and engagement_health for reference.

street_casting_score = 0.30*unsigned_probability + 0.20*raw_potential_score + 0.25*physical_potential + 0.15*content_authenticity_score + 0.10*age_match
`

const dimensionShape = `{"score": <0-100>, "confidence": <0-100>, "factors": ["..."], "notes": "..."}`

// BuildPrompt renders the model prompt for profile under mode. filters may be nil.
func BuildPrompt(p model.Profile, mode model.ScoringMode, filters *model.Filters, imageCount int) string {
	var b strings.Builder

	if mode == model.ModeStreetCasting {
		fmt.Fprintf(&b, streetInstructions)
	} else {
		fmt.Fprintf(&b, standardInstructions)
	}

	b.WriteString("\nProfile:\n")
	fmt.Fprintf(&b, "- Platform: %s\n", p.Platform)
	fmt.Fprintf(&b, "- Username: @%s\n", p.Username)
	fmt.Fprintf(&b, "- Name: %s\n", orUnknown(p.DisplayName))
	fmt.Fprintf(&b, "- Bio: %s\n", orValue(p.Biography, "Not provided"))
	fmt.Fprintf(&b, "- Location: %s\n", orUnknown(p.LocationString()))
	fmt.Fprintf(&b, "- Followers: %s\n", countOrUnknown(p.FollowersCount))
	fmt.Fprintf(&b, "- Following: %s\n", countOrUnknown(p.FollowingCount))
	fmt.Fprintf(&b, "- Posts: %s\n", countOrUnknown(p.PostsCount))
	if p.EngagementRate > 0 {
		fmt.Fprintf(&b, "- Engagement rate: %.2f%%\n", p.EngagementRate)
	} else {
		b.WriteString("- Engagement rate: Unknown\n")
	}
	fmt.Fprintf(&b, "- Verified: %t\n", p.IsVerified)
	fmt.Fprintf(&b, "- Business account: %t\n", p.IsBusinessAccount)
	if p.ExternalURL != "" {
		fmt.Fprintf(&b, "- Website: %s\n", p.ExternalURL)
	}
	if p.Email != "" || p.Phone != "" {
		b.WriteString("- Public contact details: yes\n")
	}

	if imageCount > 0 {
		fmt.Fprintf(&b, "\n%d image(s) from the profile are attached. Base physical_potential on them.\n", imageCount)
	} else {
		b.WriteString("\nNo images are available. Judge physical_potential from the text alone and lower its confidence.\n")
	}

	if mode == model.ModeStreetCasting {
		if filters != nil && filters.AgeRange != nil {
			fmt.Fprintf(&b, "\nTarget age range: %d-%d years.\n", filters.AgeRange.Min, filters.AgeRange.Max)
		} else {
			b.WriteString("\nNo target age range was given.\n")
		}
	}
	if filters != nil && filters.StylePreference != "" {
		fmt.Fprintf(&b, "Preferred style: %s.\n", filters.StylePreference)
	}

	b.WriteString("\nRespond with ONLY a JSON object of this shape:\n{\n")
	fmt.Fprintf(&b, "  \"physical_potential\": %s,\n", dimensionShape)
	fmt.Fprintf(&b, "  \"unsigned_probability\": %s,\n", dimensionShape)
	fmt.Fprintf(&b, "  \"reachability\": %s,\n", dimensionShape)
	fmt.Fprintf(&b, "  \"engagement_health\": %s,\n", dimensionShape)
	if mode == model.ModeStreetCasting {
		b.WriteString(`  "estimated_age": <years>,
  "age_confidence": <0-100>,
  "raw_potential_score": <0-100>,
  "content_authenticity_score": <0-100>,
  "content_style": "professional" | "semi-professional" | "amateur" | "candid",
  "device_quality": "dslr" | "mirrorless" | "iphone" | "android" | "unknown",
  "authenticity_signals": ["..."],
  "street_casting_score": <0-100>,
`)
	}
	b.WriteString(`  "overall_score": <0-100>,
  "overall_assessment": "2-3 sentence summary",
  "strengths": ["..."],
  "potential_categories": ["High Fashion" | "Commercial" | "Editorial" | "Fitness" | "Runway" | "Influencer" | "..."],
  "recommendations": ["..."]
}`)
	return b.String()
}

func orUnknown(s string) string { return orValue(s, "Unknown") }

func orValue(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func countOrUnknown(n int64) string {
	if n <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d", n)
}

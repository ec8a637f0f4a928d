// Package filter removes profiles that look already represented by an agency
// and enforces the caller's numeric and location constraints.
//
// Apply is pure and order-preserving: it never mutates its input and always
// returns a fresh slice.
package filter

import (
	"regexp"
	"strings"

	"newface/discovery-service/internal/model"
)

// DefaultAgencyKeywords are bio/name fragments that indicate representation.
var DefaultAgencyKeywords = []string{
	"signed to",
	"signed with",
	"signed @",
	"management:",
	"mgmt:",
	"mgmt @",
	"represented by",
	"repped by",
	"mother agency",
	"img models",
	"elite model",
	"ford models",
	"wilhelmina",
	"next models",
	"storm models",
	"women management",
	"the society management",
	"premier model",
	"select model",
	"dna models",
	"viva model",
	"marilyn agency",
	"models 1",
}

// DefaultCityKeywords maps a target city to the location fragments that count
// as a match.
var DefaultCityKeywords = map[string][]string{
	"new york":    {"new york", "nyc", "brooklyn", "manhattan", "queens", "bronx"},
	"los angeles": {"los angeles", "hollywood", "santa monica", "venice beach", "l.a."},
	"london":      {"london", "shoreditch", "hackney", "camden"},
	"paris":       {"paris", "île-de-france", "ile-de-france"},
	"milan":       {"milan", "milano"},
	"miami":       {"miami", "south beach"},
	"berlin":      {"berlin", "kreuzberg", "neukölln"},
	"tokyo":       {"tokyo", "shibuya", "harajuku", "東京"},
	"seoul":       {"seoul", "서울"},
	"sydney":      {"sydney", "bondi"},
	"toronto":     {"toronto"},
	"chicago":     {"chicago"},
	"atlanta":     {"atlanta"},
	"lagos":       {"lagos"},
	"sao paulo":   {"são paulo", "sao paulo"},
}

// agencyEmail matches a contact address on an agency- or management-style domain.
var agencyEmail = regexp.MustCompile(`[a-z0-9._%+-]+@[a-z0-9.-]*(models|management|mgmt|agency|talent)[a-z0-9.-]*\.[a-z]{2,}`)

// Filter holds the keyword tables used by Apply.
type Filter struct {
	agencyKeywords []string
	cityKeywords   map[string][]string
}

// New returns a Filter. Nil or empty tables fall back to the defaults.
func New(agencyKeywords []string, cityKeywords map[string][]string) *Filter {
	if len(agencyKeywords) == 0 {
		agencyKeywords = DefaultAgencyKeywords
	}
	if len(cityKeywords) == 0 {
		cityKeywords = DefaultCityKeywords
	}
	normalized := make(map[string][]string, len(cityKeywords))
	for city, kws := range cityKeywords {
		normalized[strings.ToLower(strings.TrimSpace(city))] = kws
	}
	return &Filter{agencyKeywords: agencyKeywords, cityKeywords: normalized}
}

// Apply returns the profiles that pass the signed-model heuristic and every
// constraint in c. c may be nil.
func (f *Filter) Apply(profiles []model.Profile, c *model.Filters) []model.Profile {
	out := make([]model.Profile, 0, len(profiles))
	for _, p := range profiles {
		if f.LikelySigned(p) {
			continue
		}
		if !f.withinConstraints(p, c) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// LikelySigned reports whether p shows signs of agency representation.
// Verified accounts always count as represented.
func (f *Filter) LikelySigned(p model.Profile) bool {
	if p.IsVerified {
		return true
	}
	text := p.Biography + " " + p.DisplayName
	if ContainsAny(text, f.agencyKeywords) {
		return true
	}
	return agencyEmail.MatchString(strings.ToLower(p.Biography + " " + p.Email))
}

// withinConstraints only rejects on metrics the profile actually reports.
func (f *Filter) withinConstraints(p model.Profile, c *model.Filters) bool {
	if c == nil {
		return true
	}
	if p.FollowersCount > 0 {
		if c.MinFollowers != nil && p.FollowersCount < *c.MinFollowers {
			return false
		}
		if c.MaxFollowers != nil && p.FollowersCount > *c.MaxFollowers {
			return false
		}
	}
	if p.EngagementRate > 0 && c.MaxEngagement != nil && p.EngagementRate > *c.MaxEngagement {
		return false
	}
	if loc := p.LocationString(); loc != "" && len(c.TargetCities) > 0 {
		if !f.matchesCity(loc, c.TargetCities) {
			return false
		}
	}
	return true
}

func (f *Filter) matchesCity(location string, cities []string) bool {
	for _, city := range cities {
		key := strings.ToLower(strings.TrimSpace(city))
		if key == "" {
			continue
		}
		keywords, ok := f.cityKeywords[key]
		if !ok {
			keywords = []string{key}
		}
		if ContainsAny(location, keywords) {
			return true
		}
	}
	return false
}

// ContainsAny returns true if any term appears (case-insensitive) in text.
// Empty terms are ignored.
func ContainsAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Package model defines shared data structures for the discovery service.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform is a social network a profile was scraped from.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

// ParsePlatform converts a raw string to a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformInstagram, PlatformTikTok:
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// MaxRecentImages caps the post image URLs kept on a Profile.
const MaxRecentImages = 5

// Profile is the canonical, platform-independent shape of a scraped account.
// Everything downstream of the normalizer consumes this type only.
type Profile struct {
	Platform          Platform `json:"platform"`
	Username          string   `json:"username"`
	DisplayName       string   `json:"displayName"`
	Biography         string   `json:"biography"`
	Location          *string  `json:"location"`
	ExternalURL       string   `json:"externalUrl,omitempty"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	FollowersCount    int64    `json:"followersCount"`
	FollowingCount    int64    `json:"followingCount"`
	PostsCount        int64    `json:"postsCount"`
	EngagementRate    float64  `json:"engagementRate"`
	IsVerified        bool     `json:"isVerified"`
	IsBusinessAccount bool     `json:"isBusinessAccount"`
	ProfileImageURL   string   `json:"profileImageUrl,omitempty"`
	RecentImageURLs   []string `json:"recentImageUrls,omitempty"`
}

// Key is the case-insensitive identity used for deduplication.
func (p Profile) Key() string { return strings.ToLower(p.Username) }

// ProfileURL returns the public URL of the account on its platform.
func (p Profile) ProfileURL() string {
	if p.Platform == PlatformTikTok {
		return "https://tiktok.com/@" + p.Username
	}
	return "https://instagram.com/" + p.Username
}

// LocationString returns the location or "" when unknown.
func (p Profile) LocationString() string {
	if p.Location == nil {
		return ""
	}
	return *p.Location
}

// ScoringMode selects the rubric used by the scoring engine.
type ScoringMode string

const (
	ModeStandard      ScoringMode = "standard"
	ModeStreetCasting ScoringMode = "streetCasting"
)

// DimensionScore is one labelled sub-score of an analysis.
type DimensionScore struct {
	Score      int      `json:"score"`
	Confidence int      `json:"confidence"`
	Factors    []string `json:"factors"`
	Notes      string   `json:"notes"`
}

// ContentStyle classifies how produced a profile's imagery looks.
type ContentStyle string

const (
	ContentProfessional     ContentStyle = "professional"
	ContentSemiProfessional ContentStyle = "semi-professional"
	ContentAmateur          ContentStyle = "amateur"
	ContentCandid           ContentStyle = "candid"
)

// DeviceQuality is the camera class the model believes produced the imagery.
type DeviceQuality string

const (
	DeviceDSLR       DeviceQuality = "dslr"
	DeviceMirrorless DeviceQuality = "mirrorless"
	DeviceIPhone     DeviceQuality = "iphone"
	DeviceAndroid    DeviceQuality = "android"
	DeviceUnknown    DeviceQuality = "unknown"
)

// StreetCastingAnalysis carries the extra fields of the street-casting rubric.
type StreetCastingAnalysis struct {
	EstimatedAge             int           `json:"estimatedAge"`
	AgeConfidence            int           `json:"ageConfidence"`
	RawPotentialScore        int           `json:"rawPotentialScore"`
	ContentAuthenticityScore int           `json:"contentAuthenticityScore"`
	ContentStyle             ContentStyle  `json:"contentStyle"`
	DeviceQuality            DeviceQuality `json:"deviceQuality"`
	AuthenticitySignals      []string      `json:"authenticitySignals"`
	AgeMatchScore            int           `json:"ageMatchScore"`
	StreetCastingScore       int           `json:"streetCastingScore"`
}

// Analysis is the complete scoring result for one profile.
// OverallScore is always the engine's weighted composite.
type Analysis struct {
	PhysicalPotential   DimensionScore         `json:"physicalPotential"`
	UnsignedProbability DimensionScore         `json:"unsignedProbability"`
	Reachability        DimensionScore         `json:"reachability"`
	EngagementHealth    DimensionScore         `json:"engagementHealth"`
	OverallScore        int                    `json:"overallScore"`
	OverallAssessment   string                 `json:"overallAssessment"`
	Strengths           []string               `json:"strengths"`
	PotentialCategories []string               `json:"potentialCategories"`
	Recommendations     []string               `json:"recommendations"`
	VisionAnalyzed      bool                   `json:"visionAnalyzed"`
	StreetCasting       *StreetCastingAnalysis `json:"streetCasting,omitempty"`
}

// AgeRange is an inclusive target age window for street casting.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Filters are the optional caller constraints of a discovery job.
type Filters struct {
	MinFollowers    *int64    `json:"minFollowers,omitempty"`
	MaxFollowers    *int64    `json:"maxFollowers,omitempty"`
	MaxEngagement   *float64  `json:"maxEngagement,omitempty"`
	TargetCities    []string  `json:"targetCities,omitempty"`
	AgeRange        *AgeRange `json:"ageRange,omitempty"`
	StylePreference string    `json:"stylePreference,omitempty"`
}

// JobStatus mirrors the discovery_jobs.status column.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// SearchType is how a discovery job looks for profiles.
type SearchType string

const (
	SearchHashtag   SearchType = "hashtag"
	SearchLocation  SearchType = "location"
	SearchProfile   SearchType = "profile"
	SearchFollowers SearchType = "followers"
)

// ParseSearchType converts a raw string to a SearchType.
func ParseSearchType(s string) (SearchType, error) {
	st := SearchType(s)
	switch st {
	case SearchHashtag, SearchLocation, SearchProfile, SearchFollowers:
		return st, nil
	}
	return "", fmt.Errorf("unknown search type %q", s)
}

// DiscoveryJob is one scrape-and-score run.
type DiscoveryJob struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Platforms          []Platform `json:"platforms"`
	SearchType         SearchType `json:"searchType"`
	SearchQuery        string     `json:"searchQuery"`
	Hashtags           []string   `json:"hashtags"`
	Status             JobStatus  `json:"status"`
	CandidatesFound    int        `json:"candidatesFound"`
	CandidatesAnalyzed int        `json:"candidatesAnalyzed"`
	ErrorMessage       *string    `json:"errorMessage"`
	Filters            *Filters   `json:"filters,omitempty"`
	StreetCastingMode  bool       `json:"streetCastingMode"`
	CreatedAt          time.Time  `json:"createdAt"`
	CompletedAt        *time.Time `json:"completedAt"`
}

// CandidateStatus is the outreach pipeline stage of a candidate.
type CandidateStatus string

const (
	StatusDiscovered CandidateStatus = "discovered"
	StatusContacted  CandidateStatus = "contacted"
	StatusResponded  CandidateStatus = "responded"
	StatusMeeting    CandidateStatus = "meeting"
	StatusSigned     CandidateStatus = "signed"
	StatusRejected   CandidateStatus = "rejected"
)

// StageChange is one entry of a candidate's history log.
type StageChange struct {
	From CandidateStatus `json:"from"`
	To   CandidateStatus `json:"to"`
	At   time.Time       `json:"at"`
}

// Candidate is the persisted row produced by a discovery job or an upload.
type Candidate struct {
	ID                       string          `json:"id"`
	UserID                   string          `json:"userId"`
	Name                     string          `json:"name"`
	Handle                   string          `json:"handle"`
	Platform                 Platform        `json:"platform"`
	ProfileURL               string          `json:"profileUrl"`
	AvatarURL                string          `json:"avatarUrl"`
	Bio                      string          `json:"bio"`
	Followers                int64           `json:"followers"`
	Following                int64           `json:"following"`
	Posts                    int64           `json:"posts"`
	EngagementRate           float64         `json:"engagementRate"`
	Location                 *string         `json:"location"`
	ExternalURL              string          `json:"externalUrl,omitempty"`
	Email                    string          `json:"email,omitempty"`
	Phone                    string          `json:"phone,omitempty"`
	IsVerified               bool            `json:"isVerified"`
	IsBusinessAccount        bool            `json:"isBusinessAccount"`
	AIScore                  int             `json:"aiScore"`
	AIAnalysis               *Analysis       `json:"aiAnalysis,omitempty"`
	PhysicalPotentialScore   int             `json:"physicalPotentialScore"`
	UnsignedProbabilityScore int             `json:"unsignedProbabilityScore"`
	ReachabilityScore        int             `json:"reachabilityScore"`
	EngagementHealthScore    int             `json:"engagementHealthScore"`
	StreetCastingScore       *int            `json:"streetCastingScore,omitempty"`
	EstimatedAge             *int            `json:"estimatedAge,omitempty"`
	Status                   CandidateStatus `json:"status"`
	Notes                    *string         `json:"notes"`
	HistoryLog               []StageChange   `json:"historyLog"`
	DiscoveryJobID           *string         `json:"discoveryJobId"`
	CreatedAt                time.Time       `json:"createdAt"`
	UpdatedAt                time.Time       `json:"updatedAt"`
}

// CandidateSummary is the trimmed row returned with a job status.
type CandidateSummary struct {
	ID                       string          `json:"id"`
	Name                     string          `json:"name"`
	Handle                   string          `json:"handle"`
	Platform                 Platform        `json:"platform"`
	AvatarURL                string          `json:"avatarUrl"`
	AIScore                  int             `json:"aiScore"`
	Status                   CandidateStatus `json:"status"`
	PhysicalPotentialScore   int             `json:"physicalPotentialScore"`
	UnsignedProbabilityScore int             `json:"unsignedProbabilityScore"`
	StreetCastingScore       *int            `json:"streetCastingScore,omitempty"`
}

// Image is a fetched picture ready to attach to a model request.
// Data is base64-encoded.
type Image struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Stats is the per-user dashboard aggregate.
type Stats struct {
	TotalCandidates int                     `json:"totalCandidates"`
	ByStage         map[CandidateStatus]int `json:"byStage"`
	AverageScore    float64                 `json:"averageScore"`
	Jobs            map[JobStatus]int       `json:"jobs"`
}

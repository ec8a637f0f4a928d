package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newface/discovery-service/internal/model"
)

// StatusCandidateLimit is how many candidates a status query returns;
// TopCandidateCount of them are repeated as the top list.
const (
	StatusCandidateLimit = 20
	TopCandidateCount    = 5
)

// Summary is the outcome of a job start.
type Summary struct {
	JobID              string           `json:"jobId"`
	Status             model.JobStatus  `json:"status"`
	PlatformsSearched  []model.Platform `json:"platformsSearched"`
	HashtagsSearched   []string         `json:"hashtagsSearched"`
	CandidatesFound    int              `json:"candidatesFound"`
	CandidatesAnalyzed int              `json:"candidatesAnalyzed"`
	StreetCastingMode  bool             `json:"streetCastingMode"`
	Error              string           `json:"error,omitempty"`
}

// StatusResult is a job with its best candidates.
type StatusResult struct {
	Job           *model.DiscoveryJob      `json:"job"`
	Candidates    []model.CandidateSummary `json:"candidates"`
	TopCandidates []model.CandidateSummary `json:"topCandidates"`
}

// Service is the transport-agnostic entry point for discovery jobs.
type Service struct {
	store    Store
	orch     *Orchestrator
	log      *slog.Logger
	settings Settings
	newID    func() string

	wg sync.WaitGroup
}

// NewService returns a Service running jobs on orch.
func NewService(store Store, orch *Orchestrator, log *slog.Logger, st Settings) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		orch:     orch,
		log:      log,
		settings: st,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Start validates req, records a job and runs it. With req.Async the job
// runs in the background and the returned summary is the pending job.
// Otherwise Start blocks until the job reaches a terminal state; a failed
// job is reported through Summary.Status and Summary.Error, not the error
// return, so the caller always learns the job id.
func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (*Summary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &model.ValidationError{Msg: "user id is required"}
	}
	plan, err := NewPlan(req, s.settings)
	if err != nil {
		return nil, err
	}

	job := &model.DiscoveryJob{
		ID:                s.newID(),
		UserID:            userID,
		Platforms:         plan.Platforms,
		SearchType:        plan.SearchType,
		SearchQuery:       strings.Join(plan.Terms, ","),
		Hashtags:          hashtagsOf(plan),
		Status:            model.JobPending,
		Filters:           plan.Filters,
		StreetCastingMode: plan.Mode == model.ModeStreetCasting,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	summary := &Summary{
		JobID:             job.ID,
		Status:            job.Status,
		PlatformsSearched: plan.Platforms,
		HashtagsSearched:  job.Hashtags,
		StreetCastingMode: job.StreetCastingMode,
	}

	// The job outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.orch.Run(runCtx, job, plan)
		}()
		return summary, nil
	}

	progress, runErr := s.orch.Run(runCtx, job, plan)
	summary.Status = job.Status
	summary.CandidatesFound = progress.Found
	summary.CandidatesAnalyzed = progress.Analyzed
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	return summary, nil
}

// Status returns the job owned by userID and its top candidates.
func (s *Service) Status(ctx context.Context, userID, jobID string) (*StatusResult, error) {
	job, err := s.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.TopCandidatesForJob(ctx, jobID, StatusCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	top := candidates
	if len(top) > TopCandidateCount {
		top = top[:TopCandidateCount]
	}
	return &StatusResult{Job: job, Candidates: candidates, TopCandidates: top}, nil
}

// Delete removes the job; its candidates are kept.
func (s *Service) Delete(ctx context.Context, userID, jobID string) error {
	if err := s.store.DeleteJob(ctx, userID, jobID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete job: %w", err)
	}
	s.log.Info("discovery job deleted", "jobId", jobID, "userId", userID)
	return nil
}

// Wait blocks until background jobs finish or timeout elapses and reports
// whether they all finished.
func (s *Service) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func hashtagsOf(p Plan) []string {
	switch p.SearchType {
	case model.SearchHashtag, model.SearchLocation:
		return p.Terms
	}
	return []string{}
}

// Package discovery runs scrape-and-score jobs.
//
// A job moves pending → running → completed|failed and never leaves a
// terminal state. The pipeline stages are scrape, normalize, dedupe, filter,
// analyze and persist. Only scrape-provider credential failures and datastore
// errors outside the per-candidate loop fail a job; everything scoped to one
// hashtag or one candidate is logged and skipped.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"newface/discovery-service/internal/events"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/normalize"
	"newface/discovery-service/internal/scoring"
	"newface/discovery-service/internal/scraper"
)

// Store is the persistence the orchestrator and service need.
type Store interface {
	CreateJob(ctx context.Context, job *model.DiscoveryJob) error
	MarkRunning(ctx context.Context, id string) error
	SetCandidatesFound(ctx context.Context, id string, n int) error
	SetCandidatesAnalyzed(ctx context.Context, id string, n int) error
	Touch(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, at time.Time) error
	FailJob(ctx context.Context, id, msg string, at time.Time) error
	GetJob(ctx context.Context, userID, id string) (*model.DiscoveryJob, error)
	DeleteJob(ctx context.Context, userID, id string) error
	CandidateExists(ctx context.Context, userID, username string) (bool, error)
	InsertCandidate(ctx context.Context, c *model.Candidate) error
	TopCandidatesForJob(ctx context.Context, jobID string, limit int) ([]model.CandidateSummary, error)
}

// Scraper is the scrape provider.
type Scraper interface {
	ScrapeHashtag(ctx context.Context, platform model.Platform, tag string, limit int) ([]normalize.RawRecord, error)
	ScrapeProfiles(ctx context.Context, platform model.Platform, usernames []string, limit int) ([]normalize.RawRecord, error)
	ScrapeFollowers(ctx context.Context, platform model.Platform, username string, limit int) ([]normalize.RawRecord, error)
}

// Scorer rates one profile and never fails.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) scoring.Result
}

// ImageProxy copies a profile picture to durable storage, returning the
// original URL on failure.
type ImageProxy interface {
	ProxyProfileImage(ctx context.Context, platform model.Platform, username, imageURL string) string
}

// ProfileFilter drops signed profiles and applies caller constraints.
type ProfileFilter interface {
	Apply(profiles []model.Profile, constraints *model.Filters) []model.Profile
}

// Progress is the in-memory counter state of a running job. Its methods
// return updated copies; the orchestrator persists it at checkpoints.
type Progress struct {
	Found    int
	Analyzed int
}

// WithFound records the filtered profile count.
func (p Progress) WithFound(n int) Progress {
	p.Found = n
	return p
}

// WithAnalyzed records one more persisted candidate.
func (p Progress) WithAnalyzed() Progress {
	p.Analyzed++
	return p
}

// Orchestrator executes discovery jobs.
type Orchestrator struct {
	store    Store
	scraper  Scraper
	scorer   Scorer
	images   ImageProxy
	filter   ProfileFilter
	events   events.Publisher
	log      *slog.Logger
	settings Settings
	now      func() time.Time
	newID    func() string
}

// NewOrchestrator wires the pipeline collaborators. A nil publisher drops
// events; a nil image proxy keeps external avatar URLs.
func NewOrchestrator(store Store, sc Scraper, scorer Scorer, images ImageProxy, f ProfileFilter, pub events.Publisher, log *slog.Logger, st Settings) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if st.AnalysisWorkers < 1 {
		st.AnalysisWorkers = 1
	}
	return &Orchestrator{
		store:    store,
		scraper:  sc,
		scorer:   scorer,
		images:   images,
		filter:   f,
		events:   pub,
		log:      log,
		settings: st,
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Run drives job through its lifecycle and returns the final progress.
// The returned error is the job failure reason, already recorded on the job.
func (o *Orchestrator) Run(ctx context.Context, job *model.DiscoveryJob, plan Plan) (Progress, error) {
	log := o.log.With("jobId", job.ID, "userId", job.UserID)
	var progress Progress

	if job.Status == model.JobPending {
		if err := o.store.MarkRunning(ctx, job.ID); err != nil {
			return progress, o.fail(ctx, log, job, progress, fmt.Errorf("mark running: %w", err))
		}
		job.Status = model.JobRunning
	}
	log.Info("discovery job running", "platforms", plan.Platforms, "searchType", plan.SearchType, "terms", plan.Terms)

	sets, err := o.scrape(ctx, log, job.ID, plan)
	if errors.Is(err, model.ErrJobFinished) {
		return progress, o.abandon(ctx, log, job, progress)
	}
	if err != nil {
		return progress, o.fail(ctx, log, job, progress, err)
	}

	profiles := normalizeAndDedupe(sets)
	filtered := o.filter.Apply(profiles, plan.Filters)
	log.Info("profiles filtered", "scraped", len(profiles), "kept", len(filtered))

	progress = progress.WithFound(len(filtered))
	if err := o.store.SetCandidatesFound(ctx, job.ID, progress.Found); err != nil {
		if errors.Is(err, model.ErrJobFinished) {
			return progress, o.abandon(ctx, log, job, progress)
		}
		return progress, o.fail(ctx, log, job, progress, fmt.Errorf("record candidates found: %w", err))
	}
	o.publish(ctx, log, job, progress, model.JobRunning, "")

	subset := filtered[:AnalysisSubsetSize(len(filtered),
		o.settings.AnalysisFraction, o.settings.AnalysisMin, o.settings.AnalysisMax)]
	progress, err = o.analyze(ctx, log, job, plan, subset, progress)
	if err != nil {
		return progress, o.abandon(ctx, log, job, progress)
	}

	if err := o.store.CompleteJob(ctx, job.ID, o.now().UTC()); err != nil {
		log.Error("complete job failed", "err", err)
		return progress, fmt.Errorf("complete job: %w", err)
	}
	job.Status = model.JobCompleted
	o.publish(ctx, log, job, progress, model.JobCompleted, "")
	log.Info("discovery job completed", "found", progress.Found, "analyzed", progress.Analyzed)
	return progress, nil
}

// scrape fans out one goroutine per platform. Within a platform, each
// term is scraped in turn; a fatal provider error stops every platform.
// Every scrape call is followed by a heartbeat on the job row.
func (o *Orchestrator) scrape(ctx context.Context, log *slog.Logger, jobID string, plan Plan) ([][]normalize.RawRecord, error) {
	sets := make([][]normalize.RawRecord, len(plan.Platforms))
	g, gctx := errgroup.WithContext(ctx)
	for i, platform := range plan.Platforms {
		g.Go(func() error {
			recs, err := o.scrapePlatform(gctx, log, jobID, platform, plan)
			sets[i] = recs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

func (o *Orchestrator) scrapePlatform(ctx context.Context, log *slog.Logger, jobID string, platform model.Platform, plan Plan) ([]normalize.RawRecord, error) {
	if plan.SearchType == model.SearchProfile {
		perPlatform := int(math.Ceil(float64(plan.Limit) / float64(len(plan.Platforms))))
		recs, err := o.scraper.ScrapeProfiles(ctx, platform, plan.Terms, perPlatform)
		if err != nil {
			if scraper.IsFatal(err) {
				return nil, err
			}
			log.Warn("profile scrape failed", "platform", platform, "err", err)
		}
		if err := o.heartbeat(ctx, log, jobID); err != nil {
			return nil, err
		}
		return recs, nil
	}

	var all []normalize.RawRecord
	for _, term := range plan.Terms {
		var (
			recs []normalize.RawRecord
			err  error
		)
		if plan.SearchType == model.SearchFollowers {
			recs, err = o.scraper.ScrapeFollowers(ctx, platform, term, plan.PerCall)
		} else {
			recs, err = o.scraper.ScrapeHashtag(ctx, platform, term, plan.PerCall)
		}
		if hbErr := o.heartbeat(ctx, log, jobID); hbErr != nil {
			return nil, hbErr
		}
		if err != nil {
			if scraper.IsFatal(err) {
				return nil, err
			}
			log.Warn("scrape failed, continuing", "platform", platform, "term", term, "err", err)
			continue
		}
		all = append(all, recs...)
	}
	return all, nil
}

func normalizeAndDedupe(sets [][]normalize.RawRecord) []model.Profile {
	profiles := make([][]model.Profile, 0, len(sets))
	for _, recs := range sets {
		profiles = append(profiles, normalize.NormalizeAll(recs))
	}
	return normalize.Dedupe(profiles...)
}

// heartbeat refreshes the job row. Only model.ErrJobFinished is returned;
// other failures are logged.
func (o *Orchestrator) heartbeat(ctx context.Context, log *slog.Logger, jobID string) error {
	err := o.store.Touch(ctx, jobID)
	if errors.Is(err, model.ErrJobFinished) {
		return err
	}
	if err != nil {
		log.Warn("job heartbeat failed", "err", err)
	}
	return nil
}

// analyze scores and persists each profile. With one worker candidates are
// handled strictly in order. It stops with model.ErrJobFinished once the job
// was finished elsewhere.
func (o *Orchestrator) analyze(ctx context.Context, log *slog.Logger, job *model.DiscoveryJob, plan Plan, profiles []model.Profile, progress Progress) (Progress, error) {
	var (
		mu      sync.Mutex
		stopped atomic.Bool
		g       errgroup.Group
	)
	g.SetLimit(o.settings.AnalysisWorkers)

	for _, p := range profiles {
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			ok, err := o.processCandidate(ctx, job, plan, p)
			switch {
			case errors.Is(err, model.ErrJobFinished):
				stopped.Store(true)
				return err
			case err != nil:
				log.Warn("candidate skipped", "username", p.Username, "err", err)
			case !ok:
				log.Debug("candidate already exists", "username", p.Username)
			default:
				mu.Lock()
				progress = progress.WithAnalyzed()
				snapshot := progress
				mu.Unlock()

				if err := o.store.SetCandidatesAnalyzed(ctx, job.ID, snapshot.Analyzed); errors.Is(err, model.ErrJobFinished) {
					stopped.Store(true)
					return err
				} else if err != nil {
					log.Warn("progress checkpoint failed", "analyzed", snapshot.Analyzed, "err", err)
				}
				o.publish(ctx, log, job, snapshot, model.JobRunning, "")
			}
			o.pause(ctx)
			return nil
		})
	}
	err := g.Wait()
	return progress, err
}

// processCandidate returns false when the username is already a candidate of
// the job owner.
func (o *Orchestrator) processCandidate(ctx context.Context, job *model.DiscoveryJob, plan Plan, p model.Profile) (bool, error) {
	exists, err := o.store.CandidateExists(ctx, job.UserID, p.Username)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return false, nil
	}

	var (
		avatar = p.ProfileImageURL
		result scoring.Result
		g      errgroup.Group
	)
	if o.images != nil && p.ProfileImageURL != "" {
		g.Go(func() error {
			avatar = o.images.ProxyProfileImage(ctx, p.Platform, p.Username, p.ProfileImageURL)
			return nil
		})
	}
	g.Go(func() error {
		result = o.scorer.Score(ctx, scoring.Request{Profile: p, Mode: plan.Mode, Filters: plan.Filters})
		return nil
	})
	_ = g.Wait()

	// Scoring can take a while; the job may have been swept meanwhile.
	if err := o.store.Touch(ctx, job.ID); err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}

	c := NewCandidate(o.newID(), job.UserID, &job.ID, p, avatar, result)
	c.CreatedAt = o.now().UTC()
	c.UpdatedAt = c.CreatedAt
	if err := o.store.InsertCandidate(ctx, c); err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}
	return true, nil
}

// NewCandidate builds the discovered-stage row for a scored profile.
func NewCandidate(id, userID string, jobID *string, p model.Profile, avatarURL string, res scoring.Result) *model.Candidate {
	a := res.Analysis
	c := &model.Candidate{
		ID:                       id,
		UserID:                   userID,
		Name:                     p.DisplayName,
		Handle:                   p.Username,
		Platform:                 p.Platform,
		ProfileURL:               p.ProfileURL(),
		AvatarURL:                avatarURL,
		Bio:                      p.Biography,
		Followers:                p.FollowersCount,
		Following:                p.FollowingCount,
		Posts:                    p.PostsCount,
		EngagementRate:           p.EngagementRate,
		Location:                 p.Location,
		ExternalURL:              p.ExternalURL,
		Email:                    p.Email,
		Phone:                    p.Phone,
		IsVerified:               p.IsVerified,
		IsBusinessAccount:        p.IsBusinessAccount,
		AIScore:                  res.Score,
		AIAnalysis:               &a,
		PhysicalPotentialScore:   a.PhysicalPotential.Score,
		UnsignedProbabilityScore: a.UnsignedProbability.Score,
		ReachabilityScore:        a.Reachability.Score,
		EngagementHealthScore:    a.EngagementHealth.Score,
		Status:                   model.StatusDiscovered,
		HistoryLog:               []model.StageChange{},
		DiscoveryJobID:           jobID,
	}
	if c.Name == "" {
		c.Name = p.Username
	}
	if sc := a.StreetCasting; sc != nil {
		score := sc.StreetCastingScore
		c.StreetCastingScore = &score
		if sc.EstimatedAge > 0 {
			age := sc.EstimatedAge
			c.EstimatedAge = &age
		}
	}
	return c
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, job *model.DiscoveryJob, progress Progress, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, scraper.ErrNotConfigured) {
		msg = "scraping is not configured: " + msg
	}
	log.Error("discovery job failed", "err", cause)
	if err := o.store.FailJob(ctx, job.ID, msg, o.now().UTC()); err != nil {
		log.Error("record job failure failed", "err", err)
	}
	job.Status = model.JobFailed
	job.ErrorMessage = &msg
	o.publish(ctx, log, job, progress, model.JobFailed, msg)
	return errors.New(msg)
}

// abandon stops a job that was finished elsewhere, usually by the stale
// sweeper, and adopts the stored status.
func (o *Orchestrator) abandon(ctx context.Context, log *slog.Logger, job *model.DiscoveryJob, progress Progress) error {
	job.Status = model.JobFailed
	if stored, err := o.store.GetJob(ctx, job.UserID, job.ID); err == nil {
		job.Status = stored.Status
		job.ErrorMessage = stored.ErrorMessage
	} else {
		log.Warn("reload finished job failed", "err", err)
	}
	msg := model.ErrJobFinished.Error()
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		msg = *job.ErrorMessage
	}
	log.Warn("discovery job finished elsewhere, stopping", "status", job.Status, "analyzed", progress.Analyzed)
	o.publish(ctx, log, job, progress, job.Status, msg)
	return fmt.Errorf("%w: %s", model.ErrJobFinished, msg)
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, job *model.DiscoveryJob, p Progress, status model.JobStatus, errMsg string) {
	err := o.events.Publish(ctx, events.ChannelJobProgress, events.JobProgress{
		Type:               events.ChannelJobProgress,
		JobID:              job.ID,
		UserID:             job.UserID,
		Status:             status,
		CandidatesFound:    p.Found,
		CandidatesAnalyzed: p.Analyzed,
		ErrorMessage:       errMsg,
	})
	if err != nil {
		log.Warn("publish EVENT_JOB_PROGRESS failed", "err", err)
	}
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.settings.CandidateDelay <= 0 {
		return
	}
	t := time.NewTimer(o.settings.CandidateDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newface/discovery-service/internal/events"
	"newface/discovery-service/internal/model"
)

// ─── Service ─────────────────────────────────────────────────────────────────

// Store is the candidate persistence the pipeline needs.
type Store interface {
	GetCandidate(ctx context.Context, userID, id string) (*model.Candidate, error)
	UpdateCandidateStage(ctx context.Context, userID, id string, change model.StageChange) (*model.Candidate, error)
	UpdateCandidateNotes(ctx context.Context, userID, id, notes string) (*model.Candidate, error)
	ListCandidates(ctx context.Context, userID string, stage model.CandidateStatus) ([]model.Candidate, error)
	Stats(ctx context.Context, userID string) (*model.Stats, error)
}

// Service holds the outreach pipeline business logic. It has no dependency
// on a transport.
type Service struct {
	store  Store
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// NewService returns a configured Service. A nil publisher drops events.
func NewService(store Store, pub events.Publisher, log *slog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, events: pub, log: log, now: time.Now}
}

// ─── Business logic ───────────────────────────────────────────────────────────

// List returns the user's candidates, best score first. A non-empty
// stageFilter must name a valid stage.
func (s *Service) List(ctx context.Context, userID, stageFilter string) ([]model.Candidate, error) {
	var stage model.CandidateStatus
	if strings.TrimSpace(stageFilter) != "" {
		st, err := ParseStatus(stageFilter)
		if err != nil {
			return nil, &model.ValidationError{Msg: err.Error()}
		}
		stage = st
	}
	return s.store.ListCandidates(ctx, userID, stage)
}

// Get returns one candidate owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Candidate, error) {
	return s.store.GetCandidate(ctx, userID, id)
}

// Move transitions a candidate to a new stage.
// Returns model.ErrNotFound if the candidate does not exist or belong to userID,
// a *model.ValidationError if the stage machine rejects the move and
// model.ErrConflict if the candidate moved concurrently.
func (s *Service) Move(ctx context.Context, userID, id, newStatus string) (*model.Candidate, error) {
	to, err := ParseStatus(newStatus)
	if err != nil {
		return nil, &model.ValidationError{Msg: err.Error()}
	}

	current, err := s.store.GetCandidate(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !IsTransitionAllowed(current.Status, to) {
		return nil, &model.ValidationError{
			Msg: fmt.Sprintf("transition %s → %s is not allowed", current.Status, to),
		}
	}

	c, err := s.store.UpdateCandidateStage(ctx, userID, id, model.StageChange{
		From: current.Status,
		To:   to,
		At:   s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("move candidate: %w", err)
	}

	// Publish SSE event (non-fatal)
	err = s.events.Publish(ctx, events.ChannelCandidateMoved, events.CandidateMoved{
		Type:        events.ChannelCandidateMoved,
		CandidateID: id,
		UserID:      userID,
		From:        current.Status,
		To:          to,
	})
	if err != nil {
		s.log.Warn("publish EVENT_CANDIDATE_MOVED failed", "candidateId", id, "err", err)
	}
	return c, nil
}

// AddNote sets or replaces the free-text note on a candidate.
func (s *Service) AddNote(ctx context.Context, userID, id, note string) (*model.Candidate, error) {
	return s.store.UpdateCandidateNotes(ctx, userID, id, note)
}

// Stats returns the dashboard aggregate for userID.
func (s *Service) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	return s.store.Stats(ctx, userID)
}

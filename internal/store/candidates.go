package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"newface/discovery-service/internal/model"
)

var candidateColumns = []string{
	"id", "user_id", "name", "handle", "platform", "profile_url", "avatar_url", "bio",
	"followers", "following", "posts", "engagement_rate", "location",
	"external_url", "email", "phone", "is_verified", "is_business_account",
	"ai_score", "ai_analysis", "physical_potential_score", "unsigned_probability_score",
	"reachability_score", "engagement_health_score", "street_casting_score", "estimated_age",
	"status", "notes", "history_log", "discovery_job_id", "created_at", "updated_at",
}

var summaryColumns = []string{
	"id", "name", "handle", "platform", "avatar_url", "ai_score", "status",
	"physical_potential_score", "unsigned_probability_score", "street_casting_score",
}

// CandidateExists reports whether userID already has a candidate with this
// handle, compared case-insensitively.
func (s *Store) CandidateExists(ctx context.Context, userID, username string) (bool, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").
		From("candidates").
		Where(sq.Eq{"user_id": userID}).
		Where("LOWER(handle) = ?", strings.ToLower(username)))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("candidateExists: %w", err)
	}
	return n > 0, nil
}

// InsertCandidate persists c. CreatedAt and UpdatedAt are set when zero.
func (s *Store) InsertCandidate(ctx context.Context, c *model.Candidate) error {
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.HistoryLog == nil {
		c.HistoryLog = []model.StageChange{}
	}
	analysis, err := jsonText(c.AIAnalysis)
	if err != nil {
		return fmt.Errorf("insertCandidate analysis: %w", err)
	}
	history, err := json.Marshal(c.HistoryLog)
	if err != nil {
		return fmt.Errorf("insertCandidate history: %w", err)
	}

	_, err = s.exec(ctx, s.sb.Insert("candidates").
		Columns(candidateColumns...).
		Values(
			c.ID, c.UserID, c.Name, c.Handle, string(c.Platform), c.ProfileURL, c.AvatarURL, c.Bio,
			c.Followers, c.Following, c.Posts, c.EngagementRate, nullString(c.Location),
			c.ExternalURL, c.Email, c.Phone, c.IsVerified, c.IsBusinessAccount,
			c.AIScore, analysis, c.PhysicalPotentialScore, c.UnsignedProbabilityScore,
			c.ReachabilityScore, c.EngagementHealthScore, nullInt(c.StreetCastingScore), nullInt(c.EstimatedAge),
			string(c.Status), nullString(c.Notes), string(history), nullString(c.DiscoveryJobID),
			millis(c.CreatedAt), millis(c.UpdatedAt),
		))
	if err != nil {
		return fmt.Errorf("insertCandidate: %w", err)
	}
	return nil
}

// TopCandidatesForJob returns up to limit candidates of a job, best score first.
func (s *Store) TopCandidatesForJob(ctx context.Context, jobID string, limit int) ([]model.CandidateSummary, error) {
	rows, err := s.query(ctx, s.sb.Select(summaryColumns...).
		From("candidates").
		Where(sq.Eq{"discovery_job_id": jobID}).
		OrderBy("ai_score DESC", "created_at ASC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("topCandidates query: %w", err)
	}
	defer rows.Close()

	out := make([]model.CandidateSummary, 0)
	for rows.Next() {
		var (
			c              model.CandidateSummary
			platform, stat string
			street         sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Handle, &platform, &c.AvatarURL, &c.AIScore, &stat,
			&c.PhysicalPotentialScore, &c.UnsignedProbabilityScore, &street,
		); err != nil {
			return nil, fmt.Errorf("topCandidates scan: %w", err)
		}
		c.Platform = model.Platform(platform)
		c.Status = model.CandidateStatus(stat)
		c.StreetCastingScore = intPtr(street)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCandidate returns one candidate owned by userID.
func (s *Store) GetCandidate(ctx context.Context, userID, id string) (*model.Candidate, error) {
	rows, err := s.query(ctx, s.sb.Select(candidateColumns...).
		From("candidates").
		Where(sq.Eq{"id": id, "user_id": userID}))
	if err != nil {
		return nil, fmt.Errorf("getCandidate query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("getCandidate: %w", err)
		}
		return nil, model.ErrNotFound
	}
	c, err := scanCandidate(rows)
	if err != nil {
		return nil, fmt.Errorf("getCandidate scan: %w", err)
	}
	return c, nil
}

// ListCandidates returns userID's candidates, best score first. A non-empty
// stage restricts the result to that stage.
func (s *Store) ListCandidates(ctx context.Context, userID string, stage model.CandidateStatus) ([]model.Candidate, error) {
	q := s.sb.Select(candidateColumns...).
		From("candidates").
		Where(sq.Eq{"user_id": userID})
	if stage != "" {
		q = q.Where(sq.Eq{"status": string(stage)})
	}
	rows, err := s.query(ctx, q.OrderBy("ai_score DESC", "updated_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("listCandidates query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Candidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("listCandidates scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCandidateStage moves a candidate from one stage to another and
// appends change to its history. It fails with model.ErrConflict when the
// stored stage is no longer from.
func (s *Store) UpdateCandidateStage(ctx context.Context, userID, id string, change model.StageChange) (*model.Candidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("updateStage begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Select("history_log").
		From("candidates").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var raw string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&raw); errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("updateStage read: %w", err)
	}

	var history []model.StageChange
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	history = append(history, change)
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	query, args, err = s.sb.Update("candidates").
		Set("status", string(change.To)).
		Set("history_log", string(encoded)).
		Set("updated_at", millis(change.At)).
		Where(sq.Eq{"id": id, "user_id": userID, "status": string(change.From)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updateStage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("updateStage: %w", err)
	} else if n == 0 {
		return nil, model.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("updateStage commit: %w", err)
	}
	return s.GetCandidate(ctx, userID, id)
}

// UpdateCandidateNotes replaces the free-text note.
func (s *Store) UpdateCandidateNotes(ctx context.Context, userID, id, notes string) (*model.Candidate, error) {
	n, err := s.exec(ctx, s.sb.Update("candidates").
		Set("notes", notes).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id, "user_id": userID}))
	if err != nil {
		return nil, fmt.Errorf("updateNotes: %w", err)
	}
	if n == 0 {
		return nil, model.ErrNotFound
	}
	return s.GetCandidate(ctx, userID, id)
}

// Stats aggregates userID's candidates and jobs.
func (s *Store) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	st := &model.Stats{
		ByStage: make(map[model.CandidateStatus]int),
		Jobs:    make(map[model.JobStatus]int),
	}

	rows, err := s.query(ctx, s.sb.Select("status", "COUNT(*)", "COALESCE(SUM(ai_score), 0)").
		From("candidates").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("stats candidates: %w", err)
	}
	var scoreSum int64
	for rows.Next() {
		var (
			stage string
			n     int
			sum   int64
		)
		if err := rows.Scan(&stage, &n, &sum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("stats candidates scan: %w", err)
		}
		st.ByStage[model.CandidateStatus(stage)] = n
		st.TotalCandidates += n
		scoreSum += sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats candidates: %w", err)
	}
	if st.TotalCandidates > 0 {
		st.AverageScore = math.Round(float64(scoreSum)/float64(st.TotalCandidates)*10) / 10
	}

	rows, err = s.query(ctx, s.sb.Select("status", "COUNT(*)").
		From("discovery_jobs").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("stats jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("stats jobs scan: %w", err)
		}
		st.Jobs[model.JobStatus(status)] = n
	}
	return st, rows.Err()
}

func scanCandidate(rows *sql.Rows) (*model.Candidate, error) {
	var (
		c                    model.Candidate
		platform, status     string
		location, notes, job sql.NullString
		analysis             sql.NullString
		history              string
		street, age          sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := rows.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Handle, &platform, &c.ProfileURL, &c.AvatarURL, &c.Bio,
		&c.Followers, &c.Following, &c.Posts, &c.EngagementRate, &location,
		&c.ExternalURL, &c.Email, &c.Phone, &c.IsVerified, &c.IsBusinessAccount,
		&c.AIScore, &analysis, &c.PhysicalPotentialScore, &c.UnsignedProbabilityScore,
		&c.ReachabilityScore, &c.EngagementHealthScore, &street, &age,
		&status, &notes, &history, &job, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if analysis.Valid {
		c.AIAnalysis = &model.Analysis{}
		if err := json.Unmarshal([]byte(analysis.String), c.AIAnalysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(history), &c.HistoryLog); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	c.Platform = model.Platform(platform)
	c.Status = model.CandidateStatus(status)
	c.Location = stringPtr(location)
	c.Notes = stringPtr(notes)
	c.DiscoveryJobID = stringPtr(job)
	c.StreetCastingScore = intPtr(street)
	c.EstimatedAge = intPtr(age)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

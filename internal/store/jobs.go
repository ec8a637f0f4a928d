package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newface/discovery-service/internal/model"
)

var jobColumns = []string{
	"id", "user_id", "platforms", "search_type", "search_query", "hashtags",
	"status", "candidates_found", "candidates_analyzed", "error_message",
	"filters", "street_casting_mode", "created_at", "completed_at",
}

// terminal lists the statuses a job never leaves.
var terminal = []string{string(model.JobCompleted), string(model.JobFailed)}

// CreateJob inserts job. CreatedAt is set when zero.
func (s *Store) CreateJob(ctx context.Context, job *model.DiscoveryJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	platforms, err := json.Marshal(job.Platforms)
	if err != nil {
		return fmt.Errorf("createJob platforms: %w", err)
	}
	hashtags, err := json.Marshal(nonNil(job.Hashtags))
	if err != nil {
		return fmt.Errorf("createJob hashtags: %w", err)
	}
	filters, err := jsonText(job.Filters)
	if err != nil {
		return fmt.Errorf("createJob filters: %w", err)
	}

	_, err = s.exec(ctx, s.sb.Insert("discovery_jobs").
		Columns(jobColumns...).
		Columns("updated_at").
		Values(
			job.ID, job.UserID, string(platforms), string(job.SearchType), job.SearchQuery, string(hashtags),
			string(job.Status), job.CandidatesFound, job.CandidatesAnalyzed, nullString(job.ErrorMessage),
			filters, job.StreetCastingMode, millis(job.CreatedAt), nullMillis(job.CompletedAt),
			millis(job.CreatedAt),
		))
	if err != nil {
		return fmt.Errorf("createJob: %w", err)
	}
	return nil
}

// MarkRunning moves a pending job to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("status", string(model.JobRunning)).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id, "status": string(model.JobPending)}))
	if err != nil {
		return fmt.Errorf("markRunning: %w", err)
	}
	return nil
}

// SetCandidatesFound records the filtered profile count. It returns
// model.ErrJobFinished when the job is terminal or gone.
func (s *Store) SetCandidatesFound(ctx context.Context, id string, n int) error {
	rows, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("candidates_found", n).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminal}))
	if err != nil {
		return fmt.Errorf("setCandidatesFound: %w", err)
	}
	if rows == 0 {
		return model.ErrJobFinished
	}
	return nil
}

// SetCandidatesAnalyzed raises the analyzed counter to n. Lower values are
// ignored so the counter never decreases. It returns model.ErrJobFinished
// when the job is terminal or gone.
func (s *Store) SetCandidatesAnalyzed(ctx context.Context, id string, n int) error {
	rows, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("candidates_analyzed", n).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id}).
		Where(sq.Lt{"candidates_analyzed": n}).
		Where(sq.NotEq{"status": terminal}))
	if err != nil {
		return fmt.Errorf("setCandidatesAnalyzed: %w", err)
	}
	if rows > 0 {
		return nil
	}
	// No row changed: either a higher value is already stored or the job
	// is finished. Only the latter is an error.
	return s.Touch(ctx, id)
}

// Touch refreshes updated_at on a running or pending job so the stale sweeper
// leaves it alone. It returns model.ErrJobFinished when the job is terminal
// or gone.
func (s *Store) Touch(ctx context.Context, id string) error {
	rows, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminal}))
	if err != nil {
		return fmt.Errorf("touchJob: %w", err)
	}
	if rows == 0 {
		return model.ErrJobFinished
	}
	return nil
}

// CompleteJob marks a non-terminal job completed. It is a no-op on a job
// that already finished.
func (s *Store) CompleteJob(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("status", string(model.JobCompleted)).
		Set("completed_at", millis(at)).
		Set("updated_at", millis(at)).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminal}))
	if err != nil {
		return fmt.Errorf("completeJob: %w", err)
	}
	return nil
}

// FailJob marks a non-terminal job failed with msg.
func (s *Store) FailJob(ctx context.Context, id, msg string, at time.Time) error {
	_, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("status", string(model.JobFailed)).
		Set("error_message", msg).
		Set("completed_at", millis(at)).
		Set("updated_at", millis(at)).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminal}))
	if err != nil {
		return fmt.Errorf("failJob: %w", err)
	}
	return nil
}

// FailStaleJobs fails every pending or running job whose last progress write
// is older than cutoff and returns how many were changed.
func (s *Store) FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) (int64, error) {
	now := millis(s.now())
	n, err := s.exec(ctx, s.sb.Update("discovery_jobs").
		Set("status", string(model.JobFailed)).
		Set("error_message", msg).
		Set("completed_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"status": []string{string(model.JobPending), string(model.JobRunning)}}).
		Where(sq.Lt{"updated_at": millis(cutoff)}))
	if err != nil {
		return 0, fmt.Errorf("failStaleJobs: %w", err)
	}
	return n, nil
}

// GetJob returns the job owned by userID.
func (s *Store) GetJob(ctx context.Context, userID, id string) (*model.DiscoveryJob, error) {
	row, err := s.queryRow(ctx, s.sb.Select(jobColumns...).
		From("discovery_jobs").
		Where(sq.Eq{"id": id, "user_id": userID}))
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getJob: %w", err)
	}
	return job, nil
}

// DeleteJob removes the job. Its candidates are kept with a null job reference.
func (s *Store) DeleteJob(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleteJob begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Delete("discovery_jobs").Where(sq.Eq{"id": id, "user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleteJob: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("deleteJob: %w", err)
	} else if n == 0 {
		return model.ErrNotFound
	}

	query, args, err = s.sb.Update("candidates").
		Set("discovery_job_id", nil).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"discovery_job_id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleteJob detach candidates: %w", err)
	}
	return tx.Commit()
}

func scanJob(row *sql.Row) (*model.DiscoveryJob, error) {
	var (
		j                   model.DiscoveryJob
		platforms, hashtags string
		searchType, status  string
		errMsg, filters     sql.NullString
		createdAt           int64
		completedAt         sql.NullInt64
	)
	if err := row.Scan(
		&j.ID, &j.UserID, &platforms, &searchType, &j.SearchQuery, &hashtags,
		&status, &j.CandidatesFound, &j.CandidatesAnalyzed, &errMsg,
		&filters, &j.StreetCastingMode, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(platforms), &j.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}
	if err := json.Unmarshal([]byte(hashtags), &j.Hashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags: %w", err)
	}
	if filters.Valid {
		j.Filters = &model.Filters{}
		if err := json.Unmarshal([]byte(filters.String), j.Filters); err != nil {
			return nil, fmt.Errorf("decode filters: %w", err)
		}
	}
	j.SearchType = model.SearchType(searchType)
	j.Status = model.JobStatus(status)
	j.ErrorMessage = stringPtr(errMsg)
	j.CreatedAt = fromMillis(createdAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

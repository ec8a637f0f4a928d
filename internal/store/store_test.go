package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newface/discovery-service/internal/db"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := store.New(conn, store.SQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newJob(id, userID string) *model.DiscoveryJob {
	return &model.DiscoveryJob{
		ID:          id,
		UserID:      userID,
		Platforms:   []model.Platform{model.PlatformInstagram, model.PlatformTikTok},
		SearchType:  model.SearchHashtag,
		SearchQuery: "newface,streetstyle",
		Hashtags:    []string{"newface", "streetstyle"},
		Status:      model.JobRunning,
		Filters:     &model.Filters{TargetCities: []string{"paris"}},
		CreatedAt:   time.UnixMilli(1700000000000).UTC(),
	}
}

func newCandidate(id, userID, handle string, score int, jobID *string) *model.Candidate {
	return &model.Candidate{
		ID:             id,
		UserID:         userID,
		Name:           handle,
		Handle:         handle,
		Platform:       model.PlatformInstagram,
		ProfileURL:     "https://instagram.com/" + handle,
		Followers:      1200,
		EngagementRate: 3.25,
		AIScore:        score,
		AIAnalysis:     &model.Analysis{OverallScore: score},
		Status:         model.StatusDiscovered,
		DiscoveryJobID: jobID,
	}
}

func strp(s string) *string { return &s }

func TestNew_BothDialects(t *testing.T) {
	for _, d := range []store.Dialect{store.SQLite, store.Postgres} {
		if s := store.New(nil, d); s == nil {
			t.Errorf("New(%s) = nil", d)
		}
	}
}

// ── Jobs ─────────────────────────────────────────────────────────────────────

func TestJob_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob("j1", "u1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, "u1", "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if diff := cmp.Diff(job, got); diff != "" {
		t.Errorf("job (-want +got):\n%s", diff)
	}

	if _, err := s.GetJob(ctx, "someone-else", "j1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign user: err = %v, want ErrNotFound", err)
	}
}

func TestJob_AnalyzedCounterIsMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newJob("j1", "u1")); err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{1, 3, 2, 0} {
		if err := s.SetCandidatesAnalyzed(ctx, "j1", n); err != nil {
			t.Fatalf("SetCandidatesAnalyzed(%d): %v", n, err)
		}
	}
	got, _ := s.GetJob(ctx, "u1", "j1")
	if got.CandidatesAnalyzed != 3 {
		t.Errorf("analyzed = %d, want 3", got.CandidatesAnalyzed)
	}
}

func TestJob_TerminalStatesAreFinal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newJob("j1", "u1")); err != nil {
		t.Fatal(err)
	}
	at := time.UnixMilli(1700000100000).UTC()

	if err := s.CompleteJob(ctx, "j1", at); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.FailJob(ctx, "j1", "late failure", at.Add(time.Minute)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.SetCandidatesAnalyzed(ctx, "j1", 9); !errors.Is(err, model.ErrJobFinished) {
		t.Fatalf("SetCandidatesAnalyzed: err = %v, want ErrJobFinished", err)
	}

	got, _ := s.GetJob(ctx, "u1", "j1")
	if got.Status != model.JobCompleted || got.ErrorMessage != nil || got.CandidatesAnalyzed != 0 {
		t.Errorf("completed job was modified: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Errorf("completedAt = %v, want %v", got.CompletedAt, at)
	}
}

func TestJob_ProgressWritesOnSweptJob(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"swept", "live"} {
		if err := s.CreateJob(ctx, newJob(id, "u1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetCandidatesAnalyzed(ctx, "live", 2); err != nil {
		t.Fatal(err)
	}
	// Equal counter on a live job is not an error.
	if err := s.SetCandidatesAnalyzed(ctx, "live", 2); err != nil {
		t.Errorf("repeated SetCandidatesAnalyzed on live job: %v", err)
	}
	if _, err := s.FailStaleJobs(ctx, time.UnixMilli(1700000001000), "timed out"); err != nil {
		t.Fatal(err)
	}

	writes := []struct {
		name string
		call func(id string) error
	}{
		{"SetCandidatesFound", func(id string) error { return s.SetCandidatesFound(ctx, id, 4) }},
		{"SetCandidatesAnalyzed", func(id string) error { return s.SetCandidatesAnalyzed(ctx, id, 3) }},
		{"Touch", func(id string) error { return s.Touch(ctx, id) }},
	}
	for _, w := range writes {
		if err := w.call("swept"); !errors.Is(err, model.ErrJobFinished) {
			t.Errorf("%s on swept job: err = %v, want ErrJobFinished", w.name, err)
		}
		if err := w.call("missing"); !errors.Is(err, model.ErrJobFinished) {
			t.Errorf("%s on missing job: err = %v, want ErrJobFinished", w.name, err)
		}
		if err := w.call("live"); err != nil {
			t.Errorf("%s on live job: %v", w.name, err)
		}
	}

	swept, _ := s.GetJob(ctx, "u1", "swept")
	if swept.Status != model.JobFailed || swept.CandidatesFound != 0 || swept.CandidatesAnalyzed != 0 {
		t.Errorf("swept job was modified: %+v", swept)
	}
}

func TestTouch_KeepsJobOutOfSweep(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newJob("j1", "u1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Touch(ctx, "j1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	n, err := s.FailStaleJobs(ctx, time.UnixMilli(1700000001000), "timed out")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("swept %d jobs after heartbeat, want 0", n)
	}
}

func TestJob_MarkRunningOnlyFromPending(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob("j1", "u1")
	job.Status = model.JobPending
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRunning(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, "u1", "j1")
	if got.Status != model.JobRunning {
		t.Errorf("status = %s, want running", got.Status)
	}

	_ = s.FailJob(ctx, "j1", "boom", time.Now())
	_ = s.MarkRunning(ctx, "j1")
	got, _ = s.GetJob(ctx, "u1", "j1")
	if got.Status != model.JobFailed || got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Errorf("failed job = %+v", got)
	}
}

func TestFailStaleJobs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"stale", "done"} {
		if err := s.CreateJob(ctx, newJob(id, "u1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CompleteJob(ctx, "done", time.UnixMilli(1700000000500)); err != nil {
		t.Fatal(err)
	}

	n, err := s.FailStaleJobs(ctx, time.UnixMilli(1700000001000), "timed out")
	if err != nil {
		t.Fatalf("FailStaleJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("failed %d jobs, want 1", n)
	}
	stale, _ := s.GetJob(ctx, "u1", "stale")
	if stale.Status != model.JobFailed || stale.CompletedAt == nil {
		t.Errorf("stale job = %+v", stale)
	}
	done, _ := s.GetJob(ctx, "u1", "done")
	if done.Status != model.JobCompleted {
		t.Errorf("completed job was swept: %s", done.Status)
	}
}

func TestDeleteJob_DetachesCandidates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newJob("j1", "u1")); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertCandidate(ctx, newCandidate("c1", "u1", "ana", 70, strp("j1"))); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteJob(ctx, "u2", "j1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign delete: err = %v", err)
	}
	if err := s.DeleteJob(ctx, "u1", "j1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, "u1", "j1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("job still present: %v", err)
	}
	c, err := s.GetCandidate(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("candidate deleted with job: %v", err)
	}
	if c.DiscoveryJobID != nil {
		t.Errorf("discoveryJobId = %q, want nil", *c.DiscoveryJobID)
	}
}

// ── Candidates ───────────────────────────────────────────────────────────────

func TestCandidateExists_CaseInsensitive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.InsertCandidate(ctx, newCandidate("c1", "u1", "Ana.Lima", 60, nil)); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		user, handle string
		want         bool
	}{
		{"u1", "ana.lima", true},
		{"u1", "ANA.LIMA", true},
		{"u1", "bo", false},
		{"u2", "ana.lima", false},
	}
	for _, tc := range cases {
		got, err := s.CandidateExists(ctx, tc.user, tc.handle)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("CandidateExists(%s, %s) = %v, want %v", tc.user, tc.handle, got, tc.want)
		}
	}
}

func TestCandidate_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := newCandidate("c1", "u1", "ana", 71, strp("j1"))
	c.Location = strp("Paris")
	c.StreetCastingScore = func() *int { v := 71; return &v }()
	c.EstimatedAge = func() *int { v := 21; return &v }()
	c.AIAnalysis = &model.Analysis{
		OverallScore:  71,
		StreetCasting: &model.StreetCastingAnalysis{EstimatedAge: 21, ContentStyle: model.ContentCandid},
	}
	c.CreatedAt = time.UnixMilli(1700000000000).UTC()
	c.UpdatedAt = c.CreatedAt
	if err := s.InsertCandidate(ctx, c); err != nil {
		t.Fatalf("InsertCandidate: %v", err)
	}

	got, err := s.GetCandidate(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("candidate (-want +got):\n%s", diff)
	}
}

func TestTopCandidatesForJob_OrderedAndLimited(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i, score := range []int{40, 90, 65, 90, 10} {
		c := newCandidate(string(rune('a'+i)), "u1", string(rune('a'+i)), score, strp("j1"))
		c.CreatedAt = time.UnixMilli(int64(1700000000000 + i))
		if err := s.InsertCandidate(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertCandidate(ctx, newCandidate("other", "u1", "other", 99, strp("j2"))); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopCandidatesForJob(ctx, "j1", 3)
	if err != nil {
		t.Fatalf("TopCandidatesForJob: %v", err)
	}
	var ids []string
	for _, c := range top {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"b", "d", "c"}, ids); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestUpdateCandidateStage_AppendsHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.InsertCandidate(ctx, newCandidate("c1", "u1", "ana", 60, nil)); err != nil {
		t.Fatal(err)
	}
	at := time.UnixMilli(1700000500000).UTC()

	got, err := s.UpdateCandidateStage(ctx, "u1", "c1", model.StageChange{
		From: model.StatusDiscovered, To: model.StatusContacted, At: at,
	})
	if err != nil {
		t.Fatalf("UpdateCandidateStage: %v", err)
	}
	want := []model.StageChange{{From: model.StatusDiscovered, To: model.StatusContacted, At: at}}
	if got.Status != model.StatusContacted {
		t.Errorf("status = %s", got.Status)
	}
	if diff := cmp.Diff(want, got.HistoryLog); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}

	// A move computed from a stale read is rejected.
	_, err = s.UpdateCandidateStage(ctx, "u1", "c1", model.StageChange{
		From: model.StatusDiscovered, To: model.StatusRejected, At: at,
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("stale move: err = %v, want ErrConflict", err)
	}

	if _, err := s.UpdateCandidateStage(ctx, "u2", "c1", model.StageChange{}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign move: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateCandidateNotes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.InsertCandidate(ctx, newCandidate("c1", "u1", "ana", 60, nil)); err != nil {
		t.Fatal(err)
	}
	got, err := s.UpdateCandidateNotes(ctx, "u1", "c1", "call back friday")
	if err != nil {
		t.Fatalf("UpdateCandidateNotes: %v", err)
	}
	if got.Notes == nil || *got.Notes != "call back friday" {
		t.Errorf("notes = %v", got.Notes)
	}
	if _, err := s.UpdateCandidateNotes(ctx, "u1", "missing", "x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestListCandidatesAndStats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed := []struct {
		id     string
		score  int
		status model.CandidateStatus
	}{
		{"a", 80, model.StatusDiscovered},
		{"b", 60, model.StatusDiscovered},
		{"c", 70, model.StatusContacted},
	}
	for _, sd := range seed {
		c := newCandidate(sd.id, "u1", sd.id, sd.score, nil)
		c.Status = sd.status
		if err := s.InsertCandidate(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertCandidate(ctx, newCandidate("z", "u2", "z", 5, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, newJob("j1", "u1")); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListCandidates(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	var ids []string
	for _, c := range all {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"a", "c", "b"}, ids); diff != "" {
		t.Errorf("all (-want +got):\n%s", diff)
	}

	discovered, err := s.ListCandidates(ctx, "u1", model.StatusDiscovered)
	if err != nil {
		t.Fatal(err)
	}
	if len(discovered) != 2 {
		t.Errorf("discovered = %d, want 2", len(discovered))
	}

	st, err := s.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := &model.Stats{
		TotalCandidates: 3,
		ByStage:         map[model.CandidateStatus]int{model.StatusDiscovered: 2, model.StatusContacted: 1},
		AverageScore:    70,
		Jobs:            map[model.JobStatus]int{model.JobRunning: 1},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}

package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"newface/discovery-service/internal/db"
	"newface/discovery-service/internal/events"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/pipeline"
	"newface/discovery-service/internal/store"
)

const userID = "user-1"

func newService(t *testing.T) (*pipeline.Service, *store.Store, *events.Recorder) {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	st := store.New(conn, store.SQLite)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	rec := &events.Recorder{}
	return pipeline.NewService(st, rec, nil), st, rec
}

func seed(t *testing.T, st *store.Store, id, handle string, score int) {
	t.Helper()
	err := st.InsertCandidate(context.Background(), &model.Candidate{
		ID:         id,
		UserID:     userID,
		Name:       handle,
		Handle:     handle,
		Platform:   model.PlatformInstagram,
		ProfileURL: "https://instagram.com/" + handle,
		AIScore:    score,
		Status:     model.StatusDiscovered,
		HistoryLog: []model.StageChange{},
	})
	if err != nil {
		t.Fatalf("InsertCandidate: %v", err)
	}
}

// ── Move ───────────────────────────────────────────────────────────────────

func TestMove_AppendsHistoryAndPublishes(t *testing.T) {
	svc, st, rec := newService(t)
	seed(t, st, "c1", "ana", 70)

	c, err := svc.Move(context.Background(), userID, "c1", "contacted")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if c.Status != model.StatusContacted {
		t.Errorf("status = %s", c.Status)
	}
	c, err = svc.Move(context.Background(), userID, "c1", "MEETING")
	if err != nil {
		t.Fatalf("second Move: %v", err)
	}

	var got [][2]model.CandidateStatus
	for _, h := range c.HistoryLog {
		got = append(got, [2]model.CandidateStatus{h.From, h.To})
		if h.At.IsZero() {
			t.Error("history entry without timestamp")
		}
	}
	want := [][2]model.CandidateStatus{
		{model.StatusDiscovered, model.StatusContacted},
		{model.StatusContacted, model.StatusMeeting},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}

	msgs := rec.Messages()
	if len(msgs) != 2 {
		t.Fatalf("events = %d, want 2", len(msgs))
	}
	ev, ok := msgs[1].Payload.(events.CandidateMoved)
	if !ok || msgs[1].Channel != events.ChannelCandidateMoved {
		t.Fatalf("event = %+v", msgs[1])
	}
	wantEv := events.CandidateMoved{
		Type:        events.ChannelCandidateMoved,
		CandidateID: "c1",
		UserID:      userID,
		From:        model.StatusContacted,
		To:          model.StatusMeeting,
	}
	if diff := cmp.Diff(wantEv, ev); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
}

func TestMove_Rejections(t *testing.T) {
	svc, st, rec := newService(t)
	seed(t, st, "c1", "ana", 70)
	if _, err := svc.Move(context.Background(), userID, "c1", "signed"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	var ve *model.ValidationError
	if _, err := svc.Move(context.Background(), userID, "c1", "rejected"); !errors.As(err, &ve) {
		t.Errorf("move out of terminal: err = %v, want ValidationError", err)
	}
	if _, err := svc.Move(context.Background(), userID, "c1", "famous"); !errors.As(err, &ve) {
		t.Errorf("unknown stage: err = %v, want ValidationError", err)
	}
	if _, err := svc.Move(context.Background(), userID, "missing", "contacted"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing candidate: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Move(context.Background(), "user-2", "c1", "contacted"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("other user: err = %v, want ErrNotFound", err)
	}
	if n := len(rec.Messages()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

// ── Notes / List / Stats ───────────────────────────────────────────────────

func TestAddNote(t *testing.T) {
	svc, st, _ := newService(t)
	seed(t, st, "c1", "ana", 70)

	if _, err := svc.AddNote(context.Background(), userID, "c1", "first"); err != nil {
		t.Fatal(err)
	}
	c, err := svc.AddNote(context.Background(), userID, "c1", "call back friday")
	if err != nil {
		t.Fatal(err)
	}
	if c.Notes == nil || *c.Notes != "call back friday" {
		t.Errorf("notes = %v", c.Notes)
	}
	if _, err := svc.AddNote(context.Background(), userID, "missing", "x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestListAndStats(t *testing.T) {
	svc, st, _ := newService(t)
	seed(t, st, "c1", "ana", 60)
	seed(t, st, "c2", "bo", 90)
	seed(t, st, "c3", "cy", 75)
	if _, err := svc.Move(context.Background(), userID, "c3", "contacted"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(context.Background(), userID, "")
	if err != nil {
		t.Fatal(err)
	}
	var handles []string
	for _, c := range all {
		handles = append(handles, c.Handle)
	}
	if diff := cmp.Diff([]string{"bo", "cy", "ana"}, handles); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	discovered, err := svc.List(context.Background(), userID, "discovered")
	if err != nil {
		t.Fatal(err)
	}
	if len(discovered) != 2 {
		t.Errorf("discovered = %d, want 2", len(discovered))
	}

	var ve *model.ValidationError
	if _, err := svc.List(context.Background(), userID, "bogus"); !errors.As(err, &ve) {
		t.Errorf("bogus filter: err = %v", err)
	}

	stats, err := svc.Stats(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCandidates != 3 || stats.AverageScore != 75 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByStage[model.StatusDiscovered] != 2 || stats.ByStage[model.StatusContacted] != 1 {
		t.Errorf("byStage = %v", stats.ByStage)
	}
}

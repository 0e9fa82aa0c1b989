package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"stagewright/internal/project"
	"stagewright/internal/store"
	"stagewright/internal/testsupport"
)

func TestOpenCreatesSchemaAndRoundTripsProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewProject(t, st, "PRJ-1", "acme", "quote",
		testsupport.WithMetadata("customer", "Initech"),
		testsupport.WithPriority(project.PriorityHigh),
		testsupport.WithTags("Rush", "rush", " export "),
	)
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if !created.Complete {
		t.Fatal("expected full read to be complete")
	}
	if created.Status != project.StatusActive {
		t.Fatalf("expected default status active, got %q", created.Status)
	}
	if created.StageEnteredAt.IsZero() {
		t.Fatal("expected stage entered timestamp for staged project")
	}
	if len(created.Tags) != 2 || created.Tags[0] != "export" || created.Tags[1] != "rush" {
		t.Fatalf("unexpected tags: %v", created.Tags)
	}
	if created.MetadataValue("customer") != "Initech" {
		t.Fatalf("unexpected metadata: %v", created.Metadata)
	}

	if _, err := st.CreateProject(ctx, project.Project{ID: "PRJ-1", Organization: "acme"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := st.ReadProject(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Reopening the same database keeps data and passes the version check.
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := testsupport.MustOpenStore(t, cfg)
	again, err := reopened.ReadProject(ctx, "PRJ-1")
	if err != nil {
		t.Fatalf("ReadProject after reopen: %v", err)
	}
	if again.CurrentStageID != "quote" {
		t.Fatalf("unexpected stage after reopen: %q", again.CurrentStageID)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	path := st.Path()
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 999"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestListProjectsIsSummaryOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewProject(t, st, "A-1", "acme", "", testsupport.WithTags("x"))
	testsupport.NewProject(t, st, "A-2", "acme", "inquiry")
	testsupport.NewProject(t, st, "G-1", "globex", "inquiry")

	list, err := st.ListProjects(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list) != 2 || list[0].ID != "A-1" || list[1].ID != "A-2" {
		t.Fatalf("unexpected listing: %#v", list)
	}
	for _, p := range list {
		if p.Complete {
			t.Fatalf("summary record %s should not be complete", p.ID)
		}
		if len(p.Tags) != 0 {
			t.Fatalf("summary record %s should not carry tags", p.ID)
		}
	}
	all, err := st.ListProjects(context.Background(), "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 projects across orgs, got %d (%v)", len(all), err)
	}
}

func TestMutateProjectStageIsConditional(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	p := testsupport.NewProject(t, st, "PRJ-1", "acme", "s2")

	entered := time.Now().Add(time.Minute).UTC()
	updated, err := st.MutateProjectStage(ctx, project.StageMutation{
		ProjectID:       p.ID,
		FromStageID:     "s2",
		ExpectedVersion: p.Version,
		ToStageID:       "s3",
		EnteredAt:       entered,
	})
	if err != nil {
		t.Fatalf("MutateProjectStage: %v", err)
	}
	if updated.CurrentStageID != "s3" || updated.Version != p.Version+1 {
		t.Fatalf("unexpected mutation result: stage=%q version=%d", updated.CurrentStageID, updated.Version)
	}
	if !updated.StageEnteredAt.Equal(entered) {
		t.Fatalf("stage entered at = %s, want %s", updated.StageEnteredAt, entered)
	}
	if updated.Status != project.StatusActive {
		t.Fatalf("empty mutation status should keep existing status, got %q", updated.Status)
	}

	// Replaying the same mutation is stale on both version and from-stage.
	_, err = st.MutateProjectStage(ctx, project.StageMutation{
		ProjectID:       p.ID,
		FromStageID:     "s2",
		ExpectedVersion: p.Version,
		ToStageID:       "s3",
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	_, err = st.MutateProjectStage(ctx, project.StageMutation{ProjectID: "nope", ToStageID: "s1", ExpectedVersion: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExternalEditBumpsVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	p := testsupport.NewProject(t, st, "PRJ-1", "acme", "s2")

	db, err := sql.Open("sqlite", st.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE projects SET priority = 'urgent' WHERE id = 'PRJ-1'"); err != nil {
		t.Fatalf("raw update: %v", err)
	}

	fresh, err := st.ReadProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("ReadProject: %v", err)
	}
	if fresh.Version <= p.Version {
		t.Fatalf("expected trigger to bump version past %d, got %d", p.Version, fresh.Version)
	}
	_, err = st.MutateProjectStage(ctx, project.StageMutation{
		ProjectID: p.ID, FromStageID: "s2", ExpectedVersion: p.Version, ToStageID: "s3",
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected stale version to conflict after direct edit, got %v", err)
	}
}

func TestHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewProject(t, st, "PRJ-1", "acme", "s1")

	base := time.Now().UTC()
	recs := []project.TransitionRecord{
		{ID: "r2", ProjectID: "PRJ-1", Organization: "acme", Sequence: 2, FromStageID: "s2", ToStageID: "s3", ActorID: "bob", Timestamp: base.Add(time.Second), PrevHash: "h1", Hash: "h2"},
		{ID: "r1", ProjectID: "PRJ-1", Organization: "acme", Sequence: 1, ToStageID: "s2", ActorID: "amy", BypassReason: "customer call", EstimatedDuration: 90 * time.Minute, Timestamp: base, Hash: "h1"},
	}
	for _, rec := range recs {
		if err := st.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory %s: %v", rec.ID, err)
		}
	}
	dup := recs[1]
	dup.ID = "r1-dup"
	if err := st.AppendHistory(ctx, dup); !errors.Is(err, store.ErrDuplicateSequence) {
		t.Fatalf("expected ErrDuplicateSequence, got %v", err)
	}

	history, err := st.QueryHistory(ctx, "PRJ-1")
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(history) != 2 || history[0].ID != "r1" || history[1].ID != "r2" {
		t.Fatalf("expected oldest first, got %#v", history)
	}
	first := history[0]
	if first.FromStageID != "" || first.BypassReason != "customer call" || first.EstimatedDuration != 90*time.Minute {
		t.Fatalf("unexpected first record: %#v", first)
	}
	if !first.Timestamp.Equal(base) {
		t.Fatalf("timestamp round trip: got %s want %s", first.Timestamp, base)
	}

	last, ok, err := st.LastHistory(ctx, "PRJ-1")
	if err != nil || !ok || last.ID != "r2" {
		t.Fatalf("LastHistory = %v/%v/%v", last.ID, ok, err)
	}
	if _, ok, err := st.LastHistory(ctx, "other"); err != nil || ok {
		t.Fatalf("expected no history for unknown project, got ok=%v err=%v", ok, err)
	}

	db, err := sql.Open("sqlite", st.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE stage_history SET actor_id = 'mallory'"); err == nil {
		t.Fatal("expected history update to be rejected")
	}
	if _, err := db.Exec("DELETE FROM stage_history"); err == nil {
		t.Fatal("expected history delete to be rejected")
	}
}

func TestCollaboratorQueries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewProject(t, st, "PRJ-1", "acme", "review")

	if _, err := st.AddDocument(ctx, "PRJ-1", "Drawing", "part.dxf"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	missing, err := st.MissingDocuments(ctx, "PRJ-1", project.DocumentDrawing, project.DocumentSpecification)
	if err != nil {
		t.Fatalf("MissingDocuments: %v", err)
	}
	if len(missing) != 1 || missing[0] != project.DocumentSpecification {
		t.Fatalf("unexpected missing documents: %v", missing)
	}

	item, err := st.AddReviewItem(ctx, "PRJ-1", "tolerance on bore unclear")
	if err != nil {
		t.Fatalf("AddReviewItem: %v", err)
	}
	if _, err := st.AddReviewItem(ctx, "PRJ-1", "material grade"); err != nil {
		t.Fatalf("AddReviewItem: %v", err)
	}
	if err := st.ResolveReviewItem(ctx, item.ID); err != nil {
		t.Fatalf("ResolveReviewItem: %v", err)
	}
	if err := st.ResolveReviewItem(ctx, item.ID); err == nil {
		t.Fatal("expected error resolving an already resolved item")
	}
	open, err := st.OpenReviewItems(ctx, "PRJ-1")
	if err != nil {
		t.Fatalf("OpenReviewItems: %v", err)
	}
	if len(open) != 1 || open[0].Summary != "material grade" {
		t.Fatalf("unexpected open items: %#v", open)
	}

	for supplier, state := range map[string]project.RFQState{
		"alpha": project.RFQSent,
		"beta":  project.RFQResponded,
		"gamma": project.RFQAwarded,
		"delta": project.RFQDeclined,
	} {
		if err := st.RecordRFQ(ctx, "PRJ-1", supplier, state); err != nil {
			t.Fatalf("RecordRFQ %s: %v", supplier, err)
		}
	}
	if err := st.RecordRFQ(ctx, "PRJ-1", "alpha", project.RFQResponded); err != nil {
		t.Fatalf("RecordRFQ upsert: %v", err)
	}
	summary, err := st.RFQSummary(ctx, "PRJ-1")
	if err != nil {
		t.Fatalf("RFQSummary: %v", err)
	}
	want := project.RFQSummary{Sent: 4, Responded: 4, Awarded: 1, Declined: 1}
	if summary != want {
		t.Fatalf("RFQSummary = %#v, want %#v", summary, want)
	}
	if err := st.RecordRFQ(ctx, "PRJ-1", "alpha", "lost"); err == nil {
		t.Fatal("expected error for unknown rfq state")
	}
}

func TestSetMetadataStatusAndTags(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	p := testsupport.NewProject(t, st, "PRJ-1", "acme", "inquiry")

	updated, err := st.SetMetadata(ctx, p.ID, "customer", "Initech")
	if err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if updated.MetadataValue("customer") != "Initech" || updated.Version != p.Version+1 {
		t.Fatalf("unexpected metadata update: %#v", updated)
	}
	cleared, err := st.SetMetadata(ctx, p.ID, "customer", "")
	if err != nil {
		t.Fatalf("SetMetadata clear: %v", err)
	}
	if cleared.MetadataValue("customer") != "" {
		t.Fatalf("expected metadata cleared, got %v", cleared.Metadata)
	}

	held, err := st.UpdateProjectStatus(ctx, p.ID, project.StatusOnHold)
	if err != nil || held.Status != project.StatusOnHold {
		t.Fatalf("UpdateProjectStatus = %v/%v", held.Status, err)
	}
	if _, err := st.UpdateProjectStatus(ctx, p.ID, "paused"); err == nil {
		t.Fatal("expected error for unknown status")
	}

	tagged, err := st.SetTags(ctx, p.ID, []string{"B", "a"})
	if err != nil {
		t.Fatalf("SetTags: %v", err)
	}
	if len(tagged.Tags) != 2 || tagged.Tags[0] != "a" || tagged.Tags[1] != "b" {
		t.Fatalf("unexpected tags: %v", tagged.Tags)
	}
	if _, err := st.SetTags(ctx, "missing", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChangeFeedReportsOrganizationChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewProject(t, st, "PRJ-1", "acme", "s1")

	sub, err := st.ChangeFeed(10*time.Millisecond).Subscribe(ctx, "acme")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	// Pre-existing rows are below the cursor and must not fire.
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event before any change: %#v", ev)
	case <-time.After(60 * time.Millisecond):
	}

	testsupport.NewProject(t, st, "OTHER-1", "globex", "s1")
	select {
	case ev := <-sub.Events():
		t.Fatalf("change in another organization leaked: %#v", ev)
	case <-time.After(60 * time.Millisecond):
	}

	if _, err := st.UpdateProjectPriority(ctx, "PRJ-1", project.PriorityUrgent); err != nil {
		t.Fatalf("UpdateProjectPriority: %v", err)
	}
	select {
	case ev := <-sub.Events():
		if ev.Organization != "acme" {
			t.Fatalf("unexpected event org %q", ev.Organization)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected events channel closed after Close")
	}

	pruned, err := st.PruneChanges(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("PruneChanges: %v", err)
	}
	if pruned == 0 {
		t.Fatal("expected prune to remove change rows")
	}
}

func TestStorePathLivesInDataDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if filepath.Dir(st.Path()) != cfg.Paths.DataDir {
		t.Fatalf("store path %q not under data dir %q", st.Path(), cfg.Paths.DataDir)
	}
	if st.Dialect() != "sqlite" {
		t.Fatalf("unexpected dialect %q", st.Dialect())
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

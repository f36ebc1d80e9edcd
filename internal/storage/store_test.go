package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"talent-radar/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "talent.db")})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedPosting(t *testing.T, store *Store, docs ...string) (*model.Posting, []model.Document) {
	t.Helper()
	ctx := context.Background()
	posting := &model.Posting{Name: "Backend Engineer"}
	if err := store.CreatePosting(ctx, posting); err != nil {
		t.Fatalf("CreatePosting error: %v", err)
	}
	created := make([]model.Document, 0, len(docs))
	for _, name := range docs {
		doc := model.Document{PostingID: &posting.ID, Kind: model.DocumentCV, Name: name, MIMEType: "application/pdf", Data: []byte("%PDF " + name)}
		if err := store.CreateDocument(ctx, &doc); err != nil {
			t.Fatalf("CreateDocument error: %v", err)
		}
		created = append(created, doc)
	}
	return posting, created
}

func TestCreatePostingCreatesBatchJob(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting, _ := seedPosting(t, store)

	batch, err := store.GetBatch(context.Background(), posting.ID)
	if err != nil {
		t.Fatalf("GetBatch error: %v", err)
	}
	if batch.PostingID != posting.ID || batch.Total != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if posting.MatchStrategy != model.MatchSingle {
		t.Fatalf("expected default single strategy, got %q", posting.MatchStrategy)
	}
}

func TestBatchCountersRespectTotal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	posting, docs := seedPosting(t, store, "a.pdf", "b.pdf")

	err := store.Transaction(ctx, func(tx *Store) error {
		batch, err := tx.LockBatch(ctx, posting.ID, LockNoWait)
		if err != nil {
			return err
		}
		pending, err := tx.PendingDocumentIDs(ctx, posting.ID, batch.ID)
		if err != nil {
			return err
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending documents, got %d", len(pending))
		}
		return tx.ResetBatch(ctx, batch.ID, "run-1", len(pending), time.Now())
	})
	if err != nil {
		t.Fatalf("start transaction error: %v", err)
	}

	batch, _ := store.GetBatch(ctx, posting.ID)
	if err := store.MarkProcessed(ctx, batch.ID, docs[0].ID); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if err := store.RecordFailure(ctx, batch, model.RunError{DocumentID: docs[1].ID, DocumentName: "b.pdf", Message: "boom"}); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if err := store.MarkProcessed(ctx, batch.ID, docs[1].ID); err == nil {
		t.Fatalf("expected counters exhausted error")
	}

	batch, err = store.GetBatch(ctx, posting.ID)
	if err != nil {
		t.Fatalf("GetBatch error: %v", err)
	}
	if batch.Total != 2 || batch.Processed != 1 || batch.Failed != 1 {
		t.Fatalf("unexpected counters %+v", batch)
	}
	if len(batch.Errors) != 1 || batch.Errors[0].DocumentName != "b.pdf" {
		t.Fatalf("unexpected errors %+v", batch.Errors)
	}

	pending, err := store.PendingDocumentIDs(ctx, posting.ID, batch.ID)
	if err != nil {
		t.Fatalf("PendingDocumentIDs error: %v", err)
	}
	if len(pending) != 1 || pending[0] != docs[1].ID {
		t.Fatalf("expected only failed document pending, got %v", pending)
	}
}

func TestClearBatchResetsEverything(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	posting, docs := seedPosting(t, store, "a.pdf")

	batch, _ := store.GetBatch(ctx, posting.ID)
	if err := store.ResetBatch(ctx, batch.ID, "run-1", 1, time.Now()); err != nil {
		t.Fatalf("ResetBatch error: %v", err)
	}
	if err := store.MarkProcessed(ctx, batch.ID, docs[0].ID); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if err := store.FinishBatch(ctx, batch.ID, false, time.Now()); err != nil {
		t.Fatalf("FinishBatch error: %v", err)
	}
	if err := store.ClearBatch(ctx, batch.ID); err != nil {
		t.Fatalf("ClearBatch error: %v", err)
	}

	batch, _ = store.GetBatch(ctx, posting.ID)
	if batch.RunID != "" || batch.Total != 0 || batch.Processed != 0 || batch.ProcessingComplete {
		t.Fatalf("expected cleared batch, got %+v", batch)
	}
	ids, err := store.ProcessedDocumentIDs(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ProcessedDocumentIDs error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected processed set cleared, got %v", ids)
	}
}

func TestFindOrCreateDegreeIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.FindOrCreateDegree(ctx, "Bachelor of Science")
	if err != nil {
		t.Fatalf("FindOrCreateDegree error: %v", err)
	}
	second, err := store.FindOrCreateDegree(ctx, "bachelor OF science")
	if err != nil {
		t.Fatalf("FindOrCreateDegree error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same degree, got %d and %d", first.ID, second.ID)
	}
}

func TestTransitionExtractStateIsConditional(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	posting, _ := seedPosting(t, store)

	cand := &model.Candidate{PostingID: posting.ID, Name: "Ada"}
	if err := store.CreateCandidate(ctx, cand); err != nil {
		t.Fatalf("CreateCandidate error: %v", err)
	}

	ok, err := store.TransitionExtractState(ctx, cand.ID, []model.ExtractState{model.ExtractNotStarted}, model.ExtractPending, "queued")
	if err != nil || !ok {
		t.Fatalf("expected transition to pending, ok=%v err=%v", ok, err)
	}
	ok, err = store.TransitionExtractState(ctx, cand.ID, []model.ExtractState{model.ExtractNotStarted}, model.ExtractPending, "queued")
	if err != nil {
		t.Fatalf("TransitionExtractState error: %v", err)
	}
	if ok {
		t.Fatalf("expected second transition to be rejected")
	}
}

func TestGetMissingRecordsReturnNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetPosting(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetCandidate(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRequirementsAndStatements(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	posting, _ := seedPosting(t, store)

	tag, err := store.FindOrCreateRequirementTag(ctx, "Hard Skill")
	if err != nil {
		t.Fatalf("FindOrCreateRequirementTag error: %v", err)
	}
	again, err := store.FindOrCreateRequirementTag(ctx, "hard skill")
	if err != nil {
		t.Fatalf("FindOrCreateRequirementTag error: %v", err)
	}
	if again.ID != tag.ID {
		t.Fatalf("expected tag reuse")
	}

	req := model.Requirement{PostingID: posting.ID, Text: "Go", Sequence: 1, Weight: 2, Tags: []model.RequirementTag{*tag}}
	if err := store.CreateRequirement(ctx, &req); err != nil {
		t.Fatalf("CreateRequirement error: %v", err)
	}
	reqs, err := store.ListRequirements(ctx, posting.ID)
	if err != nil {
		t.Fatalf("ListRequirements error: %v", err)
	}
	if len(reqs) != 1 || len(reqs[0].Tags) != 1 || reqs[0].Tags[0].Name != "Hard Skill" {
		t.Fatalf("unexpected requirements %+v", reqs)
	}

	stmts := []model.MatchStatement{{RequirementID: req.ID, Fit: "good_fit", Score: 80}}
	if err := store.ReplaceMatchStatements(ctx, 7, stmts); err != nil {
		t.Fatalf("ReplaceMatchStatements error: %v", err)
	}
	if err := store.ReplaceMatchStatements(ctx, 7, stmts); err != nil {
		t.Fatalf("ReplaceMatchStatements error: %v", err)
	}
	got, err := store.ListMatchStatements(ctx, 7)
	if err != nil {
		t.Fatalf("ListMatchStatements error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected statements replaced, got %d", len(got))
	}

	affected, err := store.DeleteRequirements(ctx, posting.ID)
	if err != nil {
		t.Fatalf("DeleteRequirements error: %v", err)
	}
	if len(affected) != 1 || affected[0] != 7 {
		t.Fatalf("expected candidate 7 affected, got %v", affected)
	}
	if left, _ := store.ListMatchStatements(ctx, 7); len(left) != 0 {
		t.Fatalf("expected statements of deleted requirements removed, got %d", len(left))
	}
	weights, err := store.RequirementWeights(ctx, posting.ID)
	if err != nil {
		t.Fatalf("RequirementWeights error: %v", err)
	}
	if len(weights) != 0 {
		t.Fatalf("expected no weights after delete, got %v", weights)
	}
}

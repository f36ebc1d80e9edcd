package requirements

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"talent-radar/internal/apperr"
	"talent-radar/internal/llm"
	"talent-radar/internal/model"
	"talent-radar/internal/prompts"
	"talent-radar/internal/storage"
)

const jdReply = "```json\n" + `{"requirements": [
  {"requirement": "5+ years of Go in production", "weight": 4.5, "category": "Hard Skill", "relevant_organizations": ["Google"]},
  {"requirement": "  ", "weight": 2, "category": "Hard Skill"},
  {"requirement": "Clear written communication", "weight": "0", "category": "soft skill"},
  {"requirement": "Experience with Kubernetes", "weight": "2.5", "category": "hard skill"}
]}` + "\n```"

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(storage.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "requirements.db")})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seed(t *testing.T, store *storage.Store) (*model.Posting, *model.Document) {
	t.Helper()
	ctx := context.Background()
	posting := &model.Posting{Name: "Platform Engineer"}
	if err := store.CreatePosting(ctx, posting); err != nil {
		t.Fatalf("CreatePosting error: %v", err)
	}
	doc := &model.Document{PostingID: &posting.ID, Kind: model.DocumentJobDescription, Name: "jd.txt", MIMEType: "text/plain", Data: []byte("We need a Go engineer.")}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument error: %v", err)
	}
	return posting, doc
}

func TestExtractReplacesRequirements(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting, doc := seed(t, store)
	ctx := context.Background()

	if err := store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, posting.ID, []Item{{Requirement: "old requirement", Weight: 1}}, nil)
	}); err != nil {
		t.Fatalf("seed requirements error: %v", err)
	}

	ex := NewExtractor(store, &stubClient{reply: jdReply}, prompts.Default(), nil, nil)
	reqs, err := ex.Extract(ctx, posting.ID, doc.ID)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(reqs))
	}
	if reqs[0].Text != "5+ years of Go in production" || reqs[0].Sequence != 1 || reqs[0].Weight != 4.5 {
		t.Fatalf("unexpected first requirement %+v", reqs[0])
	}
	if reqs[1].Weight != 1.0 {
		t.Fatalf("expected non-positive weight to default to 1, got %v", reqs[1].Weight)
	}
	if reqs[2].Weight != 2.5 || reqs[2].Sequence != 3 {
		t.Fatalf("unexpected third requirement %+v", reqs[2])
	}
	if len(reqs[0].RelevantOrganizations) != 1 || reqs[0].RelevantOrganizations[0] != "Google" {
		t.Fatalf("expected organizations kept, got %v", reqs[0].RelevantOrganizations)
	}
	if len(reqs[0].Tags) != 1 || len(reqs[2].Tags) != 1 || reqs[0].Tags[0].ID != reqs[2].Tags[0].ID {
		t.Fatalf("expected case-insensitive tag reuse, got %+v / %+v", reqs[0].Tags, reqs[2].Tags)
	}
	for _, r := range reqs {
		if r.Text == "old requirement" {
			t.Fatalf("old requirements must be deleted")
		}
	}
}

func TestExtractFailsOnZeroRequirements(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting, doc := seed(t, store)
	ctx := context.Background()

	if err := store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, posting.ID, []Item{{Requirement: "keep me", Weight: 2}}, nil)
	}); err != nil {
		t.Fatalf("seed requirements error: %v", err)
	}

	ex := NewExtractor(store, &stubClient{reply: `{"requirements": [{"requirement": ""}]}`}, prompts.Default(), nil, nil)
	if _, err := ex.Extract(ctx, posting.ID, doc.ID); err == nil {
		t.Fatalf("expected error for zero requirements")
	}
	reqs, err := store.ListRequirements(ctx, posting.ID)
	if err != nil {
		t.Fatalf("ListRequirements error: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Text != "keep me" {
		t.Fatalf("existing requirements must survive a failed extraction, got %+v", reqs)
	}
}

func TestExtractPreflightAndLookups(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting, doc := seed(t, store)
	ctx := context.Background()

	cfgErr := apperr.New(apperr.KindConfiguration, "llm.validate", "model is not configured")
	client := &stubClient{validateErr: cfgErr}
	if _, err := NewExtractor(store, client, prompts.Default(), nil, nil).Extract(ctx, posting.ID, doc.ID); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("service must not be called when configuration is missing")
	}

	ok := NewExtractor(store, &stubClient{reply: jdReply}, prompts.Default(), nil, nil)
	if _, err := ok.Extract(ctx, posting.ID, 9999); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	got := Clean([]Item{
		{Requirement: " Go ", Weight: -3, Category: " Hard Skill ", RelevantOrganizations: []string{" ", "ACME"}},
		{Requirement: ""},
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].Requirement != "Go" || got[0].Weight != 1.0 || got[0].Category != "Hard Skill" {
		t.Fatalf("unexpected item %+v", got[0])
	}
	if len(got[0].RelevantOrganizations) != 1 || got[0].RelevantOrganizations[0] != "ACME" {
		t.Fatalf("unexpected organizations %v", got[0].RelevantOrganizations)
	}
}

func TestReplaceRescoresAffectedCandidates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting, _ := seed(t, store)
	ctx := context.Background()

	if err := store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, posting.ID, []Item{{Requirement: "Go", Weight: 1}}, nil)
	}); err != nil {
		t.Fatalf("seed requirements error: %v", err)
	}
	reqs, err := store.ListRequirements(ctx, posting.ID)
	if err != nil {
		t.Fatalf("ListRequirements error: %v", err)
	}
	if err := store.ReplaceMatchStatements(ctx, 7, []model.MatchStatement{{RequirementID: reqs[0].ID, Fit: "excellent_fit", Score: 100}}); err != nil {
		t.Fatalf("ReplaceMatchStatements error: %v", err)
	}

	var rescored []uint
	rescore := func(_ context.Context, _ *storage.Store, postingID, candidateID uint) error {
		if postingID != posting.ID {
			t.Errorf("rescore for posting %d, want %d", postingID, posting.ID)
		}
		rescored = append(rescored, candidateID)
		return nil
	}
	if err := store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, posting.ID, []Item{{Requirement: "Rust", Weight: 1}}, rescore)
	}); err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	if len(rescored) != 1 || rescored[0] != 7 {
		t.Fatalf("expected candidate 7 rescored, got %v", rescored)
	}
	if left, _ := store.ListMatchStatements(ctx, 7); len(left) != 0 {
		t.Fatalf("expected stale statements removed, got %d", len(left))
	}

	failing := func(context.Context, *storage.Store, uint, uint) error { return errors.New("boom") }
	newReqs, _ := store.ListRequirements(ctx, posting.ID)
	if err := store.ReplaceMatchStatements(ctx, 7, []model.MatchStatement{{RequirementID: newReqs[0].ID, Fit: "fit", Score: 50}}); err != nil {
		t.Fatalf("ReplaceMatchStatements error: %v", err)
	}
	if err := store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, posting.ID, []Item{{Requirement: "Zig", Weight: 1}}, failing)
	}); err == nil {
		t.Fatalf("expected rescore failure to abort the replacement")
	}
	after, _ := store.ListRequirements(ctx, posting.ID)
	if len(after) != 1 || after[0].Text != "Rust" {
		t.Fatalf("failed replacement must roll back, got %+v", after)
	}
}

// --- stubs ---

type stubClient struct {
	reply       string
	err         error
	validateErr error
	calls       int
}

func (s *stubClient) Generate(context.Context, llm.Request) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubClient) Validate() error { return s.validateErr }

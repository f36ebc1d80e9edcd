package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/extraction"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
	"talent-radar/internal/queue"
	"talent-radar/internal/storage"
	"talent-radar/internal/taxonomy"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(storage.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "batch.db")})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedPosting(t *testing.T, store *storage.Store, autoMatch bool, names ...string) *model.Posting {
	t.Helper()
	ctx := context.Background()
	posting := &model.Posting{Name: "Security Engineer", AutoMatch: autoMatch}
	if err := store.CreatePosting(ctx, posting); err != nil {
		t.Fatalf("CreatePosting error: %v", err)
	}
	for _, name := range names {
		doc := &model.Document{PostingID: &posting.ID, Kind: model.DocumentCV, Name: name, MIMEType: "application/pdf", Data: []byte("%PDF-1.4 " + name)}
		if err := store.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument error: %v", err)
		}
	}
	return posting
}

func newOrchestrator(store *storage.Store, ex *stubExtractor, q *stubQueue, n *stubNotifier, m Matcher) *Orchestrator {
	return New(store, ex, extraction.NewWriter(nil, nil), q, m, n, Config{MaxErrors: 1}, nil)
}

// runQueued 执行 Start 提交的运行，模拟工作队列。
func runQueued(t *testing.T, o *Orchestrator, q *stubQueue) {
	t.Helper()
	for _, unit := range q.drain() {
		if err := o.Handle(context.Background(), unit); err != nil {
			t.Fatalf("Handle error: %v", err)
		}
	}
}

func TestRunIsolatesDocumentFailures(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf", "broken.pdf")
	ex := &stubExtractor{
		fields: map[string]extraction.Fields{
			"jane.pdf": {Name: "Jane Smith", Email: "jane@example.com", Skills: []taxonomy.Item{{Type: "Programming Languages", Skill: "Go", Level: "Advanced (80%)"}}},
		},
		errs: map[string]error{
			"broken.pdf": apperr.New(apperr.KindExternalService, "llm.generate", "quota exceeded"),
		},
	}
	q := &stubQueue{}
	n := &stubNotifier{}
	o := newOrchestrator(store, ex, q, n, nil)
	ctx := context.Background()

	ticket, err := o.Start(ctx, posting.ID, nil)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if ticket.Total != 2 || ticket.RunID == "" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	runQueued(t, o, q)

	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Total != 2 || p.Processed != 1 || p.Failed != 1 || p.Percent != 100 {
		t.Fatalf("unexpected counters %+v", p)
	}
	if !p.ProcessingComplete || !p.ProcessingFailed {
		t.Fatalf("expected complete and failed flags, got %+v", p)
	}
	if len(p.Errors) != 1 || p.Errors[0].DocumentName != "broken.pdf" || p.Errors[0].Kind != string(apperr.KindExternalService) {
		t.Fatalf("unexpected errors %+v", p.Errors)
	}

	cands, err := store.ListCandidates(ctx, posting.ID)
	if err != nil {
		t.Fatalf("ListCandidates error: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	cand := cands[0]
	if cand.Title != "Jane Smith's Application" || cand.Email != "jane@example.com" || cand.ExtractState != model.ExtractDone {
		t.Fatalf("unexpected candidate %+v", cand)
	}
	if !strings.HasPrefix(cand.ExtractStatus, "Created from bulk import. ") {
		t.Fatalf("unexpected status %q", cand.ExtractStatus)
	}
	if cand.DocumentID == nil {
		t.Fatalf("expected attached document copy")
	}
	doc, err := store.GetDocument(ctx, *cand.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if doc.CandidateID == nil || *doc.CandidateID != cand.ID || doc.PostingID != nil || doc.Name != "jane.pdf" {
		t.Fatalf("unexpected document copy %+v", doc)
	}
	skills, err := store.ListCandidateSkills(ctx, cand.ID)
	if err != nil || len(skills) != 1 {
		t.Fatalf("expected one skill link, got %d (%v)", len(skills), err)
	}

	msg := n.last()
	if msg.Title != titleWithErrors || msg.Level != notifier.LevelWarning {
		t.Fatalf("unexpected notification %+v", msg)
	}
	if !strings.Contains(msg.Body, "- broken.pdf: ") || !strings.Contains(msg.Body, "1 applicants created.") {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

func TestRerunProcessesOnlyPendingDocuments(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf", "broken.pdf")
	ex := &stubExtractor{
		fields: map[string]extraction.Fields{"jane.pdf": {Name: "Jane Smith"}, "broken.pdf": {Name: "John Doe"}},
		errs:   map[string]error{"broken.pdf": errors.New("temporary outage")},
	}
	q := &stubQueue{}
	n := &stubNotifier{}
	o := newOrchestrator(store, ex, q, n, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	runQueued(t, o, q)

	ex.clearErr("broken.pdf")
	ticket, err := o.Start(ctx, posting.ID, nil)
	if err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	if ticket.Total != 1 {
		t.Fatalf("expected only the failed document to be pending, got %+v", ticket)
	}
	runQueued(t, o, q)

	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Total != 1 || p.Processed != 1 || p.Failed != 0 || p.ProcessingFailed || len(p.Errors) != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if n.last().Title != titleComplete {
		t.Fatalf("expected success notification, got %+v", n.last())
	}

	ticket, err = o.Start(ctx, posting.ID, nil)
	if err != nil {
		t.Fatalf("third Start error: %v", err)
	}
	if ticket.Total != 0 || ticket.RunID != "" || len(q.drain()) != 0 {
		t.Fatalf("expected no new work, got %+v", ticket)
	}
	if calls := ex.count("jane.pdf"); calls != 1 {
		t.Fatalf("processed document extracted %d times", calls)
	}
	cands, _ := store.ListCandidates(ctx, posting.ID)
	if len(cands) != 2 {
		t.Fatalf("expected two candidates, got %d", len(cands))
	}
}

func TestStartAbortsOnConfiguration(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf")
	ex := &stubExtractor{validateErr: apperr.New(apperr.KindConfiguration, "extraction.validate", "llm api key is not configured")}
	q := &stubQueue{}
	o := newOrchestrator(store, ex, q, &stubNotifier{}, nil)

	_, err := o.Start(context.Background(), posting.ID, nil)
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(q.drain()) != 0 || ex.count("jane.pdf") != 0 {
		t.Fatalf("expected no work after configuration failure")
	}
	p, err := o.Progress(context.Background(), posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Total != 0 || p.RunID != "" || p.State != StateIdle {
		t.Fatalf("counters changed: %+v", p)
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf")
	q := &stubQueue{}
	o := newOrchestrator(store, &stubExtractor{}, q, &stubNotifier{}, nil)
	ctx := context.Background()

	ticket, err := o.Start(ctx, posting.ID, nil)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	q.setState(ticket.RunID, queue.StateRunning)

	if _, err := o.Start(ctx, posting.ID, nil); !errors.Is(err, ErrRunInProgress) || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	if _, err := o.DeleteAttachments(ctx, posting.ID); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected delete to be rejected, got %v", err)
	}

	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.State != string(queue.StateRunning) || !p.Active() || p.Percent != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
}

func TestStartErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	empty := seedPosting(t, store, false)
	o := newOrchestrator(store, &stubExtractor{}, &stubQueue{}, &stubNotifier{}, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, empty.ID, nil); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected no documents error, got %v", err)
	}
	if _, err := o.Start(ctx, 999, nil); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	withDocs := seedPosting(t, store, false, "jane.pdf")
	full := newOrchestrator(store, &stubExtractor{}, &stubQueue{err: queue.ErrQueueFull}, &stubNotifier{}, nil)
	if _, err := full.Start(ctx, withDocs.ID, nil); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on full queue, got %v", err)
	}
	p, err := full.Progress(ctx, withDocs.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.RunID != "" || p.Total != 0 {
		t.Fatalf("expected reset to roll back, got %+v", p)
	}
}

func TestRunSkipsStaleRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf")
	ex := &stubExtractor{}
	q := &stubQueue{}
	n := &stubNotifier{}
	o := newOrchestrator(store, ex, q, n, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	units := q.drain()
	args := units[0].Args.(RunArgs)
	args.RunID = "superseded"
	if err := o.Run(ctx, args); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ex.count("jane.pdf") != 0 || len(n.all()) != 0 {
		t.Fatalf("stale run should not touch documents")
	}
}

func TestDeleteAttachmentsClearsBatch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf", "john.pdf")
	q := &stubQueue{}
	o := newOrchestrator(store, &stubExtractor{}, q, &stubNotifier{}, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	runQueued(t, o, q)

	deleted, err := o.DeleteAttachments(ctx, posting.ID)
	if err != nil {
		t.Fatalf("DeleteAttachments error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	count, _ := store.CountPostingDocuments(ctx, posting.ID, model.DocumentCV)
	if count != 0 {
		t.Fatalf("expected attachments removed, got %d", count)
	}
	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Total != 0 || p.Processed != 0 || p.ProcessingComplete || p.RunID != "" {
		t.Fatalf("expected cleared batch, got %+v", p)
	}
	cands, _ := store.ListCandidates(ctx, posting.ID)
	if len(cands) != 2 {
		t.Fatalf("candidates should survive attachment deletion, got %d", len(cands))
	}
}

func TestRunTriggersAutoMatch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, true, "jane.pdf")
	ctx := context.Background()
	if err := store.CreateRequirement(ctx, &model.Requirement{PostingID: posting.ID, Text: "Go", Weight: 1, Sequence: 1}); err != nil {
		t.Fatalf("CreateRequirement error: %v", err)
	}
	q := &stubQueue{}
	m := &stubMatcher{}
	o := newOrchestrator(store, &stubExtractor{}, q, &stubNotifier{}, m)

	if _, err := o.Start(ctx, posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	runQueued(t, o, q)
	if len(m.ids) != 1 {
		t.Fatalf("expected auto match for one candidate, got %v", m.ids)
	}
}

func TestMessageTruncatesErrors(t *testing.T) {
	t.Parallel()

	o := New(nil, &stubExtractor{}, nil, &stubQueue{}, nil, nil, Config{MaxErrors: 2}, nil)
	sum := Summary{Failed: 3, Errors: []model.RunError{
		{DocumentName: "a.pdf", Message: "bad"},
		{DocumentName: "b.pdf", Message: "bad"},
		{DocumentName: "c.pdf", Message: "bad"},
	}}
	msg := o.message(&model.Posting{Name: "Ops"}, sum)
	if !strings.Contains(msg.Body, "- b.pdf: bad") || strings.Contains(msg.Body, "c.pdf") || !strings.Contains(msg.Body, "... and 1 more") {
		t.Fatalf("unexpected body %q", msg.Body)
	}

	ok := o.message(&model.Posting{Name: "Ops"}, Summary{Created: []uint{1}})
	if ok.Title != titleComplete || ok.Level != notifier.LevelSuccess || strings.Contains(ok.Body, "Errors:") {
		t.Fatalf("unexpected success message %+v", ok)
	}
}

// 入队时批处理记录必须已提交，另一个连接上的工作协程才能读到新的 RunID。
func TestStartCommitsBeforeQueueing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf")
	var seen string
	q := &stubQueue{onSubmit: func(queue.Unit) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if b, err := store.GetBatch(ctx, posting.ID); err == nil {
			seen = b.RunID
		}
	}}
	o := newOrchestrator(store, &stubExtractor{}, q, &stubNotifier{}, nil)

	ticket, err := o.Start(context.Background(), posting.ID, nil)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if seen != ticket.RunID {
		t.Fatalf("queued run %q but committed run id was %q", ticket.RunID, seen)
	}
}

func TestRunWithWorkerQueue(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "jane.pdf", "john.pdf")
	n := &stubNotifier{}
	q := queue.New(queue.Config{Workers: 1}, nil)
	o := New(store, &stubExtractor{}, extraction.NewWriter(nil, nil), q, nil, n, Config{}, nil)
	q.Register(UnitRun, o.Handle, queue.WithoutTimeout())
	q.Start()
	defer q.Shutdown(context.Background())
	ctx := context.Background()

	ticket, err := o.Start(ctx, posting.ID, nil)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for q.IsActive(ticket.RunID) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.State != string(queue.StateDone) || p.Total != 2 || p.Processed != 2 || p.Failed != 0 || !p.ProcessingComplete {
		t.Fatalf("unexpected progress %+v", p)
	}
	if n.last().Title != titleComplete {
		t.Fatalf("expected terminal notification, got %+v", n.all())
	}
}

// 运行上下文被取消后，剩余文档仍逐个登记失败，终态照常写入。
func TestRunCountsEveryDocumentAfterCancel(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "a.pdf", "b.pdf", "c.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := &stubExtractor{hook: func(context.Context, string) error {
		cancel()
		return context.Canceled
	}}
	q := &stubQueue{}
	n := &stubNotifier{}
	o := newOrchestrator(store, ex, q, n, nil)

	if _, err := o.Start(context.Background(), posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	units := q.drain()
	if err := o.Handle(ctx, units[0]); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	p, err := o.Progress(context.Background(), posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Total != 3 || p.Processed != 0 || p.Failed != 3 || len(p.Errors) != 3 {
		t.Fatalf("unexpected counters %+v", p)
	}
	if !p.ProcessingComplete || !p.ProcessingFailed {
		t.Fatalf("expected terminal flags, got %+v", p)
	}
	if msgs := n.all(); len(msgs) != 1 || !strings.Contains(msgs[0].Body, "0 applicants created.\n3 failed.") {
		t.Fatalf("unexpected notifications %+v", msgs)
	}
}

func TestDocumentTimeoutFailsOnlyThatDocument(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	posting := seedPosting(t, store, false, "slow.pdf", "jane.pdf")
	ex := &stubExtractor{hook: func(ctx context.Context, name string) error {
		if name != "slow.pdf" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	q := &stubQueue{}
	o := New(store, ex, extraction.NewWriter(nil, nil), q, nil, &stubNotifier{}, Config{DocumentTimeout: 300 * time.Millisecond}, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, posting.ID, nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	runQueued(t, o, q)

	p, err := o.Progress(ctx, posting.ID)
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Processed != 1 || p.Failed != 1 || !p.ProcessingComplete {
		t.Fatalf("unexpected counters %+v", p)
	}
	if p.Errors[0].DocumentName != "slow.pdf" || p.Errors[0].Kind != string(apperr.KindExternalService) || !strings.Contains(p.Errors[0].Message, "timed out") {
		t.Fatalf("unexpected error %+v", p.Errors[0])
	}
}

// --- stubs ---

type stubExtractor struct {
	mu          sync.Mutex
	validateErr error
	fields      map[string]extraction.Fields
	errs        map[string]error
	calls       map[string]int
	// hook 在锁外执行，可阻塞或取消上下文。
	hook func(ctx context.Context, name string) error
}

func (s *stubExtractor) Validate() error { return s.validateErr }

func (s *stubExtractor) Extract(ctx context.Context, p document.Payload) (extraction.Result, error) {
	if s.hook != nil {
		if err := s.hook(ctx, p.Name); err != nil {
			s.record(p.Name)
			return extraction.Result{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		s.record(p.Name)
		return extraction.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[p.Name]++
	if err := s.errs[p.Name]; err != nil {
		return extraction.Result{}, err
	}
	fields, ok := s.fields[p.Name]
	if !ok {
		fields = extraction.Fields{Name: strings.TrimSuffix(p.Name, ".pdf")}
	}
	return extraction.Result{Fields: fields, Raw: fmt.Sprintf(`{"name": %q}`, fields.Name)}, nil
}

func (s *stubExtractor) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
}

func (s *stubExtractor) clearErr(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errs, name)
}

func (s *stubExtractor) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

type stubQueue struct {
	mu       sync.Mutex
	err      error
	units    []queue.Unit
	states   map[string]queue.State
	onSubmit func(unit queue.Unit)
}

func (q *stubQueue) Submit(unit queue.Unit) (string, error) {
	if q.onSubmit != nil {
		q.onSubmit(unit)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.units = append(q.units, unit)
	return unit.ID, nil
}

func (q *stubQueue) Status(id string) (queue.State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.states[id]
	return s, ok
}

func (q *stubQueue) IsActive(id string) bool {
	s, ok := q.Status(id)
	return ok && s.Active()
}

func (q *stubQueue) setState(id string, s queue.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.states == nil {
		q.states = map[string]queue.State{}
	}
	q.states[id] = s
}

func (q *stubQueue) drain() []queue.Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	units := q.units
	q.units = nil
	return units
}

type stubNotifier struct {
	mu   sync.Mutex
	msgs []notifier.Message
}

func (n *stubNotifier) Notify(_ context.Context, _ *uint, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *stubNotifier) all() []notifier.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Message(nil), n.msgs...)
}

func (n *stubNotifier) last() notifier.Message {
	msgs := n.all()
	if len(msgs) == 0 {
		return notifier.Message{}
	}
	return msgs[len(msgs)-1]
}

type stubMatcher struct {
	ids []uint
}

func (m *stubMatcher) Request(_ context.Context, ids []uint, _ *uint) ([]uint, error) {
	m.ids = append(m.ids, ids...)
	return ids, nil
}

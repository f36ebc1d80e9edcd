package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/batch"
	"talent-radar/internal/model"
	"talent-radar/internal/storage"
)

func TestSweepClassifiesResults(t *testing.T) {
	t.Parallel()

	recipient := uint(7)
	lister := &stubLister{postings: []model.Posting{{ID: 1, RecipientID: &recipient}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}}
	runner := &stubRunner{results: map[uint]runResult{
		1: {ticket: batch.Ticket{PostingID: 1, RunID: "r1", Total: 2}},
		2: {err: batch.ErrRunInProgress},
		3: {err: batch.ErrNoDocuments},
		4: {ticket: batch.Ticket{PostingID: 4}},
		5: {err: apperr.New(apperr.KindConfiguration, "extraction.validate", "llm api key is not configured")},
	}}
	s, err := New(lister, runner, Config{Interval: "1h"}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if res != (SweepResult{Postings: 5, Started: 1, Skipped: 3, Failed: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !lister.query.AutoProcessOnly {
		t.Fatalf("expected auto-process filter")
	}
	if got := runner.recipient(1); got == nil || *got != recipient {
		t.Fatalf("expected posting recipient to be forwarded")
	}
}

func TestSweepListError(t *testing.T) {
	t.Parallel()

	s, _ := New(&stubLister{err: errors.New("db down")}, &stubRunner{}, Config{}, nil)
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestSweepNoOverlap(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{entered: make(chan struct{}, 1), block: make(chan struct{})}
	s, _ := New(&stubLister{postings: []model.Posting{{ID: 1}}}, runner, Config{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Sweep(context.Background())
	}()
	<-runner.entered

	if _, err := s.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected sweep in progress, got %v", err)
	}
	close(runner.block)
	<-done

	if runner.calls.Load() != 1 {
		t.Fatalf("expected runner called once, got %d", runner.calls.Load())
	}
}

func TestStartTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	tickCh := make(chan time.Time, 4)
	runner := &stubRunner{entered: make(chan struct{}, 4)}
	s, err := New(&stubLister{postings: []model.Posting{{ID: 1}}}, runner, Config{Interval: "100ms"}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	s.newTicker = func(time.Duration) ticker { return &stubTicker{ch: tickCh} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	tickCh <- time.Now()
	<-runner.entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if runner.calls.Load() != 1 {
		t.Fatalf("expected one sweep, got %d", runner.calls.Load())
	}
}

func TestNewParsesInterval(t *testing.T) {
	t.Parallel()

	if _, err := New(&stubLister{}, &stubRunner{}, Config{Interval: "every day"}, nil); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := New(&stubLister{}, &stubRunner{}, Config{Interval: "-5m"}, nil); err == nil {
		t.Fatalf("expected negative interval error")
	}
	cronSched, err := New(&stubLister{}, &stubRunner{}, Config{Interval: "0 */2 * * *"}, nil)
	if err != nil || cronSched.cron == nil {
		t.Fatalf("expected cron schedule, got %v", err)
	}

	disabled, err := New(&stubLister{}, &stubRunner{}, Config{}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if (Config{}).Enabled() {
		t.Fatalf("empty config should be disabled")
	}
	if err := disabled.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start error: %v", err)
	}
}

// --- stubs ---

type stubLister struct {
	postings []model.Posting
	err      error
	query    storage.PostingQuery
}

func (s *stubLister) ListPostings(_ context.Context, q storage.PostingQuery) ([]model.Posting, error) {
	s.query = q
	return s.postings, s.err
}

type runResult struct {
	ticket batch.Ticket
	err    error
}

type stubRunner struct {
	mu         sync.Mutex
	results    map[uint]runResult
	recipients map[uint]*uint
	calls      atomic.Int32
	entered    chan struct{}
	block      chan struct{}
}

func (r *stubRunner) Start(_ context.Context, postingID uint, recipientID *uint) (batch.Ticket, error) {
	r.calls.Add(1)
	r.mu.Lock()
	if r.recipients == nil {
		r.recipients = map[uint]*uint{}
	}
	r.recipients[postingID] = recipientID
	res := r.results[postingID]
	r.mu.Unlock()

	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return res.ticket, res.err
}

func (r *stubRunner) recipient(postingID uint) *uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recipients[postingID]
}

type stubTicker struct {
	ch chan time.Time
}

func (s *stubTicker) C() <-chan time.Time { return s.ch }
func (s *stubTicker) Stop()               {}

package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEmailNotifierSendsToRecipient(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	n := NewEmailNotifier(EmailConfig{From: "from@example.com"}, sender)

	err := n.Send(context.Background(), "hr@example.com", Message{Title: "CV processing complete", Body: "2 applicants created."})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected 1 send call, got %d", sender.calls)
	}
	if sender.last.To[0] != "hr@example.com" {
		t.Fatalf("unexpected recipient %v", sender.last.To)
	}
	if !strings.Contains(sender.last.Subject, "CV processing complete") {
		t.Fatalf("expected title in subject, got %s", sender.last.Subject)
	}
	if !strings.Contains(sender.last.Body, "2 applicants") {
		t.Fatalf("expected body forwarded, got %s", sender.last.Body)
	}
}

func TestEmailNotifierRejectsEmptyAddress(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	n := NewEmailNotifier(EmailConfig{From: "from@example.com"}, sender)
	if err := n.Send(context.Background(), " ", Message{Title: "x"}); err == nil {
		t.Fatalf("expected error for empty address")
	}
	if sender.calls != 0 {
		t.Fatalf("expected no send calls, got %d", sender.calls)
	}
}

func TestEmailNotifierWrapsSenderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("smtp down")
	n := NewEmailNotifier(EmailConfig{From: "from@example.com"}, &stubSender{err: boom})
	if err := n.Send(context.Background(), "hr@example.com", Message{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestBuildEmailData(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	data := buildEmailData(EmailMessage{From: "a@example.com", To: []string{"b@example.com", "c@example.com"}, Subject: "hi", Body: "line1\nline2"}, now)
	for _, want := range []string{
		"From: a@example.com\r\n",
		"To: b@example.com, c@example.com\r\n",
		"Subject: hi\r\n",
		"Date: Mon, 19 Oct 2026 09:30:00 +0000\r\n",
		"\r\n\r\nline1\r\nline2",
	} {
		if !strings.Contains(data, want) {
			t.Fatalf("expected %q in %q", want, data)
		}
	}

	encoded := buildEmailData(EmailMessage{Subject: "Candidatura de José"}, now)
	if !strings.Contains(encoded, "Subject: =?utf-8?q?") {
		t.Fatalf("expected encoded subject in %q", encoded)
	}
}

// --- stubs ---

type stubSender struct {
	calls int
	last  EmailMessage
	err   error
}

func (s *stubSender) Send(ctx context.Context, msg EmailMessage) error {
	s.calls++
	s.last = msg
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

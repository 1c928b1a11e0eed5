package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type countingObserver struct{ n int }

func (o *countingObserver) AuditWriteFailed() { o.n++ }

type slowRepo struct{ gotDeadline bool }

func (r *slowRepo) Append(ctx context.Context, rec Record) error {
	_, r.gotDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

type panicRepo struct{}

func (panicRepo) Append(context.Context, Record) error { panic("boom") }

func TestRecorder_AppendsRecord(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0)
	rec := NewRecorder(repo, nil, WithClock(func() time.Time { return now }))

	rec.Record(context.Background(), Record{
		ActorID:      Int64(42),
		Action:       "access:view_chantier",
		ResourceType: "chantier",
		ResourceID:   Int64(7),
		IPAddress:    "1.2.3.4",
		UserAgent:    "curl/8",
		Details:      map[string]any{"reason": "not_owner"},
	})

	got := repo.Records()
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.ID == "" || !r.CreatedAt.Equal(now.UTC()) {
		t.Fatalf("expected id and timestamp filled, got %+v", r)
	}
	if *r.ActorID != 42 || *r.ResourceID != 7 || r.IPAddress != "1.2.3.4" || r.Reason() != "not_owner" {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestRecorder_SwallowsWriteFailure(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailWith(errors.New("disk full"))

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := &countingObserver{}
	rec := NewRecorder(repo, log, WithFailureObserver(obs))

	rec.Record(context.Background(), Record{Action: "login", ResourceType: "auth", Details: map[string]any{"reason": "invalid_password"}})

	if obs.n != 1 {
		t.Fatalf("expected failure counted once, got %d", obs.n)
	}
	if !strings.Contains(buf.String(), "audit write failed") || !strings.Contains(buf.String(), "invalid_password") {
		t.Fatalf("expected failure logged, got %q", buf.String())
	}
}

func TestRecorder_RejectsIncompleteRecordWithoutPanicking(t *testing.T) {
	repo := NewMemoryRepo()
	obs := &countingObserver{}
	rec := NewRecorder(repo, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithFailureObserver(obs))

	rec.Record(context.Background(), Record{ResourceType: "auth"})
	rec.Record(context.Background(), Record{Action: "login"})

	if len(repo.Records()) != 0 || obs.n != 2 {
		t.Fatalf("expected two rejected records, got %d stored, %d failures", len(repo.Records()), obs.n)
	}
}

func TestRecorder_TimeoutDoesNotBlock(t *testing.T) {
	repo := &slowRepo{}
	rec := NewRecorder(repo, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithTimeout(20*time.Millisecond))

	// A cancelled request context must not abort the write early; the write's own timeout does.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	rec.Record(ctx, Record{Action: "login", ResourceType: "auth"})
	if time.Since(start) > time.Second {
		t.Fatalf("record blocked past its timeout")
	}
	if !repo.gotDeadline {
		t.Fatalf("expected write context to carry a deadline")
	}
}

func TestRecorder_RecoversRepositoryPanic(t *testing.T) {
	obs := &countingObserver{}
	rec := NewRecorder(panicRepo{}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithFailureObserver(obs))
	rec.Record(context.Background(), Record{Action: "login", ResourceType: "auth"})
	if obs.n != 1 {
		t.Fatalf("expected panic counted as failure")
	}
}

func TestRecorder_NilRepository(t *testing.T) {
	obs := &countingObserver{}
	rec := NewRecorder(nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithFailureObserver(obs))
	rec.Record(context.Background(), Record{Action: "login", ResourceType: "auth"})
	if obs.n != 1 {
		t.Fatalf("expected failure for missing repository")
	}
}

func TestMemoryRepo_RecentNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	for _, a := range []string{"a", "b", "c"} {
		_ = repo.Append(context.Background(), Record{Action: a})
	}
	got, _ := repo.Recent(context.Background(), 2)
	if len(got) != 2 || got[0].Action != "c" || got[1].Action != "b" {
		t.Fatalf("unexpected recent records %+v", got)
	}
}

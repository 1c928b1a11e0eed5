package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// FailureObserver is notified of every swallowed write failure (metrics).
type FailureObserver interface {
	AuditWriteFailed()
}

// Recorder appends audit records on behalf of the gateway.
//
// Record never returns an error and never panics into the caller: a write failure is
// logged and counted, and the decision being audited stands.
type Recorder struct {
	repo     Repository
	log      *slog.Logger
	timeout  time.Duration
	clock    func() time.Time
	observer FailureObserver
}

type Option func(*Recorder)

func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.clock = now
		}
	}
}

func WithFailureObserver(o FailureObserver) Option {
	return func(r *Recorder) { r.observer = o }
}

func NewRecorder(repo Repository, log *slog.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{repo: repo, log: log, timeout: 2 * time.Second, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// Record appends rec, filling ID and CreatedAt. The write gets its own timeout and is not
// cancelled by the request context, so a client disconnect does not drop the record.
func (s *Recorder) Record(ctx context.Context, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			s.fail(rec, errors.New("audit: repository panic"), "panic", p)
		}
	}()

	if s.repo == nil {
		s.fail(rec, errors.New("audit: repository not configured"))
		return
	}
	if rec.Action == "" || rec.ResourceType == "" {
		s.fail(rec, ErrInvalidRecord)
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.repo.Append(wctx, rec); err != nil {
		s.fail(rec, err)
	}
}

func (s *Recorder) fail(rec Record, err error, extra ...any) {
	if s.observer != nil {
		s.observer.AuditWriteFailed()
	}
	attrs := append([]any{
		"err", err,
		"action", rec.Action,
		"resource_type", rec.ResourceType,
		"reason", rec.Reason(),
	}, extra...)
	s.log.Error("audit write failed", attrs...)
}

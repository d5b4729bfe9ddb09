// Package jobs follows asynchronous device jobs to completion by polling
// their status URL on a bounded backoff schedule.
//
// A job is done when one of the Follower's classifiers says so. A failure
// verdict stops polling immediately and is returned as *FailedError. When
// the schedule runs out first, the last response is returned with
// Result.Exhausted set rather than as an error.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/f5-conx-go/internal/logctx"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// Schedule is the ordered list of waits between polls. A schedule of n
// entries allows n polls.
type Schedule []time.Duration

// DefaultSchedule returns 5s four times, 10s six times, then 30s thirty
// times.
func DefaultSchedule() Schedule {
	s := make(Schedule, 0, 40)
	for range 4 {
		s = append(s, 5*time.Second)
	}
	for range 6 {
		s = append(s, 10*time.Second)
	}
	for range 30 {
		s = append(s, 30*time.Second)
	}
	return s
}

// Result is the terminal poll response of a job.
type Result struct {
	*mgmt.Response
	// Async holds every poll response that came before Response.
	Async []*mgmt.Response
	// Exhausted is set when the schedule ran out before a terminal response.
	Exhausted bool
}

// Polls returns the number of polls performed.
func (r *Result) Polls() int { return len(r.Async) + 1 }

// FailedError is returned when a classifier reports the job as failed.
type FailedError struct {
	URL      string
	Response *mgmt.Response
	Async    []*mgmt.Response
}

func (e *FailedError) Error() string {
	m := e.Response.Map()
	for _, k := range []string{"errorMessage", "message", "statusMessage"} {
		if msg, ok := m[k].(string); ok && msg != "" {
			return fmt.Sprintf("job %s failed: %s", e.URL, msg)
		}
	}
	return fmt.Sprintf("job %s failed", e.URL)
}

// Option configures a Follower.
type Option func(*Follower)

// WithSchedule replaces the default schedule.
func WithSchedule(s Schedule) Option {
	return func(f *Follower) { f.schedule = append(Schedule(nil), s...) }
}

// WithClassifiers replaces the default classifiers.
func WithClassifiers(cs ...Classifier) Option {
	return func(f *Follower) { f.classifiers = append([]Classifier(nil), cs...) }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(f *Follower) { f.log = l }
}

// Follower polls job URLs through a request executor.
type Follower struct {
	doer        mgmt.Doer
	schedule    Schedule
	classifiers []Classifier
	log         *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New returns a Follower using the default schedule and classifiers unless
// overridden.
func New(doer mgmt.Doer, opts ...Option) *Follower {
	f := &Follower{
		doer:        doer,
		schedule:    DefaultSchedule(),
		classifiers: DefaultClassifiers(),
		log:         slog.New(slog.DiscardHandler),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// With returns a copy of f that tries cs before its own classifiers.
func (f *Follower) With(cs ...Classifier) *Follower {
	cp := *f
	cp.classifiers = append(append([]Classifier(nil), cs...), f.classifiers...)
	return &cp
}

// Follow polls url until a classifier reports success or failure, or the
// schedule is exhausted. Poll request errors end the follow and are
// returned as is. ctx is checked between polls.
func (f *Follower) Follow(ctx context.Context, url string) (*Result, error) {
	ctx = logctx.WithJobData(ctx, &logctx.JobData{URL: url})
	polls := max(len(f.schedule), 1)
	var history []*mgmt.Response

	for i := range polls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := f.doer.Do(ctx, &mgmt.Request{Method: http.MethodGet, URI: url})
		if err != nil {
			f.log.ErrorContext(ctx, "job.poll_failed", slog.Int("poll", i+1), slog.String("err", err.Error()))
			return nil, err
		}

		switch classify(f.classifiers, resp) {
		case Succeed:
			f.log.InfoContext(ctx, "job.done", slog.Int("polls", i+1))
			return &Result{Response: resp, Async: history}, nil
		case Fail:
			f.log.WarnContext(ctx, "job.failed", slog.Int("polls", i+1))
			return nil, &FailedError{URL: url, Response: resp, Async: history}
		}

		if i == polls-1 {
			f.log.WarnContext(ctx, "job.exhausted", slog.Int("polls", i+1))
			return &Result{Response: resp, Async: history, Exhausted: true}, nil
		}
		history = append(history, resp)

		wait := f.schedule[i]
		f.log.DebugContext(ctx, "job.pending", slog.Int("poll", i+1), slog.Duration("wait", wait))
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	panic("unreachable")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

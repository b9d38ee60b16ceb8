package repository

import (
	"io"
	"log/slog"

	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
)

// DefaultMaxAttempts is the default number of SaveEvents attempts of Save.
const DefaultMaxAttempts = 3

// Option is a Repository option.
type Option func(*Repository)

// MaxAttempts returns an Option that bounds the number of SaveEvents attempts
// of a single Save call. Values < 1 are treated as 1.
func MaxAttempts(n int) Option {
	return func(r *Repository) {
		if n < 1 {
			n = 1
		}
		r.maxAttempts = n
	}
}

// Backoff returns an Option that delays every retry of a Save call with the
// given RetryTrigger.
func Backoff(trigger RetryTrigger) Option {
	return func(r *Repository) {
		r.backoff = trigger
	}
}

// Dispatchers returns an Option that resolves the apply handlers of loaded
// aggregates from c instead of dispatch.Default.
func Dispatchers(c *dispatch.Cache) Option {
	return func(r *Repository) {
		r.dispatchers = c
	}
}

// Logger returns an Option that sets the logger of the Repository.
func Logger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithPublisher returns an Option that publishes every saved EventFrame to p.
// Publishing errors are logged and do not fail the save.
func WithPublisher(p Publisher) Option {
	return func(r *Repository) {
		r.publisher = p
	}
}

// Snapshots returns an Option that saves a snapshot of an aggregate after
// every Save for which s reports true. Snapshot errors are logged and do not
// fail the save.
func Snapshots(s snapshot.Schedule) Option {
	return func(r *Repository) {
		r.schedule = s
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

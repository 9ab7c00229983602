package worker

import (
	"context"

	"github.com/okian/trophy/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// FailureFunc is called after a job could not be scored or stored.
type FailureFunc func(ctx context.Context, job Job, err error)

// WithFailureHandler registers fn to run for every failed job.
func WithFailureHandler(fn FailureFunc) Option {
	return func(w *InMemoryWorker) {
		w.onFailure = fn
	}
}

// WithSource makes the worker score each student as src holds it when the
// job is processed, rather than the record carried by the job.
func WithSource(src Source) Option {
	return func(w *InMemoryWorker) {
		w.source = src
	}
}

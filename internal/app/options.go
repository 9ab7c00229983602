package service

import (
	"github.com/okian/trophy/internal/adapters/repository"
	"github.com/okian/trophy/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending scoring jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many students' fingerprints are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithScoreConcurrency bounds parallelism for batch scoring and rebuilds.
func WithScoreConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.scoreConcurrency = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore supplies the ranking store. Without it Start creates a
// TreapStore. The service closes the store on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDirectory supplies the student directory. Without it Start opens an
// in-memory sqlite database. The service closes it on Stop.
func WithDirectory(dir Directory) Option {
	return func(s *Service) {
		if dir != nil {
			s.directory = dir
		}
	}
}

// WithRebuildOnStart rescores every stored student when the service starts.
func WithRebuildOnStart(enabled bool) Option {
	return func(s *Service) {
		s.rebuildOnStart = enabled
	}
}

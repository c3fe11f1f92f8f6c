// Package app is the Repository: the domain API over the Store. Every
// lifecycle transition named in spec.md §4.2 is a method here, and every
// one of them wraps its writes in a single Store transaction (spec.md §9
// "Transactional boundaries" — callers must not compose multiple
// Repository calls into what they treat as one atomic operation).
//
// Grounded on the reference stack's internal/infra/task claim/lease
// semantics (TryClaimTask/RenewTaskLease/ReleaseTaskLease/
// ClaimResumableTasks) and internal/delivery/server/app's functional-
// options construction idiom.
package app

import (
	"ember/internal/logging"
	"ember/internal/store"
)

// Repository is the domain API over the Store.
type Repository struct {
	store              *store.Store
	logger             *logging.Logger
	defaultMaxAttempts int
}

// Option configures a Repository at construction.
type Option func(*Repository)

// WithLogger overrides the default component logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithDefaultMaxAttempts overrides the max_attempts applied to a task
// whose CreateTaskInput leaves it unset (QUEUE_MAX_ATTEMPTS).
func WithDefaultMaxAttempts(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.defaultMaxAttempts = n
		}
	}
}

// New constructs a Repository over the given Store.
func New(s *store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:              s,
		logger:             logging.NewComponentLogger("Repository"),
		defaultMaxAttempts: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

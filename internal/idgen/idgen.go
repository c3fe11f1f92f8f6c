// Package idgen generates the opaque identifiers used throughout the
// system: task ids, run ids, and action ids (spec.md §3, §4.5).
package idgen

import "github.com/google/uuid"

// NewTaskID returns an opaque random 128-bit task identifier.
func NewTaskID() string { return uuid.NewString() }

// NewRunID returns an opaque identifier for one attempt's observable run.
func NewRunID() string { return uuid.NewString() }

// NewActionID returns a fresh unique id for one streamed action envelope.
func NewActionID() string { return uuid.NewString() }

// Package skipstore persists the event instances the user dismissed
// with "skip my next meeting". Ids are instance ids, so skipping one
// occurrence of a recurring series leaves the rest announced.
package skipstore

import (
	"context"
	"time"
)

// Store is the persistence contract shared by the memory, sqlite and
// postgres backends.
type Store interface {
	// Skip records an instance id as dismissed. Recording the same id
	// twice is not an error.
	Skip(ctx context.Context, id string) error
	// Unskip removes a dismissal. Removing an unknown id is not an
	// error.
	Unskip(ctx context.Context, id string) error
	IsSkipped(ctx context.Context, id string) (bool, error)
	// SkippedIDs returns every dismissed id as a set for the refresh
	// filter.
	SkippedIDs(ctx context.Context) (map[string]struct{}, error)
	// Cleanup deletes dismissals recorded before the cutoff and
	// returns how many rows went away.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

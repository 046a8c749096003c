// Package store defines the durable entry log and goal contract used by the
// tracker.
//
// Implementations serialise writers per instance and never expose a half
// written state. A corrupted primary falls back to its backup; when both are
// unreadable the store starts empty and keeps accepting writes.
package store

import (
	"context"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// Store is the entry and goal persistence contract.
type Store interface {
	// AppendEntry assigns the next id to e, persists it and returns the stored
	// entry. Identical entries appended twice become two entries.
	AppendEntry(ctx context.Context, e food.Entry) (food.Entry, error)

	// EditEntry replaces the quantity of entry id. Unknown ids fail with
	// [food.ErrNotFound].
	EditEntry(ctx context.Context, id int64, quantity float64) (food.Entry, error)

	// RemoveEntry deletes entry id. Unknown ids fail with [food.ErrNotFound]
	// and leave the store unchanged.
	RemoveEntry(ctx context.Context, id int64) error

	// LoadAll returns every entry in append order.
	LoadAll(ctx context.Context) ([]food.Entry, error)

	// Goal returns the stored goal, or the zero Goal.
	Goal(ctx context.Context) (food.Goal, error)

	// SetGoal overwrites the goal.
	SetGoal(ctx context.Context, g food.Goal) error

	// Recovery reports how the store came up.
	Recovery() Recovery

	// Close releases resources.
	Close() error
}

// Recovery reports what an opened store had to do to become usable.
type Recovery int

const (
	// RecoveryNone means the primary data was read as-is (or did not exist).
	RecoveryNone Recovery = iota

	// RecoveryFromBackup means the primary was unreadable and the backup was
	// used.
	RecoveryFromBackup

	// RecoveryReset means primary and backup were unreadable; the store
	// started empty.
	RecoveryReset
)

// String returns the lowercase name of the recovery.
func (r Recovery) String() string {
	switch r {
	case RecoveryNone:
		return "none"
	case RecoveryFromBackup:
		return "backup"
	case RecoveryReset:
		return "reset"
	default:
		return "unknown"
	}
}

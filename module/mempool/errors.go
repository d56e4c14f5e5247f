package mempool

import (
	"errors"
	"fmt"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

var (
	// ErrNotFound indicates that the entity was not found in the memory pool.
	ErrNotFound = errors.New("entity not found in memory pool")

	// ErrAlreadyExists indicates that an identical entity is already stored.
	ErrAlreadyExists = errors.New("entity already exists in memory pool")

	// ErrBelowPruningHeight indicates that the entity belongs to a height
	// that has already been evicted from the memory pool.
	ErrBelowPruningHeight = errors.New("height below pruning threshold")
)

// HeaderConflictError indicates that a header was observed for a
// (height, shard) slot already occupied by a different header. This is
// byzantine evidence: both headers are carried so the caller can record them.
type HeaderConflictError struct {
	Existing    ledger.ChunkHeader
	Conflicting ledger.ChunkHeader
}

func (e HeaderConflictError) Error() string {
	return fmt.Sprintf("conflicting chunk headers for height %d shard %d: existing %x, conflicting %x",
		e.Existing.Height, e.Existing.ShardID, e.Existing.ID(), e.Conflicting.ID())
}

// IsHeaderConflictError returns whether the error is a HeaderConflictError.
func IsHeaderConflictError(err error) bool {
	var target HeaderConflictError
	return errors.As(err, &target)
}

// NewHeaderConflictError constructs a HeaderConflictError.
func NewHeaderConflictError(existing ledger.ChunkHeader, conflicting ledger.ChunkHeader) error {
	return HeaderConflictError{
		Existing:    existing,
		Conflicting: conflicting,
	}
}

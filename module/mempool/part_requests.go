package mempool

import (
	"time"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// RequestState is the retry phase of a tracked part request.
type RequestState int

const (
	// RequestQueued means the part is registered but no request has been
	// dispatched yet.
	RequestQueued RequestState = iota + 1
	// RequestDispatched means exactly one request is outstanding.
	RequestDispatched
	// RequestRetrying means a previous request timed out and the next attempt
	// is pending its backoff interval.
	RequestRetrying
	// RequestAbandoned means the maximum attempt count was exhausted. The
	// part can still arrive unsolicited; it is no longer requested.
	RequestAbandoned
)

// PartRequest identifies one missing part to fetch, with the ordered
// candidate holders to fetch it from.
type PartRequest struct {
	ChunkID    ledger.Identifier
	Index      uint32
	Height     uint64
	Candidates ledger.IdentifierList
}

// PartRequestInfo is a snapshot of a tracked request and its retry history.
type PartRequestInfo struct {
	PartRequest
	State       RequestState
	Attempts    uint64
	LastAttempt time.Time
	RetryAfter  time.Duration
}

// PartRequests is an in-memory pool of part requests keyed by
// (chunk ID, part index). At most one entry exists per pair, which is what
// enforces the one-outstanding-request-per-part invariant.
type PartRequests interface {
	// Add registers a request. It aborts and returns false if a request for
	// the same (chunk ID, part index) pair is already tracked.
	Add(request *PartRequest) bool

	// All returns snapshots of all tracked requests.
	All() []PartRequestInfo

	// UpdateRequestHistory applies the updater to the request's attempt count
	// and retry interval, records the given time as the dispatch time, and
	// moves the request to the given state. It returns the updated history,
	// or false if the request is not tracked or the updater rejects the
	// update. The dispatch time is caller-supplied so that retry state stays
	// a pure function of discrete tick events.
	UpdateRequestHistory(chunkID ledger.Identifier, index uint32, now time.Time, state RequestState, updater RequestHistoryUpdaterFunc) (PartRequestInfo, bool)

	// Abandon marks the request as abandoned, terminal for this pair.
	Abandon(chunkID ledger.Identifier, index uint32) bool

	// Remove drops the request for the pair, returning false if not tracked.
	Remove(chunkID ledger.Identifier, index uint32) bool

	// RemoveChunk drops all requests of the chunk and returns their indices.
	RemoveChunk(chunkID ledger.Identifier) []uint32

	// OutstandingIndices returns the indices of the chunk's requests that are
	// not abandoned.
	OutstandingIndices(chunkID ledger.Identifier) []uint32

	// Size returns the total number of tracked requests.
	Size() uint
}

package module

import (
	"time"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// PartRequester tracks which parts are being fetched from which peers and
// retries with backoff. It keeps at most one outstanding request per
// (chunk, part) pair and never runs its own timers: Tick drives all
// time-based transitions.
type PartRequester interface {
	// Request registers a missing part for fetching from the given ordered
	// candidate holders. Registering an already-tracked part is a no-op.
	Request(chunkID ledger.Identifier, index uint32, height uint64, candidates ledger.IdentifierList)

	// Tick dispatches due requests and advances retry state, using the given
	// time as "now".
	Tick(now time.Time)

	// ReceivedResponse marks the part as received, clearing its outstanding
	// request. Returns false if no request was tracked for the pair.
	ReceivedResponse(chunkID ledger.Identifier, index uint32) bool

	// CancelChunk drops all tracked requests of the chunk, typically on
	// reconstruction or eviction.
	CancelChunk(chunkID ledger.Identifier)

	// Outstanding returns the part indices of the chunk with a live
	// (requested or retrying) request.
	Outstanding(chunkID ledger.Identifier) []uint32
}

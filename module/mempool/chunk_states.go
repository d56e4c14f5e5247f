package mempool

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// PartOutcome is the result of submitting a part to the chunk pool. Rejections
// are modeled as outcomes, not errors, since several of them (conflicting
// payloads, forged proofs) are byzantine evidence that upstream wants to
// record rather than faults to unwind from.
type PartOutcome int

const (
	// PartAccepted means the part verified against the header and is now held.
	PartAccepted PartOutcome = iota + 1
	// PartDuplicate means an identical part for the index is already held.
	PartDuplicate
	// PartConflicting means a part with the same index but different payload
	// is already held. The stored part is retrievable for evidence via Part.
	PartConflicting
	// PartInvalidProof means the part's proof does not verify against the
	// registered header; the part was discarded.
	PartInvalidProof
	// PartUnknownChunk means no chunk is tracked under the part's chunk ID.
	PartUnknownChunk
)

func (o PartOutcome) String() string {
	switch o {
	case PartAccepted:
		return "accepted"
	case PartDuplicate:
		return "duplicate"
	case PartConflicting:
		return "conflicting"
	case PartInvalidProof:
		return "invalid-proof"
	case PartUnknownChunk:
		return "unknown-chunk"
	}
	return "invalid"
}

// ProofOutcome is the result of submitting a receipt proof to the chunk pool.
type ProofOutcome int

const (
	// ProofAccepted means the receipt proof verified and is now held.
	ProofAccepted ProofOutcome = iota + 1
	// ProofDuplicate means a proof for the destination shard is already held.
	ProofDuplicate
	// ProofInvalid means the proof does not verify against the header's
	// receipts root for its destination shard; it was discarded.
	ProofInvalid
	// ProofUnknownChunk means no chunk is tracked under the proof's chunk ID.
	ProofUnknownChunk
)

func (o ProofOutcome) String() string {
	switch o {
	case ProofAccepted:
		return "accepted"
	case ProofDuplicate:
		return "duplicate"
	case ProofInvalid:
		return "invalid"
	case ProofUnknownChunk:
		return "unknown-chunk"
	}
	return "invalid"
}

// ChunkStatus is the lifecycle phase of a tracked chunk.
type ChunkStatus int

const (
	// ChunkStatusUnknown means the chunk has never been tracked, or was
	// retired long enough ago that no record remains.
	ChunkStatusUnknown ChunkStatus = iota
	// ChunkStatusInProgress means the chunk is tracked and below threshold.
	ChunkStatusInProgress
	// ChunkStatusComplete means the chunk was reconstructed and validated.
	ChunkStatusComplete
	// ChunkStatusFailed means the chunk terminally failed (root mismatch,
	// malformed payload, or eviction before completion).
	ChunkStatusFailed
)

// Failure reasons for ChunkStatusFailed.
const (
	FailureRootMismatch     = "reconstructed root does not match header"
	FailureMalformedPayload = "reconstructed payload does not decode"
	FailureEvicted          = "evicted below retention height"
)

// ChunkInfo is an observable snapshot of a tracked chunk.
type ChunkInfo struct {
	Status        ChunkStatus
	Held          uint32
	Missing       uint32
	FailureReason string
}

// ChunkStates is the authoritative in-memory index of all in-flight chunks.
// Implementations are safe for concurrent use; every operation is synchronous
// and bounded by the number of parts per chunk.
type ChunkStates interface {
	// ObserveHeader registers tracking state for the chunk if none exists.
	// It is idempotent for identical headers and returns a HeaderConflictError
	// when a different header already occupies the same (height, shard) slot.
	ObserveHeader(header ledger.ChunkHeader) (ledger.Identifier, error)

	// AddPart verifies the part's proof against the registered header and
	// admits it. Reaching the data-part threshold triggers reconstruction.
	AddPart(part *ledger.ChunkPart) PartOutcome

	// AddReceiptProof verifies the proof against the header's receipts root
	// for its destination shard and admits it.
	AddReceiptProof(proof *ledger.ReceiptProof) ProofOutcome

	// Part returns the held, validated part at the given index.
	Part(chunkID ledger.Identifier, index uint32) (*ledger.ChunkPart, bool)

	// MissingParts returns the part indices not yet held for the chunk.
	// The second return value is false if the chunk is not tracked.
	MissingParts(chunkID ledger.Identifier) ([]uint32, bool)

	// Header returns the registered header of a tracked chunk.
	Header(chunkID ledger.Identifier) (ledger.ChunkHeader, bool)

	// TakeReconstructed returns the reconstructed chunk exactly once and
	// retires the tracking state. Subsequent calls return false.
	TakeReconstructed(chunkID ledger.Identifier) (*ledger.Chunk, bool)

	// EvictBelow drops all tracking state below the given height, regardless
	// of completion, and returns the evicted chunk IDs.
	EvictBelow(height uint64) []ledger.Identifier

	// Info returns an observable snapshot of the chunk's progress.
	Info(chunkID ledger.Identifier) ChunkInfo

	// Size returns the number of tracked chunks.
	Size() uint
}

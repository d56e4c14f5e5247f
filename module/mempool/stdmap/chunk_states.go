package stdmap

import (
	"bytes"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/module"
	"github.com/chunkmesh/chunkmesh-go/module/erasure"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
	"github.com/chunkmesh/chunkmesh-go/module/merkle"
)

// ChunkStates is the in-memory chunk pool: one entry per in-flight chunk,
// keyed by chunk ID, with a secondary index by (height, shard) for conflict
// detection. Parts are verified on admission, and reconstruction runs at most
// once, as soon as the data-part threshold is met.
//
// Retired chunks (reconstructed and taken, or evicted) are remembered in a
// bounded cache so that late parts are cheaply classified as unknown instead
// of reopening state.
type ChunkStates struct {
	backend  *Backend[ledger.Identifier, *chunkState]
	verifier module.ProofVerifier
	retired  *lru.Cache

	// guarded by the backend lock
	slots map[chunkSlot]ledger.ChunkHeader
	floor uint64
}

var _ mempool.ChunkStates = (*ChunkStates)(nil)

// chunkSlot is the (height, shard) coordinate a chunk occupies. At most one
// header may ever be registered per slot; the occupying header is retained
// until the slot's height is evicted, so conflicting headers still surface
// after the chunk completes.
type chunkSlot struct {
	Height  uint64
	ShardID uint64
}

// chunkState is the tracking state of one open chunk.
type chunkState struct {
	header        ledger.ChunkHeader
	parts         map[uint32]*ledger.ChunkPart
	receiptProofs map[uint64]*ledger.ReceiptProof
	reconstructed *ledger.Chunk
	failure       string // non-empty marks a terminal validation failure
}

// retirement records why a chunk left the pool.
type retirement struct {
	status mempool.ChunkStatus
	reason string
}

// NewChunkStates creates a chunk pool. retiredLimit bounds the cache of
// retired chunk IDs.
func NewChunkStates(verifier module.ProofVerifier, retiredLimit int) (*ChunkStates, error) {
	retired, err := lru.New(retiredLimit)
	if err != nil {
		return nil, fmt.Errorf("could not create retired chunk cache: %w", err)
	}
	return &ChunkStates{
		backend:  NewBackend[ledger.Identifier, *chunkState](),
		verifier: verifier,
		retired:  retired,
		slots:    make(map[chunkSlot]ledger.ChunkHeader),
	}, nil
}

// ObserveHeader registers tracking state for the chunk described by the
// header. Observing an identical header again is a no-op. Observing a
// different header for an occupied (height, shard) slot fails with a
// HeaderConflictError carrying both headers.
func (cs *ChunkStates) ObserveHeader(header ledger.ChunkHeader) (ledger.Identifier, error) {
	chunkID := header.ID()

	if header.DataPartsCount == 0 || header.PartsCount < header.DataPartsCount {
		return ledger.ZeroID, fmt.Errorf("malformed header, invalid part counts (data=%d, total=%d)",
			header.DataPartsCount, header.PartsCount)
	}

	err := cs.backend.Run(func(backdata map[ledger.Identifier]*chunkState) error {
		if header.Height < cs.floor {
			return mempool.ErrBelowPruningHeight
		}

		// identical header already tracked or recently retired
		if _, ok := backdata[chunkID]; ok {
			return nil
		}
		if _, ok := cs.retired.Get(chunkID); ok {
			return nil
		}

		slot := chunkSlot{Height: header.Height, ShardID: header.ShardID}
		if existing, ok := cs.slots[slot]; ok {
			if existing.ID() == chunkID {
				// the chunk was taken or evicted; do not reopen state
				return nil
			}
			return mempool.NewHeaderConflictError(existing, header)
		}

		backdata[chunkID] = &chunkState{
			header:        header,
			parts:         make(map[uint32]*ledger.ChunkPart),
			receiptProofs: make(map[uint64]*ledger.ReceiptProof),
		}
		cs.slots[slot] = header
		return nil
	})
	if err != nil {
		return ledger.ZeroID, err
	}

	return chunkID, nil
}

// AddPart verifies the part against the registered header and admits it.
// Unverified parts are discarded, never stored. Admitting the part that
// reaches the data-part threshold triggers reconstruction.
func (cs *ChunkStates) AddPart(part *ledger.ChunkPart) mempool.PartOutcome {
	outcome := mempool.PartUnknownChunk

	_ = cs.backend.Run(func(backdata map[ledger.Identifier]*chunkState) error {
		state, ok := backdata[part.ChunkID]
		if !ok {
			return nil
		}
		header := state.header

		if part.Index >= header.PartsCount || part.Proof.Index != part.Index {
			outcome = mempool.PartInvalidProof
			return nil
		}

		if held, ok := state.parts[part.Index]; ok && bytes.Equal(held.Payload, part.Payload) {
			outcome = mempool.PartDuplicate
			return nil
		}

		if !cs.verifier.VerifyMerkleProof(part.LeafHash(), part.Proof, header.EncodedRoot) {
			outcome = mempool.PartInvalidProof
			return nil
		}

		// only a proof-valid payload diverging from the held one counts as
		// conflict evidence; unproven junk for a held index is just invalid
		if _, ok := state.parts[part.Index]; ok {
			outcome = mempool.PartConflicting
			return nil
		}

		state.parts[part.Index] = part
		outcome = mempool.PartAccepted

		// reconstruction runs at most once per chunk
		if state.reconstructed == nil && state.failure == "" &&
			uint32(len(state.parts)) >= header.DataPartsCount {
			state.reconstruct()
		}
		return nil
	})

	return outcome
}

// AddReceiptProof verifies the receipt proof against the header's receipts
// root for its destination shard and admits it.
func (cs *ChunkStates) AddReceiptProof(proof *ledger.ReceiptProof) mempool.ProofOutcome {
	outcome := mempool.ProofUnknownChunk

	_ = cs.backend.Run(func(backdata map[ledger.Identifier]*chunkState) error {
		state, ok := backdata[proof.ChunkID]
		if !ok {
			return nil
		}

		if _, ok := state.receiptProofs[proof.DestinationShard]; ok {
			outcome = mempool.ProofDuplicate
			return nil
		}

		if !cs.verifyReceiptProof(state.header, proof) {
			outcome = mempool.ProofInvalid
			return nil
		}

		state.receiptProofs[proof.DestinationShard] = proof
		outcome = mempool.ProofAccepted
		return nil
	})

	return outcome
}

// verifyReceiptProof checks that the carried receipt list recomputes the
// header's receipts root for the destination shard, and that the carried
// proof pins the final leaf (and thereby the committed list length).
func (cs *ChunkStates) verifyReceiptProof(header ledger.ChunkHeader, proof *ledger.ReceiptProof) bool {
	root, ok := header.ReceiptsRoot(proof.DestinationShard)
	if !ok || len(proof.Receipts) == 0 {
		return false
	}
	for _, receipt := range proof.Receipts {
		if receipt.DestinationShard != proof.DestinationShard {
			return false
		}
	}

	leaves := proof.Receipts.Leaves()
	tree, err := merkle.NewTree(leaves)
	if err != nil || tree.Root() != root {
		return false
	}

	last := uint32(len(leaves) - 1)
	if proof.Proof.Index != last {
		return false
	}
	return cs.verifier.VerifyMerkleProof(leaves[last], proof.Proof, root)
}

// reconstruct decodes the payload from the held parts, re-verifies the
// resulting content against the header's commitments, and stores the
// completed chunk. Any verification failure is terminal for the chunk.
func (s *chunkState) reconstruct() {
	header := s.header

	payloads := make(map[uint32][]byte, len(s.parts))
	for index, part := range s.parts {
		payloads[index] = part.Payload
	}

	payload, err := erasure.Decode(payloads, header.DataPartsCount, header.PartsCount, header.EncodedLength)
	if err != nil {
		s.failure = mempool.FailureRootMismatch
		return
	}

	// the recomputed encoded root must match the header commitment
	parts, err := erasure.Encode(payload, header.DataPartsCount, header.ParityPartsCount())
	if err != nil {
		s.failure = mempool.FailureRootMismatch
		return
	}
	leaves := make([]ledger.Identifier, len(parts))
	for i, part := range parts {
		leaves[i] = ledger.HashToID(part)
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil || tree.Root() != header.EncodedRoot {
		s.failure = mempool.FailureRootMismatch
		return
	}

	body, err := ledger.DecodeChunkBody(payload)
	if err != nil {
		s.failure = mempool.FailureMalformedPayload
		return
	}

	s.reconstructed = &ledger.Chunk{
		Header:                header,
		Transactions:          body.Transactions,
		ReceiptsByDestination: body.Receipts.GroupByDestination(),
	}
}

// Part returns the held, validated part at the given index.
func (cs *ChunkStates) Part(chunkID ledger.Identifier, index uint32) (*ledger.ChunkPart, bool) {
	var part *ledger.ChunkPart
	cs.backend.View(func(backdata map[ledger.Identifier]*chunkState) {
		state, ok := backdata[chunkID]
		if !ok {
			return
		}
		part = state.parts[index]
	})
	return part, part != nil
}

// MissingParts returns the part indices not yet held for the chunk.
func (cs *ChunkStates) MissingParts(chunkID ledger.Identifier) ([]uint32, bool) {
	var missing []uint32
	tracked := false
	cs.backend.View(func(backdata map[ledger.Identifier]*chunkState) {
		state, ok := backdata[chunkID]
		if !ok {
			return
		}
		tracked = true
		if state.reconstructed != nil {
			return
		}
		for index := uint32(0); index < state.header.PartsCount; index++ {
			if _, held := state.parts[index]; !held {
				missing = append(missing, index)
			}
		}
	})
	return missing, tracked
}

// Header returns the registered header of a tracked chunk.
func (cs *ChunkStates) Header(chunkID ledger.Identifier) (ledger.ChunkHeader, bool) {
	var header ledger.ChunkHeader
	found := false
	cs.backend.View(func(backdata map[ledger.Identifier]*chunkState) {
		state, ok := backdata[chunkID]
		if !ok {
			return
		}
		header = state.header
		found = true
	})
	return header, found
}

// TakeReconstructed returns the reconstructed chunk exactly once, retiring
// the tracking state. Subsequent calls return false. The (height, shard)
// slot stays occupied until its height is evicted, so a divergent header for
// the completed slot is still reported as a conflict.
func (cs *ChunkStates) TakeReconstructed(chunkID ledger.Identifier) (*ledger.Chunk, bool) {
	var chunk *ledger.Chunk

	_ = cs.backend.Run(func(backdata map[ledger.Identifier]*chunkState) error {
		state, ok := backdata[chunkID]
		if !ok || state.reconstructed == nil {
			return nil
		}
		chunk = state.reconstructed

		delete(backdata, chunkID)
		cs.retired.Add(chunkID, retirement{status: mempool.ChunkStatusComplete})
		return nil
	})

	return chunk, chunk != nil
}

// EvictBelow drops all tracking state below the given height, regardless of
// completion status, and returns the evicted chunk IDs. Anything arriving for
// an evicted chunk afterwards is classified as unknown.
func (cs *ChunkStates) EvictBelow(height uint64) []ledger.Identifier {
	var evicted []ledger.Identifier

	_ = cs.backend.Run(func(backdata map[ledger.Identifier]*chunkState) error {
		if height > cs.floor {
			cs.floor = height
		}
		for chunkID, state := range backdata {
			if state.header.Height >= height {
				continue
			}
			delete(backdata, chunkID)
			cs.retired.Add(chunkID, retirement{
				status: mempool.ChunkStatusFailed,
				reason: mempool.FailureEvicted,
			})
			evicted = append(evicted, chunkID)
		}
		// slots of completed chunks outlive their tracking state, so the slot
		// index is pruned by height on its own
		for slot := range cs.slots {
			if slot.Height < height {
				delete(cs.slots, slot)
			}
		}
		return nil
	})

	return evicted
}

// Info returns an observable snapshot of the chunk's progress.
func (cs *ChunkStates) Info(chunkID ledger.Identifier) mempool.ChunkInfo {
	info := mempool.ChunkInfo{Status: mempool.ChunkStatusUnknown}

	cs.backend.View(func(backdata map[ledger.Identifier]*chunkState) {
		state, ok := backdata[chunkID]
		if !ok {
			if r, ok := cs.retired.Get(chunkID); ok {
				ret := r.(retirement)
				info.Status = ret.status
				info.FailureReason = ret.reason
			}
			return
		}

		held := uint32(len(state.parts))
		info.Held = held
		info.Missing = state.header.PartsCount - held
		switch {
		case state.failure != "":
			info.Status = mempool.ChunkStatusFailed
			info.FailureReason = state.failure
		case state.reconstructed != nil:
			info.Status = mempool.ChunkStatusComplete
		default:
			info.Status = mempool.ChunkStatusInProgress
		}
	})

	return info
}

// Size returns the number of tracked chunks.
func (cs *ChunkStates) Size() uint {
	return cs.backend.Size()
}

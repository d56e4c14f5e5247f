package stdmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/module/builder"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
	"github.com/chunkmesh/chunkmesh-go/module/mempool/stdmap"
	"github.com/chunkmesh/chunkmesh-go/module/merkle"
	"github.com/chunkmesh/chunkmesh-go/utils/unittest"
)

func newPool(t *testing.T) *stdmap.ChunkStates {
	pool, err := stdmap.NewChunkStates(merkle.Verifier{}, 100)
	require.NoError(t, err)
	return pool
}

// TestObserveHeaderIdempotent checks that re-observing the identical header
// is a no-op, including after the chunk has been retired.
func TestObserveHeaderIdempotent(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)

	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	assert.Equal(t, produced.Header.ID(), chunkID)
	assert.Equal(t, uint(1), pool.Size())

	again, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	assert.Equal(t, chunkID, again)
	assert.Equal(t, uint(1), pool.Size())

	// complete, take, and re-observe: no state is reopened
	for _, part := range produced.Parts {
		pool.AddPart(part)
	}
	_, ok := pool.TakeReconstructed(chunkID)
	require.True(t, ok)

	_, err = pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	assert.Equal(t, uint(0), pool.Size())
}

// TestObserveHeaderConflict checks that two different headers for the same
// (height, shard) slot surface as byzantine evidence carrying both headers.
func TestObserveHeaderConflict(t *testing.T) {
	pool := newPool(t)
	first := unittest.ProducedChunkFixture(t, 1, 10, 3, 2).Header
	second := unittest.ProducedChunkFixture(t, 1, 10, 3, 2).Header
	require.NotEqual(t, first.ID(), second.ID())

	_, err := pool.ObserveHeader(first)
	require.NoError(t, err)

	_, err = pool.ObserveHeader(second)
	require.True(t, mempool.IsHeaderConflictError(err))
	var conflict mempool.HeaderConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID(), conflict.Existing.ID())
	assert.Equal(t, second.ID(), conflict.Conflicting.ID())

	// a different slot does not conflict
	other := unittest.ProducedChunkFixture(t, 2, 10, 3, 2).Header
	_, err = pool.ObserveHeader(other)
	require.NoError(t, err)
}

// TestObserveHeaderValidation checks malformed part counts and the pruning
// floor.
func TestObserveHeaderValidation(t *testing.T) {
	pool := newPool(t)

	malformed := unittest.ProducedChunkFixture(t, 1, 10, 3, 2).Header
	malformed.DataPartsCount = 0
	_, err := pool.ObserveHeader(malformed)
	require.Error(t, err)

	malformed = unittest.ProducedChunkFixture(t, 1, 11, 3, 2).Header
	malformed.DataPartsCount = malformed.PartsCount + 1
	_, err = pool.ObserveHeader(malformed)
	require.Error(t, err)

	pool.EvictBelow(100)
	low := unittest.ProducedChunkFixture(t, 1, 99, 3, 2).Header
	_, err = pool.ObserveHeader(low)
	require.ErrorIs(t, err, mempool.ErrBelowPruningHeight)
}

// TestAddPartOutcomes walks through all admission outcomes for parts.
func TestAddPartOutcomes(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)
	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)

	// unknown chunk
	stray := *produced.Parts[0]
	stray.ChunkID = unittest.IdentifierFixture()
	assert.Equal(t, mempool.PartUnknownChunk, pool.AddPart(&stray))

	// accepted
	assert.Equal(t, mempool.PartAccepted, pool.AddPart(produced.Parts[0]))

	// identical payload again
	assert.Equal(t, mempool.PartDuplicate, pool.AddPart(produced.Parts[0]))

	// same index, different payload, but no proof that verifies for it
	junk := *produced.Parts[0]
	junk.Payload = unittest.BytesFixture(len(produced.Parts[0].Payload))
	assert.Equal(t, mempool.PartInvalidProof, pool.AddPart(&junk))

	// the held part is unchanged
	held, ok := pool.Part(chunkID, 0)
	require.True(t, ok)
	assert.Equal(t, produced.Parts[0].Payload, held.Payload)

	// out-of-range index
	outOfRange := *produced.Parts[1]
	outOfRange.Index = produced.Header.PartsCount
	outOfRange.Proof.Index = outOfRange.Index
	assert.Equal(t, mempool.PartInvalidProof, pool.AddPart(&outOfRange))

	// proof index not matching the part index
	mismatched := *produced.Parts[1]
	mismatched.Proof.Index = 2
	assert.Equal(t, mempool.PartInvalidProof, pool.AddPart(&mismatched))

	// forged payload with a proof for a different leaf
	forged := *produced.Parts[1]
	forged.Payload = unittest.BytesFixture(len(produced.Parts[1].Payload))
	assert.Equal(t, mempool.PartInvalidProof, pool.AddPart(&forged))

	// rejected parts are never stored
	_, ok = pool.Part(chunkID, 1)
	assert.False(t, ok)
	missing, tracked := pool.MissingParts(chunkID)
	require.True(t, tracked)
	assert.Equal(t, []uint32{1, 2, 3, 4}, missing)
}

// acceptAllVerifier lets any proof pass, isolating the pool's own admission
// logic from proof soundness.
type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyMerkleProof(leaf ledger.Identifier, proof ledger.MerkleProof, root ledger.Identifier) bool {
	return true
}

// TestConflictingPartRequiresValidProof checks that conflict evidence is only
// raised for proof-valid divergent payloads: a junk payload for a held index
// is rejected as invalid, while a proven divergent payload is conflicting.
func TestConflictingPartRequiresValidProof(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)
	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	require.Equal(t, mempool.PartAccepted, pool.AddPart(produced.Parts[0]))

	junk := *produced.Parts[0]
	junk.Payload = unittest.BytesFixture(len(produced.Parts[0].Payload))
	assert.Equal(t, mempool.PartInvalidProof, pool.AddPart(&junk))

	// with proof checking out, the divergent payload is conflict evidence
	permissive, err := stdmap.NewChunkStates(acceptAllVerifier{}, 100)
	require.NoError(t, err)
	_, err = permissive.ObserveHeader(produced.Header)
	require.NoError(t, err)
	require.Equal(t, mempool.PartAccepted, permissive.AddPart(produced.Parts[0]))
	assert.Equal(t, mempool.PartConflicting, permissive.AddPart(&junk))

	// the held part is unchanged in both pools
	for _, p := range []*stdmap.ChunkStates{pool, permissive} {
		held, ok := p.Part(chunkID, 0)
		require.True(t, ok)
		assert.Equal(t, produced.Parts[0].Payload, held.Payload)
	}
}

// TestSlotConflictSurvivesCompletion checks that a divergent header for a
// (height, shard) slot still surfaces as a conflict after the slot's chunk
// was reconstructed and taken, until the height is evicted.
func TestSlotConflictSurvivesCompletion(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)
	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	for _, part := range produced.Parts {
		pool.AddPart(part)
	}
	_, ok := pool.TakeReconstructed(chunkID)
	require.True(t, ok)

	// divergent header for the completed slot is still byzantine evidence
	divergent := unittest.ProducedChunkFixture(t, 1, 10, 3, 2).Header
	_, err = pool.ObserveHeader(divergent)
	require.True(t, mempool.IsHeaderConflictError(err))
	var conflict mempool.HeaderConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, chunkID, conflict.Existing.ID())
	assert.Equal(t, uint(0), pool.Size())

	// the identical header remains a no-op
	_, err = pool.ObserveHeader(produced.Header)
	require.NoError(t, err)
	assert.Equal(t, uint(0), pool.Size())

	// once the height is evicted the slot is released, and re-registration is
	// blocked by the pruning floor instead
	pool.EvictBelow(11)
	_, err = pool.ObserveHeader(divergent)
	require.ErrorIs(t, err, mempool.ErrBelowPruningHeight)
}

// TestReconstructionAtThreshold checks that the chunk reconstructs as soon as
// any D distinct parts are admitted, and that the resulting chunk matches the
// produced content.
func TestReconstructionAtThreshold(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)
	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)

	// feed parity-heavy subset: indices 1, 3, 4
	for _, index := range []int{1, 3} {
		require.Equal(t, mempool.PartAccepted, pool.AddPart(produced.Parts[index]))
		assert.Equal(t, mempool.ChunkStatusInProgress, pool.Info(chunkID).Status)
		_, ok := pool.TakeReconstructed(chunkID)
		assert.False(t, ok, "chunk must not reconstruct below the threshold")
	}

	require.Equal(t, mempool.PartAccepted, pool.AddPart(produced.Parts[4]))
	assert.Equal(t, mempool.ChunkStatusComplete, pool.Info(chunkID).Status)

	chunk, ok := pool.TakeReconstructed(chunkID)
	require.True(t, ok)
	assert.Equal(t, produced.Header, chunk.Header)
	assert.Len(t, chunk.Transactions, 4)
	assert.Len(t, chunk.ReceiptsByDestination, 2)

	// exactly once
	_, ok = pool.TakeReconstructed(chunkID)
	assert.False(t, ok)
	assert.Equal(t, mempool.ChunkStatusComplete, pool.Info(chunkID).Status)
	assert.Equal(t, uint(0), pool.Size())
}

// TestReconstructionRootMismatch checks that a header whose commitment does
// not match the coded payload fails terminally instead of completing.
func TestReconstructionRootMismatch(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 0)

	// commit to a forged encoded length so the re-encoding check fails
	header := produced.Header
	header.EncodedLength = header.EncodedLength - 1
	chunkID, err := pool.ObserveHeader(header)
	require.NoError(t, err)

	for _, part := range produced.Parts {
		p := *part
		p.ChunkID = chunkID
		pool.AddPart(&p)
	}

	info := pool.Info(chunkID)
	assert.Equal(t, mempool.ChunkStatusFailed, info.Status)
	assert.Equal(t, mempool.FailureRootMismatch, info.FailureReason)
	_, ok := pool.TakeReconstructed(chunkID)
	assert.False(t, ok)
}

// TestEvictBelow checks that eviction drops all state below the height,
// raises the pruning floor, and classifies later arrivals as unknown.
func TestEvictBelow(t *testing.T) {
	pool := newPool(t)
	low := unittest.ProducedChunkFixture(t, 1, 5, 3, 2)
	high := unittest.ProducedChunkFixture(t, 1, 20, 3, 2)

	lowID, err := pool.ObserveHeader(low.Header)
	require.NoError(t, err)
	highID, err := pool.ObserveHeader(high.Header)
	require.NoError(t, err)
	require.Equal(t, mempool.PartAccepted, pool.AddPart(low.Parts[0]))

	evicted := pool.EvictBelow(10)
	require.Equal(t, []ledger.Identifier{lowID}, evicted)
	assert.Equal(t, uint(1), pool.Size())

	// late part for the evicted chunk is unknown, not resurrected
	assert.Equal(t, mempool.PartUnknownChunk, pool.AddPart(low.Parts[1]))
	_, tracked := pool.MissingParts(lowID)
	assert.False(t, tracked)

	info := pool.Info(lowID)
	assert.Equal(t, mempool.ChunkStatusFailed, info.Status)
	assert.Equal(t, mempool.FailureEvicted, info.FailureReason)

	// the surviving chunk is untouched
	assert.Equal(t, mempool.ChunkStatusInProgress, pool.Info(highID).Status)

	// evicting again below the floor is a no-op
	assert.Empty(t, pool.EvictBelow(10))
}

// TestAddReceiptProofOutcomes walks through the receipt proof admission
// outcomes.
func TestAddReceiptProofOutcomes(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)
	require.NotEmpty(t, produced.ReceiptProofs)
	proof := produced.ReceiptProofs[0]

	// unknown chunk
	assert.Equal(t, mempool.ProofUnknownChunk, pool.AddReceiptProof(proof))

	_, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)

	// accepted, then duplicate
	assert.Equal(t, mempool.ProofAccepted, pool.AddReceiptProof(proof))
	assert.Equal(t, mempool.ProofDuplicate, pool.AddReceiptProof(proof))

	// destination without a committed root
	unknownDest := *produced.ReceiptProofs[1]
	unknownDest.DestinationShard = 999
	assert.Equal(t, mempool.ProofInvalid, pool.AddReceiptProof(&unknownDest))

	// tampered receipt list no longer recomputes the committed root
	tampered := *produced.ReceiptProofs[1]
	tampered.Receipts = append(ledger.ReceiptList{}, tampered.Receipts...)
	tampered.Receipts[0] = unittest.ReceiptFixture(1, tampered.DestinationShard)
	assert.Equal(t, mempool.ProofInvalid, pool.AddReceiptProof(&tampered))

	// truncated receipt list fails the pinned-length check
	truncated := *produced.ReceiptProofs[1]
	truncated.Receipts = truncated.Receipts[:len(truncated.Receipts)-1]
	assert.Equal(t, mempool.ProofInvalid, pool.AddReceiptProof(&truncated))
}

// TestHeaderLookup checks Header for tracked and unknown chunks.
func TestHeaderLookup(t *testing.T) {
	pool := newPool(t)
	produced := unittest.ProducedChunkFixture(t, 1, 10, 3, 2)

	_, found := pool.Header(produced.Header.ID())
	assert.False(t, found)

	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)

	header, found := pool.Header(chunkID)
	require.True(t, found)
	assert.Equal(t, produced.Header, header)
}

// TestInfoUnknown checks that a never-seen chunk reports as unknown.
func TestInfoUnknown(t *testing.T) {
	pool := newPool(t)
	info := pool.Info(unittest.IdentifierFixture())
	assert.Equal(t, mempool.ChunkStatusUnknown, info.Status)
}

func producedWithParity(t *testing.T, parity uint32) *builder.ProducedChunk {
	return unittest.ProducedChunkFixture(t, 1, 10, 3, parity)
}

// TestZeroParityRequiresAllDataParts checks the P=0 edge case: every data
// part is needed, and the chunk completes only with the full set.
func TestZeroParityRequiresAllDataParts(t *testing.T) {
	pool := newPool(t)
	produced := producedWithParity(t, 0)
	chunkID, err := pool.ObserveHeader(produced.Header)
	require.NoError(t, err)

	for i, part := range produced.Parts {
		require.Equal(t, mempool.PartAccepted, pool.AddPart(part))
		if i < len(produced.Parts)-1 {
			assert.Equal(t, mempool.ChunkStatusInProgress, pool.Info(chunkID).Status)
		}
	}
	assert.Equal(t, mempool.ChunkStatusComplete, pool.Info(chunkID).Status)
}

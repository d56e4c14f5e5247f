package ledger

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MerkleProof is an inclusion proof for a single leaf of a binary merkle tree.
// Path holds the sibling hashes from the leaf level up to the root; the bits
// of Index select the branching direction at every level.
type MerkleProof struct {
	Index uint32
	Path  []Identifier
}

// ShardRoot commits to the outgoing receipts destined for a single shard.
type ShardRoot struct {
	DestinationShard uint64
	Root             Identifier
}

// ChunkHeaderBody is the signed portion of a chunk header. It commits to the
// erasure-encoded payload (EncodedRoot over the part hashes, EncodedLength for
// stripping the coding padding) and to the outgoing receipts per destination
// shard.
type ChunkHeaderBody struct {
	ShardID        uint64
	Height         uint64
	PrevBlockID    Identifier
	EncodedLength  uint64
	EncodedRoot    Identifier
	PartsCount     uint32 // total number of parts (data + parity)
	DataPartsCount uint32 // number of parts sufficient for reconstruction
	ReceiptsRoots  []ShardRoot
}

// ChunkHeader announces a chunk produced for a shard at a height. It is
// immutable once constructed; every tracking structure copies it by value.
type ChunkHeader struct {
	ChunkHeaderBody
	Signature []byte
}

// ID returns the chunk identifier, a commitment to the header body. The
// signature is excluded so that the identifier is stable across producers
// re-signing identical content.
func (h ChunkHeader) ID() Identifier {
	return MakeID(h.ChunkHeaderBody)
}

// ParityPartsCount returns the number of parity parts declared by the header.
func (h ChunkHeader) ParityPartsCount() uint32 {
	return h.PartsCount - h.DataPartsCount
}

// ReceiptsRoot returns the receipts root for the given destination shard.
func (h ChunkHeader) ReceiptsRoot(destination uint64) (Identifier, bool) {
	for _, sr := range h.ReceiptsRoots {
		if sr.DestinationShard == destination {
			return sr.Root, true
		}
	}
	return ZeroID, false
}

// ChunkPart is one erasure-coded fragment of a chunk payload, together with
// the inclusion proof binding it to the header's EncodedRoot. A part is only
// meaningful relative to the chunk it claims to belong to.
type ChunkPart struct {
	ChunkID Identifier
	Index   uint32
	Payload []byte
	Proof   MerkleProof
}

// LeafHash returns the merkle leaf hash of the part payload.
func (p ChunkPart) LeafHash() Identifier {
	return HashToID(p.Payload)
}

// ReceiptProof carries the full ordered receipt list for one destination
// shard, plus the proof binding the final leaf to the corresponding receipts
// root in the header. Verification recomputes the root from the list; the
// carried proof additionally pins the committed list length.
type ReceiptProof struct {
	ChunkID          Identifier
	DestinationShard uint64
	Receipts         ReceiptList
	Proof            MerkleProof
}

// ChunkBody is the canonical decoded content of a chunk payload: the shard's
// transactions and its outgoing receipts.
type ChunkBody struct {
	Transactions []*Transaction
	Receipts     ReceiptList
}

// Encode serializes the body into the byte payload that gets erasure-coded.
func (b ChunkBody) Encode() ([]byte, error) {
	data, err := canonical.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("could not encode chunk body: %w", err)
	}
	return data, nil
}

// DecodeChunkBody deserializes a reconstructed chunk payload.
func DecodeChunkBody(data []byte) (ChunkBody, error) {
	var body ChunkBody
	err := cbor.Unmarshal(data, &body)
	if err != nil {
		return ChunkBody{}, fmt.Errorf("could not decode chunk body: %w", err)
	}
	return body, nil
}

// Chunk is a fully reconstructed and validated chunk, ready for hand-off to
// the execution and storage collaborators. It is produced exactly once per
// chunk identifier.
type Chunk struct {
	Header                ChunkHeader
	Transactions          []*Transaction
	ReceiptsByDestination map[uint64]ReceiptList
}

// ID returns the chunk identifier, identical to the header's.
func (c *Chunk) ID() Identifier {
	return c.Header.ID()
}

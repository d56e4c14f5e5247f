// Package messages defines the logical contents of events exchanged with
// other nodes. Wire framing is the transport collaborator's concern; these
// types only fix what a message must carry.
package messages

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// ChunkHeaderAnnouncement informs peers that a chunk has been produced for a
// shard at a height. Receivers open tracking state and start requesting the
// parts they need.
type ChunkHeaderAnnouncement struct {
	Header ledger.ChunkHeader
}

// PartRequest asks a peer for a single part of a chunk. The nonce prevents
// the request from being deduplicated by the receiver across retries.
type PartRequest struct {
	ChunkID ledger.Identifier
	Index   uint32
	Nonce   uint64
}

// PartResponse answers a PartRequest, or delivers a part unsolicited as part
// of the producer's initial distribution.
type PartResponse struct {
	Part ledger.ChunkPart
}

// ReceiptProofResponse delivers the outgoing receipts of a chunk for one
// destination shard, with the proof binding them to the announced header.
type ReceiptProofResponse struct {
	Proof ledger.ReceiptProof
}

// Package module defines the interfaces of pluggable components and external
// collaborators consulted by the chunk engines.
package module

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// SignatureVerifier checks chunk header signatures against the producer key
// for the header's shard and height. Key management is external.
type SignatureVerifier interface {
	VerifySignature(header ledger.ChunkHeader) bool
}

// ProofVerifier checks merkle inclusion proofs against a commitment root.
type ProofVerifier interface {
	VerifyMerkleProof(leaf ledger.Identifier, proof ledger.MerkleProof, root ledger.Identifier) bool
}

// Signer produces the chunk producer's signature over a header body.
type Signer interface {
	Sign(body ledger.ChunkHeaderBody) ([]byte, error)
}

package merkle

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// Verifier is the default proof verifier, checking proofs with this package's
// hashing. It satisfies the engine's proof verification interface.
type Verifier struct{}

// NewVerifier creates a merkle proof verifier.
func NewVerifier() Verifier {
	return Verifier{}
}

// VerifyMerkleProof checks the inclusion proof of a leaf against a root.
func (v Verifier) VerifyMerkleProof(leaf ledger.Identifier, proof ledger.MerkleProof, root ledger.Identifier) bool {
	return VerifyProof(leaf, proof, root)
}

// Package merkle implements the binary merkle tree used to commit to the
// erasure-coded parts of a chunk and to per-destination receipt lists.
//
// The tree is built over pre-hashed leaves. Leaf and interior hashes are
// domain-separated so a proof for a leaf can never be replayed as a proof for
// an interior node. Trees whose leaf count is not a power of two are padded
// with the zero hash.
package merkle

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

const (
	leafDomain = 0x00
	nodeDomain = 0x01
)

// Tree is an immutable binary merkle tree over a fixed set of leaves.
type Tree struct {
	// number of real (unpadded) leaves
	count uint32
	// levels[0] is the padded leaf level, the last level holds the root
	levels [][]ledger.Identifier
}

// NewTree builds a tree over the given leaf hashes. At least one leaf is
// required.
func NewTree(leaves []ledger.Identifier) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree without leaves")
	}

	padded := make([]ledger.Identifier, nextPowerOfTwo(uint32(len(leaves))))
	for i, leaf := range leaves {
		padded[i] = hashLeaf(leaf)
	}
	for i := len(leaves); i < len(padded); i++ {
		padded[i] = hashLeaf(ledger.ZeroID)
	}

	levels := [][]ledger.Identifier{padded}
	for level := padded; len(level) > 1; {
		next := make([]ledger.Identifier, len(level)/2)
		for i := range next {
			next[i] = hashNode(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{
		count:  uint32(len(leaves)),
		levels: levels,
	}, nil
}

// Root returns the root hash of the tree.
func (t *Tree) Root() ledger.Identifier {
	return t.levels[len(t.levels)-1][0]
}

// Proof generates the inclusion proof for the leaf at the given index.
func (t *Tree) Proof(index uint32) (ledger.MerkleProof, error) {
	if index >= t.count {
		return ledger.MerkleProof{}, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.count)
	}

	path := make([]ledger.Identifier, 0, len(t.levels)-1)
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		path = append(path, level[pos^1])
		pos >>= 1
	}

	return ledger.MerkleProof{
		Index: index,
		Path:  path,
	}, nil
}

// VerifyProof checks the inclusion proof of a leaf hash against the expected
// root, recomputing the root bottom-up the same way the tree was built.
func VerifyProof(leaf ledger.Identifier, proof ledger.MerkleProof, root ledger.Identifier) bool {
	current := hashLeaf(leaf)
	pos := proof.Index
	for _, sibling := range proof.Path {
		if pos&1 == 0 {
			current = hashNode(current, sibling)
		} else {
			current = hashNode(sibling, current)
		}
		pos >>= 1
	}
	// a proof with a truncated path must not verify against a deeper tree
	if pos != 0 {
		return false
	}
	return current == root
}

func hashLeaf(leaf ledger.Identifier) ledger.Identifier {
	h := sha3.New256()
	h.Write([]byte{leafDomain})
	h.Write(leaf[:])
	var out ledger.Identifier
	copy(out[:], h.Sum(nil))
	return out
}

func hashNode(left, right ledger.Identifier) ledger.Identifier {
	h := sha3.New256()
	h.Write([]byte{nodeDomain})
	h.Write(left[:])
	h.Write(right[:])
	var out ledger.Identifier
	copy(out[:], h.Sum(nil))
	return out
}

func nextPowerOfTwo(n uint32) uint32 {
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

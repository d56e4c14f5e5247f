package module

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// BlockOracle is the fork-choice collaborator. A header is only trusted
// enough to spend bandwidth requesting parts for it once its block is valid.
type BlockOracle interface {
	IsValidBlock(header ledger.ChunkHeader) bool
}

// PartAssigner exposes the deterministic part-to-validator assignment
// computed outside this engine. Owners are candidate holders for a part,
// ordered by preference.
type PartAssigner interface {
	// PartOwners returns the validators assigned to hold the given part of
	// the chunk, the designated owner first.
	PartOwners(header ledger.ChunkHeader, index uint32) ledger.IdentifierList
}

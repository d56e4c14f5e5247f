// Package builder produces chunks on the shard-producer side: it encodes the
// shard payload into erasure-coded parts, commits to them in a signed header,
// and emits the per-part and per-destination proofs that let every other
// validator verify what it receives.
package builder

import (
	"fmt"
	"sort"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/module"
	"github.com/chunkmesh/chunkmesh-go/module/erasure"
	"github.com/chunkmesh/chunkmesh-go/module/merkle"
)

// Builder constructs chunks for a producer with a fixed coding rate.
type Builder struct {
	signer      module.Signer
	dataParts   uint32
	parityParts uint32
}

// ProducedChunk is the complete output of chunk production: the signed
// header, all parts with their proofs, and one receipt proof per non-empty
// destination shard.
type ProducedChunk struct {
	Header        ledger.ChunkHeader
	Parts         []*ledger.ChunkPart
	ReceiptProofs []*ledger.ReceiptProof
}

// New creates a chunk builder. dataParts is the reconstruction threshold D,
// parityParts the added redundancy P.
func New(signer module.Signer, dataParts uint32, parityParts uint32) (*Builder, error) {
	if dataParts == 0 {
		return nil, fmt.Errorf("data part count must be positive")
	}
	return &Builder{
		signer:      signer,
		dataParts:   dataParts,
		parityParts: parityParts,
	}, nil
}

// Build turns the shard's transactions and outgoing receipts into a produced
// chunk. It is pure aside from requesting the header signature.
func (b *Builder) Build(
	shardID uint64,
	height uint64,
	prevBlockID ledger.Identifier,
	transactions []*ledger.Transaction,
	receipts ledger.ReceiptList,
) (*ProducedChunk, error) {

	body := ledger.ChunkBody{
		Transactions: transactions,
		Receipts:     receipts,
	}
	payload, err := body.Encode()
	if err != nil {
		return nil, fmt.Errorf("could not encode chunk body: %w", err)
	}

	parts, err := erasure.Encode(payload, b.dataParts, b.parityParts)
	if err != nil {
		return nil, fmt.Errorf("could not erasure-code payload: %w", err)
	}

	leaves := make([]ledger.Identifier, len(parts))
	for i, part := range parts {
		leaves[i] = ledger.HashToID(part)
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("could not build part tree: %w", err)
	}

	receiptsRoots, receiptTrees, err := receiptCommitments(receipts)
	if err != nil {
		return nil, fmt.Errorf("could not commit to outgoing receipts: %w", err)
	}

	headerBody := ledger.ChunkHeaderBody{
		ShardID:        shardID,
		Height:         height,
		PrevBlockID:    prevBlockID,
		EncodedLength:  uint64(len(payload)),
		EncodedRoot:    tree.Root(),
		PartsCount:     b.dataParts + b.parityParts,
		DataPartsCount: b.dataParts,
		ReceiptsRoots:  receiptsRoots,
	}
	signature, err := b.signer.Sign(headerBody)
	if err != nil {
		return nil, fmt.Errorf("could not sign chunk header: %w", err)
	}
	header := ledger.ChunkHeader{
		ChunkHeaderBody: headerBody,
		Signature:       signature,
	}
	chunkID := header.ID()

	chunkParts := make([]*ledger.ChunkPart, len(parts))
	for i, part := range parts {
		proof, err := tree.Proof(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("could not prove part %d: %w", i, err)
		}
		chunkParts[i] = &ledger.ChunkPart{
			ChunkID: chunkID,
			Index:   uint32(i),
			Payload: part,
			Proof:   proof,
		}
	}

	receiptProofs, err := receiptProofs(chunkID, receipts, receiptTrees)
	if err != nil {
		return nil, fmt.Errorf("could not prove outgoing receipts: %w", err)
	}

	return &ProducedChunk{
		Header:        header,
		Parts:         chunkParts,
		ReceiptProofs: receiptProofs,
	}, nil
}

// receiptCommitments builds one merkle tree per non-empty destination shard
// and returns the per-destination roots in deterministic (ascending) order.
func receiptCommitments(receipts ledger.ReceiptList) ([]ledger.ShardRoot, map[uint64]*merkle.Tree, error) {
	groups := receipts.GroupByDestination()

	destinations := make([]uint64, 0, len(groups))
	for destination := range groups {
		destinations = append(destinations, destination)
	}
	sort.Slice(destinations, func(i, j int) bool { return destinations[i] < destinations[j] })

	roots := make([]ledger.ShardRoot, 0, len(groups))
	trees := make(map[uint64]*merkle.Tree, len(groups))
	for _, destination := range destinations {
		tree, err := merkle.NewTree(groups[destination].Leaves())
		if err != nil {
			return nil, nil, fmt.Errorf("could not build receipt tree for shard %d: %w", destination, err)
		}
		roots = append(roots, ledger.ShardRoot{
			DestinationShard: destination,
			Root:             tree.Root(),
		})
		trees[destination] = tree
	}

	return roots, trees, nil
}

// receiptProofs emits one proof per destination shard, pinning the final leaf
// of each destination tree.
func receiptProofs(chunkID ledger.Identifier, receipts ledger.ReceiptList, trees map[uint64]*merkle.Tree) ([]*ledger.ReceiptProof, error) {
	groups := receipts.GroupByDestination()

	proofs := make([]*ledger.ReceiptProof, 0, len(groups))
	for destination, group := range groups {
		last := uint32(len(group) - 1)
		proof, err := trees[destination].Proof(last)
		if err != nil {
			return nil, fmt.Errorf("could not prove receipts for shard %d: %w", destination, err)
		}
		proofs = append(proofs, &ledger.ReceiptProof{
			ChunkID:          chunkID,
			DestinationShard: destination,
			Receipts:         group,
			Proof:            proof,
		})
	}
	sort.Slice(proofs, func(i, j int) bool { return proofs[i].DestinationShard < proofs[j].DestinationShard })

	return proofs, nil
}

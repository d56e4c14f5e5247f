package ledger

// Receipt is an outgoing cross-shard message produced by executing a chunk.
// Receipts are routed to their destination shard, where they are applied as
// incoming state transitions in a later block.
type Receipt struct {
	SourceShard      uint64
	DestinationShard uint64
	Payload          []byte
}

// ID returns a cryptographic commitment to the receipt.
func (r Receipt) ID() Identifier {
	return MakeID(r)
}

// ReceiptList is an ordered list of receipts.
type ReceiptList []*Receipt

// GroupByDestination splits the list into per-destination-shard lists,
// preserving the original order within each group.
func (l ReceiptList) GroupByDestination() map[uint64]ReceiptList {
	groups := make(map[uint64]ReceiptList)
	for _, receipt := range l {
		groups[receipt.DestinationShard] = append(groups[receipt.DestinationShard], receipt)
	}
	return groups
}

// Leaves returns the ordered receipt identifiers, used as merkle tree leaves
// when committing to the list.
func (l ReceiptList) Leaves() []Identifier {
	leaves := make([]Identifier, 0, len(l))
	for _, receipt := range l {
		leaves = append(leaves, receipt.ID())
	}
	return leaves
}

package ledger

// Transaction is a single signed state transition submitted to a shard.
// The engine treats the script as opaque bytes; execution semantics live with
// the execution collaborator.
type Transaction struct {
	Sender Identifier
	Nonce  uint64
	Script []byte
}

// ID returns a cryptographic commitment to the transaction.
func (tx Transaction) ID() Identifier {
	return MakeID(tx)
}

// Package unittest provides fixtures and helpers shared by the test suites.
package unittest

import (
	"crypto/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/module/builder"
)

// Logger returns a no-op logger for tests.
func Logger() zerolog.Logger {
	return zerolog.Nop()
}

// IdentifierFixture returns a random identifier.
func IdentifierFixture() ledger.Identifier {
	var id ledger.Identifier
	_, _ = rand.Read(id[:])
	return id
}

// IdentifierListFixture returns a list of n random identifiers.
func IdentifierListFixture(n int) ledger.IdentifierList {
	list := make(ledger.IdentifierList, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, IdentifierFixture())
	}
	return list
}

// TransactionFixture returns a transaction with a random sender and script.
func TransactionFixture() *ledger.Transaction {
	return &ledger.Transaction{
		Sender: IdentifierFixture(),
		Nonce:  uint64(time.Now().UnixNano()),
		Script: BytesFixture(32),
	}
}

// TransactionsFixture returns n transaction fixtures.
func TransactionsFixture(n int) []*ledger.Transaction {
	txs := make([]*ledger.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, TransactionFixture())
	}
	return txs
}

// ReceiptFixture returns a receipt from the given source to the given
// destination shard with a random payload.
func ReceiptFixture(source uint64, destination uint64) *ledger.Receipt {
	return &ledger.Receipt{
		SourceShard:      source,
		DestinationShard: destination,
		Payload:          BytesFixture(24),
	}
}

// ReceiptsFixture returns n receipts from the given source shard, spread
// round-robin over the given destination shards.
func ReceiptsFixture(n int, source uint64, destinations ...uint64) ledger.ReceiptList {
	receipts := make(ledger.ReceiptList, 0, n)
	for i := 0; i < n; i++ {
		receipts = append(receipts, ReceiptFixture(source, destinations[i%len(destinations)]))
	}
	return receipts
}

// BytesFixture returns n random bytes.
func BytesFixture(n int) []byte {
	data := make([]byte, n)
	_, _ = rand.Read(data)
	return data
}

// FakeSigner signs header bodies with a fixed, recognizable signature.
type FakeSigner struct{}

func (FakeSigner) Sign(body ledger.ChunkHeaderBody) ([]byte, error) {
	return []byte("fixture-signature"), nil
}

// ProducedChunkFixture builds a structurally complete chunk at the given
// shard and height with the given coding rate, including valid parts,
// proofs, and receipt proofs. The payload contains a handful of transactions
// and receipts to two destination shards.
func ProducedChunkFixture(t testingT, shardID uint64, height uint64, dataParts uint32, parityParts uint32) *builder.ProducedChunk {
	b, err := builder.New(FakeSigner{}, dataParts, parityParts)
	requireNoError(t, err)

	produced, err := b.Build(
		shardID,
		height,
		IdentifierFixture(),
		TransactionsFixture(4),
		ReceiptsFixture(6, shardID, shardID+1, shardID+2),
	)
	requireNoError(t, err)
	return produced
}

// RequireReturnsBefore requires that the given function returns before the
// given duration elapses.
func RequireReturnsBefore(t testingT, duration time.Duration, f func(), message string) {
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(duration):
		t.Errorf("function did not return in time: %s", message)
		t.FailNow()
	}
}

// testingT is the subset of testing.T used by the fixtures, so that fixtures
// can be used from both tests and benchmarks.
type testingT interface {
	Errorf(format string, args ...interface{})
	FailNow()
}

func requireNoError(t testingT, err error) {
	if err != nil {
		t.Errorf("fixture setup failed: %s", err)
		t.FailNow()
	}
}

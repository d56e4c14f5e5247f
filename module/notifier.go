package module

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// ProcessingNotifier is used by engines to signal that they are done with a
// unit of work, identified by its chunk ID.
type ProcessingNotifier interface {
	Notify(chunkID ledger.Identifier)
}

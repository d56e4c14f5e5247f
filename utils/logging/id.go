// Package logging provides helpers for rendering model types in log fields.
package logging

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// ID returns the byte representation of an identifier for hex log fields.
func ID(id ledger.Identifier) []byte {
	return id.Bytes()
}

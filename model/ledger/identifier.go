package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"
)

// Identifier is a 32-byte content address. Model entities derive their
// identifier from the hash of their canonical encoding, so two values with the
// same identifier are interchangeable.
type Identifier [32]byte

// ZeroID is the default, empty identifier.
var ZeroID = Identifier{}

// canonical is the deterministic CBOR encoding mode used for fingerprinting
// model entities. Core-deterministic encoding guarantees that equal values
// always produce equal bytes.
var canonical cbor.EncMode

func init() {
	var err error
	canonical, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not initialize canonical encoding mode: %s", err))
	}
}

// MakeID hashes the canonical encoding of the given value into an identifier.
func MakeID(v interface{}) Identifier {
	data, err := canonical.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("could not fingerprint value: %s", err))
	}
	return HashToID(data)
}

// HashToID hashes arbitrary bytes into an identifier.
func HashToID(data []byte) Identifier {
	return Identifier(sha3.Sum256(data))
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the identifier as a byte slice.
func (id Identifier) Bytes() []byte {
	return id[:]
}

// HexStringToIdentifier parses a hex string into an identifier. The input must
// decode to exactly 32 bytes.
func HexStringToIdentifier(s string) (Identifier, error) {
	var id Identifier
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil {
		return ZeroID, err
	}
	if n != len(id) {
		return ZeroID, fmt.Errorf("malformed identifier, expected %d bytes, got %d", len(id), n)
	}
	return id, nil
}

// IdentifierList is a slice of identifiers.
type IdentifierList []Identifier

// Contains returns whether the list contains the given identifier.
func (l IdentifierList) Contains(target Identifier) bool {
	for _, id := range l {
		if id == target {
			return true
		}
	}
	return false
}

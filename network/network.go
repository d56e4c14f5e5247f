// Package network defines the boundary between the chunk engine and the
// peer-to-peer transport. The engine registers itself on a channel and only
// decides what to send; delivery, framing, and peer management belong to the
// transport implementation.
package network

import (
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
)

// Channel specifies a virtual, unique communication link between nodes.
type Channel string

const (
	// ChunkDistribution carries chunk header announcements, part requests and
	// responses, and receipt proofs between validators.
	ChunkDistribution = Channel("chunk-distribution")
)

// Network represents the transport layer of the node. Engines register
// themselves with a channel and receive a conduit for sending events to the
// same channel on other nodes.
type Network interface {
	// Register subscribes the given message processor to the channel.
	// The returned conduit sends events to peers subscribed to the same
	// channel. Only one processor may be registered per channel.
	Register(channel Channel, processor MessageProcessor) (Conduit, error)
}

// Conduit is the sending side of a registered channel. Sends are
// fire-and-forget: a nil error means the event was handed to the transport,
// not that it was delivered.
type Conduit interface {
	// Unicast sends the event to a single target peer.
	Unicast(event interface{}, target ledger.Identifier) error

	// Publish sends the event to all of the given target peers.
	Publish(event interface{}, targets ...ledger.Identifier) error
}

// MessageProcessor receives events arriving on a registered channel. The
// origin ID identifies the peer that originally emitted the event.
type MessageProcessor interface {
	Process(channel Channel, originID ledger.Identifier, event interface{}) error
}

// Package codec serializes network events into self-describing envelopes so a
// transport implementation can move them between nodes without knowing their
// Go types.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v4"

	"github.com/chunkmesh/chunkmesh-go/model/messages"
)

const (
	codeMin uint8 = iota

	// chunk distribution
	codeChunkHeaderAnnouncement
	codePartRequest
	codePartResponse
	codeReceiptProofResponse

	codeMax
)

// Envelope wraps an encoded event with the code identifying its type.
type Envelope struct {
	Code uint8
	Data []byte
}

// Codec encodes and decodes network events with msgpack envelopes.
type Codec struct{}

// NewCodec creates a new msgpack codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes the given event into envelope bytes.
func (c *Codec) Encode(event interface{}) ([]byte, error) {
	var code uint8
	switch event.(type) {
	case *messages.ChunkHeaderAnnouncement:
		code = codeChunkHeaderAnnouncement
	case *messages.PartRequest:
		code = codePartRequest
	case *messages.PartResponse:
		code = codePartResponse
	case *messages.ReceiptProofResponse:
		code = codeReceiptProofResponse
	default:
		return nil, fmt.Errorf("unsupported event type (%T)", event)
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("could not encode event: %w", err)
	}

	env, err := msgpack.Marshal(Envelope{Code: code, Data: data})
	if err != nil {
		return nil, fmt.Errorf("could not encode envelope: %w", err)
	}

	return env, nil
}

// Decode deserializes envelope bytes back into the original event type.
func (c *Codec) Decode(data []byte) (interface{}, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	if err != nil {
		return nil, fmt.Errorf("could not decode envelope: %w", err)
	}

	var event interface{}
	switch env.Code {
	case codeChunkHeaderAnnouncement:
		event = &messages.ChunkHeaderAnnouncement{}
	case codePartRequest:
		event = &messages.PartRequest{}
	case codePartResponse:
		event = &messages.PartResponse{}
	case codeReceiptProofResponse:
		event = &messages.ReceiptProofResponse{}
	default:
		return nil, fmt.Errorf("invalid message code (%d)", env.Code)
	}

	err = msgpack.Unmarshal(env.Data, event)
	if err != nil {
		return nil, fmt.Errorf("could not decode event: %w", err)
	}

	return event, nil
}

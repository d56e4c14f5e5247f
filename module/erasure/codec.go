// Package erasure wraps a systematic Reed-Solomon code behind the byte-level
// contract the chunk engine needs: a payload is split into D data parts plus P
// parity parts, and any D of the D+P parts recover the payload.
package erasure

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrInsufficientParts indicates that fewer than D distinct parts were
// supplied to Decode. It is recoverable: the caller should wait for more
// parts and try again.
var ErrInsufficientParts = errors.New("insufficient parts for reconstruction")

// Encode splits the payload into dataCount data parts and parityCount parity
// parts. The payload is zero-padded to a multiple of dataCount; callers must
// record the original payload length to strip the padding after Decode.
//
// All returned parts have equal length. Encoding is deterministic.
func Encode(payload []byte, dataCount uint32, parityCount uint32) ([][]byte, error) {
	if dataCount == 0 {
		return nil, fmt.Errorf("data part count must be positive")
	}

	partSize := (len(payload) + int(dataCount) - 1) / int(dataCount)
	if partSize == 0 {
		// the underlying coder rejects empty shards, so an empty payload is
		// encoded as all-zero single-byte parts
		partSize = 1
	}

	parts := make([][]byte, dataCount+parityCount)
	for i := range parts {
		parts[i] = make([]byte, partSize)
	}
	for i := 0; i < int(dataCount); i++ {
		offset := i * partSize
		if offset >= len(payload) {
			break
		}
		copy(parts[i], payload[offset:])
	}

	if parityCount == 0 {
		return parts, nil
	}

	enc, err := reedsolomon.New(int(dataCount), int(parityCount))
	if err != nil {
		return nil, fmt.Errorf("could not create encoder (data=%d, parity=%d): %w", dataCount, parityCount, err)
	}
	err = enc.Encode(parts)
	if err != nil {
		return nil, fmt.Errorf("could not compute parity parts: %w", err)
	}

	return parts, nil
}

// Decode reconstructs the original payload of the given length from any
// dataCount distinct parts out of totalCount. The parts map is keyed by part
// index; indices must be in [0, totalCount).
//
// Returns ErrInsufficientParts when fewer than dataCount parts are supplied.
func Decode(parts map[uint32][]byte, dataCount uint32, totalCount uint32, payloadLength uint64) ([]byte, error) {
	if dataCount == 0 || dataCount > totalCount {
		return nil, fmt.Errorf("invalid part counts (data=%d, total=%d)", dataCount, totalCount)
	}
	if uint32(len(parts)) < dataCount {
		return nil, ErrInsufficientParts
	}

	partSize := 0
	shards := make([][]byte, totalCount)
	for index, payload := range parts {
		if index >= totalCount {
			return nil, fmt.Errorf("part index %d out of range [0, %d)", index, totalCount)
		}
		if partSize == 0 {
			partSize = len(payload)
		} else if len(payload) != partSize {
			return nil, fmt.Errorf("mismatching part sizes (%d != %d)", len(payload), partSize)
		}
		shards[index] = payload
	}
	if uint64(partSize)*uint64(dataCount) < payloadLength {
		return nil, fmt.Errorf("parts too short for payload length %d", payloadLength)
	}

	if totalCount > dataCount {
		dec, err := reedsolomon.New(int(dataCount), int(totalCount-dataCount))
		if err != nil {
			return nil, fmt.Errorf("could not create decoder (data=%d, parity=%d): %w", dataCount, totalCount-dataCount, err)
		}
		err = dec.ReconstructData(shards)
		if err != nil {
			return nil, fmt.Errorf("could not reconstruct data parts: %w", err)
		}
	}

	payload := make([]byte, 0, int(dataCount)*partSize)
	for i := 0; i < int(dataCount); i++ {
		if shards[i] == nil {
			// without parity there is nothing to reconstruct from
			return nil, ErrInsufficientParts
		}
		payload = append(payload, shards[i]...)
	}

	return payload[:payloadLength], nil
}

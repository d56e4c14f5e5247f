package stdmap

import (
	"time"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
)

// PartRequests is an in-memory pool of part requests keyed by
// (chunk ID, part index). It wraps each request in an internal status record
// holding the retry history.
type PartRequests struct {
	backend *Backend[requestKey, *partRequestStatus]
}

var _ mempool.PartRequests = (*PartRequests)(nil)

type requestKey struct {
	ChunkID ledger.Identifier
	Index   uint32
}

// partRequestStatus is the internal wrapper for a tracked request,
// maintaining the auxiliary retry attributes.
type partRequestStatus struct {
	request     *mempool.PartRequest
	state       mempool.RequestState
	attempts    uint64
	lastAttempt time.Time
	retryAfter  time.Duration
}

// NewPartRequests creates a part request pool.
func NewPartRequests() *PartRequests {
	return &PartRequests{
		backend: NewBackend[requestKey, *partRequestStatus](),
	}
}

// Add registers the request. The insertion is only successful if no request
// for the same (chunk ID, part index) pair is tracked, which enforces the
// single-outstanding-request invariant.
func (pr *PartRequests) Add(request *mempool.PartRequest) bool {
	key := requestKey{ChunkID: request.ChunkID, Index: request.Index}
	return pr.backend.Add(key, &partRequestStatus{
		request: request,
		state:   mempool.RequestQueued,
	})
}

// All returns snapshots of all tracked requests.
func (pr *PartRequests) All() []mempool.PartRequestInfo {
	var all []mempool.PartRequestInfo
	pr.backend.View(func(backdata map[requestKey]*partRequestStatus) {
		all = make([]mempool.PartRequestInfo, 0, len(backdata))
		for _, status := range backdata {
			all = append(all, status.info())
		}
	})
	return all
}

// UpdateRequestHistory applies the updater to the request's retry history,
// stamps the given dispatch time, and moves the request to the given state.
// The update is atomic and aborts if the updater rejects it.
func (pr *PartRequests) UpdateRequestHistory(
	chunkID ledger.Identifier,
	index uint32,
	now time.Time,
	state mempool.RequestState,
	updater mempool.RequestHistoryUpdaterFunc,
) (mempool.PartRequestInfo, bool) {

	var info mempool.PartRequestInfo
	updated := false

	_ = pr.backend.Run(func(backdata map[requestKey]*partRequestStatus) error {
		status, ok := backdata[requestKey{ChunkID: chunkID, Index: index}]
		if !ok {
			return nil
		}

		attempts, retryAfter, ok := updater(status.attempts, status.retryAfter)
		if !ok {
			return nil
		}

		status.attempts = attempts
		status.retryAfter = retryAfter
		status.lastAttempt = now
		status.state = state
		info = status.info()
		updated = true
		return nil
	})

	return info, updated
}

// Abandon marks the request as abandoned. The entry is kept so the pair is
// not re-requested, but it no longer counts as outstanding.
func (pr *PartRequests) Abandon(chunkID ledger.Identifier, index uint32) bool {
	abandoned := false
	_ = pr.backend.Run(func(backdata map[requestKey]*partRequestStatus) error {
		status, ok := backdata[requestKey{ChunkID: chunkID, Index: index}]
		if !ok {
			return nil
		}
		status.state = mempool.RequestAbandoned
		abandoned = true
		return nil
	})
	return abandoned
}

// Remove drops the request for the pair.
func (pr *PartRequests) Remove(chunkID ledger.Identifier, index uint32) bool {
	return pr.backend.Rem(requestKey{ChunkID: chunkID, Index: index})
}

// RemoveChunk drops all requests of the chunk and returns their indices.
func (pr *PartRequests) RemoveChunk(chunkID ledger.Identifier) []uint32 {
	var removed []uint32
	_ = pr.backend.Run(func(backdata map[requestKey]*partRequestStatus) error {
		for key := range backdata {
			if key.ChunkID != chunkID {
				continue
			}
			delete(backdata, key)
			removed = append(removed, key.Index)
		}
		return nil
	})
	return removed
}

// OutstandingIndices returns the indices of the chunk's requests that are not
// abandoned.
func (pr *PartRequests) OutstandingIndices(chunkID ledger.Identifier) []uint32 {
	var indices []uint32
	pr.backend.View(func(backdata map[requestKey]*partRequestStatus) {
		for key, status := range backdata {
			if key.ChunkID != chunkID || status.state == mempool.RequestAbandoned {
				continue
			}
			indices = append(indices, key.Index)
		}
	})
	return indices
}

// Size returns the total number of tracked requests.
func (pr *PartRequests) Size() uint {
	return pr.backend.Size()
}

func (s *partRequestStatus) info() mempool.PartRequestInfo {
	return mempool.PartRequestInfo{
		PartRequest: *s.request,
		State:       s.state,
		Attempts:    s.attempts,
		LastAttempt: s.lastAttempt,
		RetryAfter:  s.retryAfter,
	}
}

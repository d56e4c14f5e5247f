// Package requester decides which missing chunk parts to ask for, from whom,
// and when to retry. It keeps at most one outstanding request per
// (chunk, part) pair and advances all retry state from discrete Tick events;
// it owns no timers of its own.
//
// The requester only manages whether a response arrived at all. Validating a
// response is the chunk pool's job.
package requester

import (
	"time"

	"github.com/ef-ds/deque"
	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/model/messages"
	"github.com/chunkmesh/chunkmesh-go/module"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
	"github.com/chunkmesh/chunkmesh-go/network"
	"github.com/chunkmesh/chunkmesh-go/utils/logging"
)

// RequestQualifierFunc decides whether a tracked request is due for dispatch
// at the given time.
type RequestQualifierFunc func(attempts uint64, lastAttempt time.Time, retryAfter time.Duration, now time.Time) bool

// RetryAfterQualifier only qualifies a request once its retry interval has
// elapsed since the last attempt. A request that was never dispatched
// qualifies immediately.
func RetryAfterQualifier(attempts uint64, lastAttempt time.Time, retryAfter time.Duration, now time.Time) bool {
	return !lastAttempt.Add(retryAfter).After(now)
}

// TargetSelector picks the peer to ask for a part on the current attempt.
// Returning false means no candidate is available and the request is
// abandoned. The selection policy is pluggable; the engine only requires that
// one target is chosen per attempt.
type TargetSelector func(request mempool.PartRequestInfo) (ledger.Identifier, bool)

// RotatingSelector asks the part's designated owner first and rotates through
// the remaining candidate holders on each retry.
func RotatingSelector() TargetSelector {
	return func(request mempool.PartRequestInfo) (ledger.Identifier, bool) {
		if len(request.Candidates) == 0 {
			return ledger.ZeroID, false
		}
		return request.Candidates[request.Attempts%uint64(len(request.Candidates))], true
	}
}

// Requester tracks pending part requests and dispatches them on ticks.
type Requester struct {
	log         zerolog.Logger
	con         network.Conduit
	pending     mempool.PartRequests
	qualifier   RequestQualifierFunc
	updater     mempool.RequestHistoryUpdaterFunc
	selector    TargetSelector
	maxAttempts uint64
}

var _ module.PartRequester = (*Requester)(nil)

// New creates a part requester. The qualifier gates dispatches, the updater
// advances the backoff history on every dispatch, and maxAttempts bounds
// retries before a request is abandoned.
func New(log zerolog.Logger,
	con network.Conduit,
	pending mempool.PartRequests,
	qualifier RequestQualifierFunc,
	updater mempool.RequestHistoryUpdaterFunc,
	selector TargetSelector,
	maxAttempts uint64,
) *Requester {
	return &Requester{
		log:         log.With().Str("component", "part_requester").Logger(),
		con:         con,
		pending:     pending,
		qualifier:   qualifier,
		updater:     updater,
		selector:    selector,
		maxAttempts: maxAttempts,
	}
}

// Request registers a missing part for fetching. Duplicate registrations for
// a pair already being tracked are no-ops.
func (r *Requester) Request(chunkID ledger.Identifier, index uint32, height uint64, candidates ledger.IdentifierList) {
	added := r.pending.Add(&mempool.PartRequest{
		ChunkID:    chunkID,
		Index:      index,
		Height:     height,
		Candidates: candidates,
	})

	r.log.Debug().
		Hex("chunk_id", logging.ID(chunkID)).
		Uint32("part_index", index).
		Uint64("height", height).
		Bool("added", added).
		Msg("part request registered")
}

// Tick dispatches all due requests, advancing their retry state. Requests
// whose attempt budget is exhausted are abandoned; the chunk then stays
// incomplete until the part arrives unsolicited or the chunk is evicted.
func (r *Requester) Tick(now time.Time) {
	due := deque.New()
	for _, request := range r.pending.All() {
		if request.State == mempool.RequestAbandoned {
			continue
		}
		if !r.qualifier(request.Attempts, request.LastAttempt, request.RetryAfter, now) {
			continue
		}
		due.PushBack(request)
	}

	dispatched := 0
	for due.Len() > 0 {
		v, _ := due.PopFront()
		request := v.(mempool.PartRequestInfo)
		if r.dispatch(request, now) {
			dispatched++
		}
	}

	if dispatched > 0 {
		r.log.Debug().Int("dispatched", dispatched).Msg("due part requests dispatched")
	}
}

// dispatch sends one request attempt for the part. Boolean return value
// indicates whether a request was handed to the network.
func (r *Requester) dispatch(request mempool.PartRequestInfo, now time.Time) bool {
	lg := r.log.With().
		Hex("chunk_id", logging.ID(request.ChunkID)).
		Uint32("part_index", request.Index).
		Uint64("attempts", request.Attempts).
		Logger()

	if request.Attempts >= r.maxAttempts {
		abandoned := r.pending.Abandon(request.ChunkID, request.Index)
		lg.Warn().Bool("abandoned", abandoned).Msg("request attempts exhausted, abandoning part")
		return false
	}

	target, ok := r.selector(request)
	if !ok {
		abandoned := r.pending.Abandon(request.ChunkID, request.Index)
		lg.Warn().Bool("abandoned", abandoned).Msg("no candidate holder for part, abandoning")
		return false
	}

	state := mempool.RequestDispatched
	if request.Attempts > 0 {
		state = mempool.RequestRetrying
	}
	updated, ok := r.pending.UpdateRequestHistory(request.ChunkID, request.Index, now, state, r.updater)
	if !ok {
		// the request was removed concurrently, e.g. the part arrived
		return false
	}

	err := r.con.Unicast(&messages.PartRequest{
		ChunkID: request.ChunkID,
		Index:   request.Index,
		Nonce:   rand.Uint64(),
	}, target)
	if err != nil {
		lg.Warn().Err(err).Hex("target_id", logging.ID(target)).Msg("could not send part request")
		return false
	}

	lg.Debug().
		Hex("target_id", logging.ID(target)).
		Dur("retry_after", updated.RetryAfter).
		Msg("part request dispatched")
	return true
}

// ReceivedResponse marks the part as received, clearing the outstanding
// request. Unsolicited parts clear any pending request the same way.
func (r *Requester) ReceivedResponse(chunkID ledger.Identifier, index uint32) bool {
	return r.pending.Remove(chunkID, index)
}

// CancelChunk drops all tracked requests of the chunk. Requests for an
// evicted or completed chunk are implicitly cancelled through this call.
func (r *Requester) CancelChunk(chunkID ledger.Identifier) {
	removed := r.pending.RemoveChunk(chunkID)
	if len(removed) > 0 {
		r.log.Debug().
			Hex("chunk_id", logging.ID(chunkID)).
			Int("cancelled", len(removed)).
			Msg("pending part requests cancelled")
	}
}

// Outstanding returns the part indices of the chunk with a live request.
func (r *Requester) Outstanding(chunkID ledger.Identifier) []uint32 {
	return r.pending.OutstandingIndices(chunkID)
}

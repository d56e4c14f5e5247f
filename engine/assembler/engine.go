// Package assembler orchestrates the chunk pipeline: it turns "a chunk
// header was announced" into either a fully reconstructed, validated chunk
// handed to the execution and storage collaborators, or a terminal failure.
//
// The engine itself holds no chunk state. The chunk pool is the authority on
// what has been seen and validated; the part requester is the authority on
// what is being fetched. The assembler wires the two together and reacts to
// network events and clock ticks.
package assembler

import (
	"fmt"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/chunkmesh/chunkmesh-go/engine"
	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/model/messages"
	"github.com/chunkmesh/chunkmesh-go/module"
	"github.com/chunkmesh/chunkmesh-go/module/builder"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
	"github.com/chunkmesh/chunkmesh-go/network"
	"github.com/chunkmesh/chunkmesh-go/utils/logging"
)

// deliveryWorkers bounds the number of concurrent consumer hand-offs.
const deliveryWorkers = 2

// ChunkConsumer receives completed chunks, exactly once per chunk ID.
// Implementations are the execution and storage collaborators.
type ChunkConsumer interface {
	HandleReconstructedChunk(chunk *ledger.Chunk)
}

// Engine is the chunk assembler.
type Engine struct {
	unit *engine.Unit
	log  zerolog.Logger

	// state and fetching
	pool     mempool.ChunkStates
	requests module.PartRequester

	// external collaborators
	blocks     module.BlockOracle
	signatures module.SignatureVerifier
	assigner   module.PartAssigner

	// outputs
	con        network.Conduit
	consumers  []ChunkConsumer
	notifier   module.ProcessingNotifier
	deliveries *workerpool.WorkerPool

	// heights below the latest processed height minus this window are evicted
	retentionWindow uint64
}

// New creates an assembler engine and registers it on the chunk distribution
// channel.
func New(
	log zerolog.Logger,
	net network.Network,
	pool mempool.ChunkStates,
	requests module.PartRequester,
	blocks module.BlockOracle,
	signatures module.SignatureVerifier,
	assigner module.PartAssigner,
	retentionWindow uint64,
) (*Engine, error) {

	e := &Engine{
		unit:            engine.NewUnit(),
		log:             log.With().Str("engine", "assembler").Logger(),
		pool:            pool,
		requests:        requests,
		blocks:          blocks,
		signatures:      signatures,
		assigner:        assigner,
		deliveries:      workerpool.New(deliveryWorkers),
		retentionWindow: retentionWindow,
	}

	con, err := net.Register(network.ChunkDistribution, e)
	if err != nil {
		return nil, fmt.Errorf("could not register assembler engine: %w", err)
	}
	e.con = con

	return e, nil
}

// WithChunkConsumer adds a consumer for completed chunks. At least one
// consumer must be registered before the engine is started.
func (e *Engine) WithChunkConsumer(consumer ChunkConsumer) {
	e.consumers = append(e.consumers, consumer)
}

// WithCompletionNotifier sets an optional notifier signalled after a chunk
// has been handed to all consumers.
func (e *Engine) WithCompletionNotifier(notifier module.ProcessingNotifier) {
	e.notifier = notifier
}

// Ready initializes the engine and returns a channel that is closed when the
// initialization is done.
func (e *Engine) Ready() <-chan struct{} {
	if len(e.consumers) == 0 {
		e.log.Fatal().Msg("missing chunk consumer in assembler engine")
	}
	return e.unit.Ready()
}

// Done terminates the engine and returns a channel that is closed when the
// termination is done. Pending deliveries are drained first.
func (e *Engine) Done() <-chan struct{} {
	return e.unit.Done(e.deliveries.StopWait)
}

// Process processes an event from the node with the given origin ID in a
// blocking manner.
func (e *Engine) Process(channel network.Channel, originID ledger.Identifier, event interface{}) error {
	return e.unit.Do(func() error {
		return e.process(originID, event)
	})
}

func (e *Engine) process(originID ledger.Identifier, event interface{}) error {
	switch msg := event.(type) {
	case *messages.ChunkHeaderAnnouncement:
		return e.OnHeaderSeen(msg.Header)
	case *messages.PartResponse:
		e.OnPartReceived(originID, &msg.Part)
		return nil
	case *messages.ReceiptProofResponse:
		e.OnReceiptProofReceived(originID, &msg.Proof)
		return nil
	case *messages.PartRequest:
		e.onPartRequested(originID, msg)
		return nil
	default:
		return engine.NewInvalidInputErrorf("invalid event type (%T)", event)
	}
}

// OnHeaderSeen opens tracking state for an announced chunk and registers
// requests for all of its parts. Seeing an identical header again has no
// effect; a conflicting header for an occupied (height, shard) slot is
// returned as byzantine evidence.
func (e *Engine) OnHeaderSeen(header ledger.ChunkHeader) error {
	lg := e.log.With().
		Hex("chunk_id", logging.ID(header.ID())).
		Uint64("height", header.Height).
		Uint64("shard_id", header.ShardID).
		Logger()

	if !e.signatures.VerifySignature(header) {
		return engine.NewInvalidInputErrorf("chunk header carries invalid signature, chunk %x", header.ID())
	}
	if !e.blocks.IsValidBlock(header) {
		lg.Debug().Msg("chunk header not anchored to a valid block yet, ignoring")
		return nil
	}

	chunkID, err := e.pool.ObserveHeader(header)
	if err != nil {
		if mempool.IsHeaderConflictError(err) {
			lg.Warn().Err(err).Msg("conflicting chunk header observed")
			return err
		}
		if err == mempool.ErrBelowPruningHeight {
			lg.Debug().Msg("chunk header below pruning height, discarding")
			return nil
		}
		return fmt.Errorf("could not observe chunk header: %w", err)
	}

	e.requestMissingParts(chunkID, header)
	lg.Debug().Msg("chunk header tracked")
	return nil
}

// requestMissingParts registers a request for every part of the chunk that
// is neither held nor already being fetched.
func (e *Engine) requestMissingParts(chunkID ledger.Identifier, header ledger.ChunkHeader) {
	missing, ok := e.pool.MissingParts(chunkID)
	if !ok {
		return
	}

	outstanding := make(map[uint32]struct{})
	for _, index := range e.requests.Outstanding(chunkID) {
		outstanding[index] = struct{}{}
	}

	for _, index := range missing {
		if _, ok := outstanding[index]; ok {
			continue
		}
		candidates := e.assigner.PartOwners(header, index)
		e.requests.Request(chunkID, index, header.Height, candidates)
	}
}

// OnPartReceived submits a received part to the pool and reacts to the
// admission outcome. Unsolicited parts travel the same path as requested
// ones; a pending request for the part is cleared either way.
func (e *Engine) OnPartReceived(originID ledger.Identifier, part *ledger.ChunkPart) {
	lg := e.log.With().
		Hex("origin_id", logging.ID(originID)).
		Hex("chunk_id", logging.ID(part.ChunkID)).
		Uint32("part_index", part.Index).
		Logger()

	outcome := e.pool.AddPart(part)
	switch outcome {
	case mempool.PartAccepted, mempool.PartDuplicate:
		// a structurally valid response ends the request for this part
		e.requests.ReceivedResponse(part.ChunkID, part.Index)
	case mempool.PartConflicting:
		held, _ := e.pool.Part(part.ChunkID, part.Index)
		lg.Warn().
			Hex("held_payload_hash", logging.ID(ledger.HashToID(held.Payload))).
			Hex("received_payload_hash", logging.ID(part.LeafHash())).
			Msg("conflicting part payloads for same index, recording evidence")
	case mempool.PartInvalidProof:
		lg.Warn().Msg("part proof does not verify against tracked header, discarding")
	case mempool.PartUnknownChunk:
		lg.Debug().Msg("part for unknown chunk, discarding")
	}

	lg.Debug().Str("outcome", outcome.String()).Msg("chunk part processed")

	if outcome == mempool.PartAccepted {
		e.checkCompleted(part.ChunkID)
	}
}

// OnReceiptProofReceived submits a received receipt proof to the pool.
func (e *Engine) OnReceiptProofReceived(originID ledger.Identifier, proof *ledger.ReceiptProof) {
	outcome := e.pool.AddReceiptProof(proof)
	e.log.Debug().
		Hex("origin_id", logging.ID(originID)).
		Hex("chunk_id", logging.ID(proof.ChunkID)).
		Uint64("destination_shard", proof.DestinationShard).
		Str("outcome", outcome.String()).
		Msg("receipt proof processed")
}

// onPartRequested serves a held part back to the requesting peer. Nothing is
// sent for parts we do not hold; the peer will retry elsewhere.
func (e *Engine) onPartRequested(originID ledger.Identifier, request *messages.PartRequest) {
	part, ok := e.pool.Part(request.ChunkID, request.Index)
	if !ok {
		return
	}
	err := e.con.Unicast(&messages.PartResponse{Part: *part}, originID)
	if err != nil {
		e.log.Warn().Err(err).
			Hex("origin_id", logging.ID(originID)).
			Hex("chunk_id", logging.ID(request.ChunkID)).
			Uint32("part_index", request.Index).
			Msg("could not serve part request")
	}
}

// OnTick drives the retry timers of the part requester. The engine starts no
// timers of its own; callers decide the tick cadence.
func (e *Engine) OnTick(now time.Time) {
	e.requests.Tick(now)
}

// OnHeightProcessed informs the engine that the surrounding system has moved
// on to the given height. Chunks older than the retention window are evicted
// and their in-flight requests cancelled; whatever arrives for them later is
// discarded as unknown.
func (e *Engine) OnHeightProcessed(height uint64) {
	if height <= e.retentionWindow {
		return
	}

	evicted := e.pool.EvictBelow(height - e.retentionWindow)
	for _, chunkID := range evicted {
		e.requests.CancelChunk(chunkID)
	}
	if len(evicted) > 0 {
		e.log.Info().
			Uint64("height", height).
			Int("evicted", len(evicted)).
			Msg("stale chunks evicted")
	}
}

// DistributeChunk publishes a locally produced chunk: the header goes to all
// recipients, each part goes to its assigned owners, and receipt proofs go
// to all recipients. The producer admits its own parts so the chunk is also
// delivered to its local consumers.
func (e *Engine) DistributeChunk(produced *builder.ProducedChunk, recipients ledger.IdentifierList) error {
	header := produced.Header
	chunkID, err := e.pool.ObserveHeader(header)
	if err != nil {
		return fmt.Errorf("could not track produced chunk: %w", err)
	}

	err = e.con.Publish(&messages.ChunkHeaderAnnouncement{Header: header}, recipients...)
	if err != nil {
		return fmt.Errorf("could not announce chunk header: %w", err)
	}

	for _, part := range produced.Parts {
		outcome := e.pool.AddPart(part)
		if outcome != mempool.PartAccepted && outcome != mempool.PartDuplicate {
			return fmt.Errorf("could not admit own part %d: %s", part.Index, outcome)
		}

		for _, owner := range e.assigner.PartOwners(header, part.Index) {
			err = e.con.Unicast(&messages.PartResponse{Part: *part}, owner)
			if err != nil {
				e.log.Warn().Err(err).
					Hex("target_id", logging.ID(owner)).
					Uint32("part_index", part.Index).
					Msg("could not forward part to owner")
			}
		}
	}

	for _, proof := range produced.ReceiptProofs {
		err = e.con.Publish(&messages.ReceiptProofResponse{Proof: *proof}, recipients...)
		if err != nil {
			return fmt.Errorf("could not publish receipt proof for shard %d: %w", proof.DestinationShard, err)
		}
	}

	e.checkCompleted(chunkID)
	e.log.Info().
		Hex("chunk_id", logging.ID(chunkID)).
		Uint64("height", header.Height).
		Int("parts", len(produced.Parts)).
		Msg("produced chunk distributed")
	return nil
}

// checkCompleted hands the reconstructed chunk to the consumers if the chunk
// just completed. The pool clears its state on take, so delivery happens
// exactly once per chunk ID.
func (e *Engine) checkCompleted(chunkID ledger.Identifier) {
	chunk, ok := e.pool.TakeReconstructed(chunkID)
	if !ok {
		info := e.pool.Info(chunkID)
		if info.Status == mempool.ChunkStatusFailed {
			// terminal: stop fetching, the chunk will never complete
			e.requests.CancelChunk(chunkID)
			e.log.Error().
				Hex("chunk_id", logging.ID(chunkID)).
				Str("reason", info.FailureReason).
				Msg("chunk terminally failed validation")
		}
		return
	}

	e.requests.CancelChunk(chunkID)
	e.deliveries.Submit(func() {
		for _, consumer := range e.consumers {
			consumer.HandleReconstructedChunk(chunk)
		}
		if e.notifier != nil {
			e.notifier.Notify(chunkID)
		}
	})

	e.log.Info().
		Hex("chunk_id", logging.ID(chunkID)).
		Uint64("height", chunk.Header.Height).
		Int("transactions", len(chunk.Transactions)).
		Msg("chunk reconstructed and delivered")
}

// IsComplete returns whether the chunk has been reconstructed and delivered.
func (e *Engine) IsComplete(chunkID ledger.Identifier) bool {
	return e.pool.Info(chunkID).Status == mempool.ChunkStatusComplete
}

// Status returns an observable snapshot of the chunk's progress.
func (e *Engine) Status(chunkID ledger.Identifier) mempool.ChunkInfo {
	return e.pool.Info(chunkID)
}

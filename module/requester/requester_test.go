package requester_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkmesh/chunkmesh-go/model/ledger"
	"github.com/chunkmesh/chunkmesh-go/model/messages"
	"github.com/chunkmesh/chunkmesh-go/module/mempool"
	"github.com/chunkmesh/chunkmesh-go/module/mempool/stdmap"
	"github.com/chunkmesh/chunkmesh-go/module/requester"
	"github.com/chunkmesh/chunkmesh-go/utils/unittest"
)

// sentRequest is one captured Unicast call.
type sentRequest struct {
	target  ledger.Identifier
	request messages.PartRequest
}

// conduitMock captures outgoing part requests.
type conduitMock struct {
	sync.Mutex
	sent []sentRequest
	fail bool
}

func (c *conduitMock) Unicast(event interface{}, target ledger.Identifier) error {
	c.Lock()
	defer c.Unlock()
	if c.fail {
		return fmt.Errorf("transport down")
	}
	request, ok := event.(*messages.PartRequest)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	c.sent = append(c.sent, sentRequest{target: target, request: *request})
	return nil
}

func (c *conduitMock) Publish(event interface{}, targets ...ledger.Identifier) error {
	return nil
}

func (c *conduitMock) all() []sentRequest {
	c.Lock()
	defer c.Unlock()
	return append([]sentRequest{}, c.sent...)
}

func newRequester(con *conduitMock, maxAttempts uint64) (*requester.Requester, *stdmap.PartRequests) {
	pending := stdmap.NewPartRequests()
	r := requester.New(
		unittest.Logger(),
		con,
		pending,
		requester.RetryAfterQualifier,
		mempool.ExponentialUpdater(2, 8*time.Second, time.Second),
		requester.RotatingSelector(),
		maxAttempts,
	)
	return r, pending
}

// TestTickDispatchesQueuedRequests checks that a freshly registered request
// is dispatched on the next tick to the first candidate.
func TestTickDispatchesQueuedRequests(t *testing.T) {
	con := &conduitMock{}
	r, _ := newRequester(con, 3)

	chunkID := unittest.IdentifierFixture()
	candidates := unittest.IdentifierListFixture(3)
	r.Request(chunkID, 2, 10, candidates)

	now := time.Now()
	r.Tick(now)

	sent := con.all()
	require.Len(t, sent, 1)
	assert.Equal(t, candidates[0], sent[0].target)
	assert.Equal(t, chunkID, sent[0].request.ChunkID)
	assert.Equal(t, uint32(2), sent[0].request.Index)

	// re-registering the pair is a no-op and nothing is due before the
	// backoff interval elapses
	r.Request(chunkID, 2, 10, candidates)
	r.Tick(now.Add(500 * time.Millisecond))
	assert.Len(t, con.all(), 1)
}

// TestRetryRotatesTargets checks the backoff schedule and that retries walk
// through the candidate holders.
func TestRetryRotatesTargets(t *testing.T) {
	con := &conduitMock{}
	r, _ := newRequester(con, 10)

	chunkID := unittest.IdentifierFixture()
	candidates := unittest.IdentifierListFixture(2)
	r.Request(chunkID, 0, 10, candidates)

	now := time.Now()
	r.Tick(now) // attempt 1, retry after 1s
	r.Tick(now.Add(time.Second))
	r.Tick(now.Add(3 * time.Second))

	sent := con.all()
	require.Len(t, sent, 3)
	assert.Equal(t, candidates[0], sent[0].target)
	assert.Equal(t, candidates[1], sent[1].target)
	assert.Equal(t, candidates[0], sent[2].target)

	// nonces differ between attempts
	assert.NotEqual(t, sent[0].request.Nonce, sent[1].request.Nonce)
}

// TestAbandonAfterMaxAttempts checks that the request stops being dispatched
// once the attempt budget is exhausted, while remaining tracked so the pair
// is not re-requested.
func TestAbandonAfterMaxAttempts(t *testing.T) {
	con := &conduitMock{}
	r, pending := newRequester(con, 2)

	chunkID := unittest.IdentifierFixture()
	r.Request(chunkID, 0, 10, unittest.IdentifierListFixture(1))

	now := time.Now()
	for i := 0; i < 5; i++ {
		r.Tick(now.Add(time.Duration(i) * 10 * time.Second))
	}

	assert.Len(t, con.all(), 2)
	assert.Empty(t, r.Outstanding(chunkID))
	assert.Equal(t, uint(1), pending.Size())
}

// TestNoCandidatesAbandonsImmediately checks that a request without any
// candidate holder is abandoned on its first tick.
func TestNoCandidatesAbandonsImmediately(t *testing.T) {
	con := &conduitMock{}
	r, _ := newRequester(con, 3)

	chunkID := unittest.IdentifierFixture()
	r.Request(chunkID, 0, 10, nil)
	r.Tick(time.Now())

	assert.Empty(t, con.all())
	assert.Empty(t, r.Outstanding(chunkID))
}

// TestReceivedResponseStopsRetries checks that a response clears the pending
// request so later ticks do not re-request the part.
func TestReceivedResponseStopsRetries(t *testing.T) {
	con := &conduitMock{}
	r, _ := newRequester(con, 10)

	chunkID := unittest.IdentifierFixture()
	r.Request(chunkID, 0, 10, unittest.IdentifierListFixture(1))

	now := time.Now()
	r.Tick(now)
	require.Len(t, con.all(), 1)

	assert.True(t, r.ReceivedResponse(chunkID, 0))
	assert.False(t, r.ReceivedResponse(chunkID, 0))

	r.Tick(now.Add(time.Minute))
	assert.Len(t, con.all(), 1)
	assert.Empty(t, r.Outstanding(chunkID))
}

// TestCancelChunkDropsAllRequests checks that cancellation clears every
// pending request of the chunk but leaves other chunks untouched.
func TestCancelChunkDropsAllRequests(t *testing.T) {
	con := &conduitMock{}
	r, pending := newRequester(con, 10)

	chunkID := unittest.IdentifierFixture()
	otherID := unittest.IdentifierFixture()
	for index := uint32(0); index < 4; index++ {
		r.Request(chunkID, index, 10, unittest.IdentifierListFixture(1))
	}
	r.Request(otherID, 0, 11, unittest.IdentifierListFixture(1))

	r.CancelChunk(chunkID)

	assert.Empty(t, r.Outstanding(chunkID))
	assert.Len(t, r.Outstanding(otherID), 1)
	assert.Equal(t, uint(1), pending.Size())

	r.Tick(time.Now())
	sent := con.all()
	require.Len(t, sent, 1)
	assert.Equal(t, otherID, sent[0].request.ChunkID)
}

// TestSendFailureKeepsRequestDue checks that a transport error does not lose
// the request: the attempt is recorded and the request is retried after its
// backoff interval.
func TestSendFailureKeepsRequestDue(t *testing.T) {
	con := &conduitMock{fail: true}
	r, _ := newRequester(con, 10)

	chunkID := unittest.IdentifierFixture()
	r.Request(chunkID, 0, 10, unittest.IdentifierListFixture(1))

	now := time.Now()
	r.Tick(now)
	assert.Empty(t, con.all())
	assert.Len(t, r.Outstanding(chunkID), 1)

	con.Lock()
	con.fail = false
	con.Unlock()

	r.Tick(now.Add(2 * time.Second))
	assert.Len(t, con.all(), 1)
}

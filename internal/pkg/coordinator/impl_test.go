package coordinator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kurabe/internal/pkg/coordinator"
	"github.com/vreid/kurabe/internal/pkg/engine"
	"github.com/vreid/kurabe/internal/pkg/oracle"
)

const (
	owner    = "owner"
	provider = "provider"
	cooldown = 30 * time.Second
)

type fixture struct {
	engine *engine.LocalEngine
	oracle *oracle.LocalOracle
	coord  *coordinator.Coordinator
	events chan coordinator.Event

	clock time.Time
}

type delivery struct {
	requestID uint64
	cleartext []byte
	proof     []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		engine: engine.NewLocalEngine(),
		events: make(chan coordinator.Event, 100),
		clock:  time.Unix(1_700_000_000, 0),
	}

	f.oracle = oracle.NewLocalOracle(f.engine, []byte("test-secret"))

	coord, err := coordinator.New(coordinator.Config{
		Owner:          owner,
		SystemIdentity: "kurabe-test",
		Cooldown:       cooldown,
		Engine:         f.engine,
		Oracle:         f.oracle,
		Verifier:       f.oracle,
		Events:         f.events,
		Now:            func() time.Time { return f.clock },
	})
	require.NoError(t, err)

	f.coord = coord

	require.NoError(t, coord.AddProvider(owner, provider))

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) deliver() []delivery {
	var deliveries []delivery

	f.oracle.SetCallback(func(requestID uint64, cleartext, proof []byte) error {
		deliveries = append(deliveries, delivery{requestID, cleartext, proof})

		return nil
	})

	f.oracle.DeliverPending()

	return deliveries
}

func (f *fixture) drainEvents() []coordinator.Event {
	var events []coordinator.Event

	for {
		select {
		case event := <-f.events:
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventTypes(events []coordinator.Event) []coordinator.EventType {
	types := make([]coordinator.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}

	return types
}

func TestSubmitRequiresOpenBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.coord.SubmitScore(provider, "alice", 1500)
	assert.ErrorIs(t, err, coordinator.ErrBatchAlreadyClosed)

	_, ok := f.coord.SubmissionFor(0, "alice")
	assert.False(t, ok)

	_, err = f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))

	require.NoError(t, f.coord.CloseBatch(owner))

	f.advance(cooldown)

	err = f.coord.SubmitScore(provider, "alice", 1600)
	assert.ErrorIs(t, err, coordinator.ErrBatchAlreadyClosed)
}

func TestSubmitScoreNonProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	err = f.coord.SubmitScore("mallory", "alice", 1500)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	_, ok := f.coord.SubmissionFor(1, "alice")
	assert.False(t, ok)
}

func TestSubmissionCooldown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))

	f.advance(5 * time.Second)

	err = f.coord.SubmitScore(provider, "alice", 1510)
	assert.ErrorIs(t, err, coordinator.ErrCooldownActive)

	// Cooldown is keyed per player.
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1400))

	f.advance(cooldown)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1510))
}

func TestSubmissionOverwritesWithinBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))

	first, ok := f.coord.SubmissionFor(1, "alice")
	require.True(t, ok)

	f.advance(cooldown)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1650))

	second, ok := f.coord.SubmissionFor(1, "alice")
	require.True(t, ok)

	assert.NotEqual(t, first.Score, second.Score)
}

func TestCooldownMinimumBound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.coord.SetCooldown(owner, 5*time.Second)
	assert.ErrorIs(t, err, coordinator.ErrInvalidCooldown)

	err = f.coord.SetCooldown(provider, time.Minute)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	require.NoError(t, f.coord.SetCooldown(owner, time.Minute))

	_, err = coordinator.New(coordinator.Config{
		Owner:    owner,
		Cooldown: time.Second,
	})
	assert.ErrorIs(t, err, coordinator.ErrInvalidCooldown)
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(provider)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	batchID, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), batchID)

	_, err = f.coord.OpenBatch(owner)
	assert.ErrorIs(t, err, coordinator.ErrBatchAlreadyOpen)

	require.NoError(t, f.coord.CloseBatch(owner))

	err = f.coord.CloseBatch(owner)
	assert.ErrorIs(t, err, coordinator.ErrBatchAlreadyClosed)

	// Ids are monotonic and never reused.
	batchID, err = f.coord.OpenBatch(owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), batchID)
}

func TestPauseGatesMutations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.coord.Pause(provider)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	require.NoError(t, f.coord.Pause(owner))

	_, err = f.coord.OpenBatch(owner)
	assert.ErrorIs(t, err, coordinator.ErrSystemPaused)

	err = f.coord.SubmitScore(provider, "alice", 1500)
	assert.ErrorIs(t, err, coordinator.ErrSystemPaused)

	err = f.coord.AddProvider(owner, "other")
	assert.ErrorIs(t, err, coordinator.ErrSystemPaused)

	err = f.coord.Pause(owner)
	assert.ErrorIs(t, err, coordinator.ErrSystemPaused)

	err = f.coord.Unpause(provider)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	require.NoError(t, f.coord.Unpause(owner))

	_, err = f.coord.OpenBatch(owner)
	require.NoError(t, err)
}

func TestRemovedProviderLosesAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.RemoveProvider(owner, provider))

	err = f.coord.SubmitScore(provider, "alice", 1500)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)
}

func TestRequestMatchSamePlayer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))

	_, err = f.coord.RequestMatch(provider, "alice", "alice")
	assert.ErrorIs(t, err, coordinator.ErrInvalidSubmission)
}

func TestRequestMatchMissingSubmission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	assert.ErrorIs(t, err, coordinator.ErrInvalidSubmission)

	_, err = f.coord.RequestMatch(provider, "bob", "alice")
	assert.ErrorIs(t, err, coordinator.ErrInvalidSubmission)
}

func TestRequestMatchCooldown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1500))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1400))

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	assert.ErrorIs(t, err, coordinator.ErrCooldownActive)

	// The initiator's cooldown does not block the other player.
	_, err = f.coord.RequestMatch(provider, "bob", "alice")
	require.NoError(t, err)

	f.advance(cooldown)

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)
}

func TestMatchFinalizesExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1200))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1550))

	receipt, err := f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Commitment)
	assert.Equal(t, uint64(1), receipt.BatchID)

	deliveries := f.deliver()
	require.Len(t, deliveries, 1)
	require.Equal(t, receipt.RequestID, deliveries[0].requestID)

	gap, err := f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, deliveries[0].proof)
	require.NoError(t, err)
	assert.Equal(t, int64(350), gap)

	types := eventTypes(f.drainEvents())
	assert.Contains(t, types, coordinator.EventMatchRequested)
	assert.Contains(t, types, coordinator.EventMatchCompleted)

	_, err = f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, deliveries[0].proof)
	assert.ErrorIs(t, err, coordinator.ErrReplayDetected)

	_, err = f.coord.OnDecrypted(deliveries[0].requestID, []byte("anything"), []byte("anything"))
	assert.ErrorIs(t, err, coordinator.ErrReplayDetected)
}

func TestMatchCompletedEventDisclosesOnlyHandles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1200))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1550))

	receipt, err := f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)

	deliveries := f.deliver()
	require.Len(t, deliveries, 1)

	_, err = f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, deliveries[0].proof)
	require.NoError(t, err)

	var completed *coordinator.Event

	for _, event := range f.drainEvents() {
		if event.Type == coordinator.EventMatchCompleted {
			completed = &event

			break
		}
	}

	require.NotNil(t, completed)
	assert.Equal(t, receipt.RequestID, completed.Data["request_id"])
	assert.Equal(t, "alice", completed.Data["player1"])
	assert.Equal(t, "bob", completed.Data["player2"])

	sub1, ok := f.coord.SubmissionFor(1, "alice")
	require.True(t, ok)
	sub2, ok := f.coord.SubmissionFor(1, "bob")
	require.True(t, ok)

	// Encrypted handles, never raw scores.
	assert.Equal(t, f.engine.Export(sub1.Score), completed.Data["score1"])
	assert.Equal(t, f.engine.Export(sub2.Score), completed.Data["score2"])
	assert.Equal(t, int64(350), completed.Data["gap"])
}

func TestOnDecryptedUnknownRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OnDecrypted(999, []byte("cleartext"), []byte("proof"))
	assert.ErrorIs(t, err, coordinator.ErrUnknownRequest)
}

func TestOnDecryptedInvalidProof(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1200))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1550))

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)

	deliveries := f.deliver()
	require.Len(t, deliveries, 1)

	forgedProof := append([]byte(nil), deliveries[0].proof...)
	forgedProof[0]++

	_, err = f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, forgedProof)
	assert.ErrorIs(t, err, coordinator.ErrInvalidProof)

	forgedCleartext := append([]byte(nil), deliveries[0].cleartext...)
	forgedCleartext[0]++

	_, err = f.coord.OnDecrypted(deliveries[0].requestID, forgedCleartext, deliveries[0].proof)
	assert.ErrorIs(t, err, coordinator.ErrInvalidProof)

	// Proof failure finalizes nothing; the genuine delivery still lands.
	gap, err := f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, deliveries[0].proof)
	require.NoError(t, err)
	assert.Equal(t, int64(350), gap)
}

func TestLedgerOverwriteDoesNotAffectPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1200))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1550))

	receipt, err := f.coord.RequestMatch(provider, "alice", "bob")
	require.NoError(t, err)

	f.advance(cooldown)

	// Overwrite alice's score after the request captured its handle.
	require.NoError(t, f.coord.SubmitScore(provider, "alice", 9000))

	deliveries := f.deliver()
	require.Len(t, deliveries, 1)

	gap, err := f.coord.OnDecrypted(deliveries[0].requestID, deliveries[0].cleartext, deliveries[0].proof)
	require.NoError(t, err)
	assert.Equal(t, int64(350), gap)
	assert.Equal(t, receipt.RequestID, deliveries[0].requestID)
}

func TestRequestsInNewBatchNeedFreshSubmissions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.OpenBatch(owner)
	require.NoError(t, err)

	require.NoError(t, f.coord.SubmitScore(provider, "alice", 1200))
	require.NoError(t, f.coord.SubmitScore(provider, "bob", 1550))

	require.NoError(t, f.coord.CloseBatch(owner))

	_, err = f.coord.OpenBatch(owner)
	require.NoError(t, err)

	_, err = f.coord.RequestMatch(provider, "alice", "bob")
	assert.ErrorIs(t, err, coordinator.ErrInvalidSubmission)
}

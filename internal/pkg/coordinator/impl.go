// Package coordinator implements the encrypted-matchmaking protocol: batch
// lifecycle, cooldown-gated score submission, pairing requests that derive
// a committed computation over encrypted scores, and replay-safe
// finalization of the oracle's asynchronous answer.
package coordinator

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vreid/kurabe/internal/pkg/engine"
	"github.com/vreid/kurabe/internal/pkg/oracle"
)

const MinCooldown = 10 * time.Second

type Config struct {
	Owner          string
	SystemIdentity string
	Cooldown       time.Duration

	Engine   engine.Engine
	Oracle   oracle.Client
	Verifier oracle.Verifier

	Events chan<- Event

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Coordinator is a single-writer state machine: one mutex guards every
// mutating operation, so each either fully applies and emits its event or
// leaves state untouched. The only suspension point in the protocol is the
// oracle round-trip, and no lock is held across it: RequestMatch returns
// once the request is submitted, and OnDecrypted re-establishes every
// precondition from stored state.
type Coordinator struct {
	mu  sync.Mutex
	now func() time.Time

	owner     string
	providers map[string]bool
	paused    bool

	cooldown         time.Duration
	lastSubmissionAt map[string]time.Time
	lastRequestAt    map[string]time.Time

	batchID   uint64
	batchOpen bool

	submissions map[submissionKey]Submission
	requests    map[uint64]MatchRequest
	contexts    map[uint64]*DecryptionContext

	systemIdentity string
	engine         engine.Engine
	oracle         oracle.Client
	verifier       oracle.Verifier
	events         chan<- Event
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Cooldown < MinCooldown {
		return nil, ErrInvalidCooldown
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		now: now,

		owner:     cfg.Owner,
		providers: make(map[string]bool),

		cooldown:         cfg.Cooldown,
		lastSubmissionAt: make(map[string]time.Time),
		lastRequestAt:    make(map[string]time.Time),

		submissions: make(map[submissionKey]Submission),
		requests:    make(map[uint64]MatchRequest),
		contexts:    make(map[uint64]*DecryptionContext),

		systemIdentity: cfg.SystemIdentity,
		engine:         cfg.Engine,
		oracle:         cfg.Oracle,
		verifier:       cfg.Verifier,
		events:         cfg.Events,
	}, nil
}

func (c *Coordinator) AddProvider(caller, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	c.providers[provider] = true

	c.emit(EventProviderAdded, map[string]any{"provider": provider})

	return nil
}

func (c *Coordinator) RemoveProvider(caller, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	delete(c.providers, provider)

	c.emit(EventProviderRemoved, map[string]any{"provider": provider})

	return nil
}

func (c *Coordinator) Pause(caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	c.paused = true

	c.emit(EventPaused, map[string]any{})

	return nil
}

// Unpause is the one mutation the pause gate does not apply to.
func (c *Coordinator) Unpause(caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	if !c.paused {
		return nil
	}

	c.paused = false

	c.emit(EventUnpaused, map[string]any{})

	return nil
}

func (c *Coordinator) SetCooldown(caller string, cooldown time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	if cooldown < MinCooldown {
		return ErrInvalidCooldown
	}

	c.cooldown = cooldown

	c.emit(EventCooldownChanged, map[string]any{"cooldown_seconds": int64(cooldown / time.Second)})

	return nil
}

func (c *Coordinator) OpenBatch(caller string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return 0, err
	}

	err = c.requireRunning()
	if err != nil {
		return 0, err
	}

	if c.batchOpen {
		return 0, ErrBatchAlreadyOpen
	}

	c.batchID++
	c.batchOpen = true

	c.emit(EventBatchOpened, map[string]any{"batch_id": c.batchID})

	return c.batchID, nil
}

func (c *Coordinator) CloseBatch(caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireOwner(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	if !c.batchOpen {
		return ErrBatchAlreadyClosed
	}

	c.batchOpen = false

	c.emit(EventBatchClosed, map[string]any{"batch_id": c.batchID})

	return nil
}

// SubmitScore encrypts score through the engine and records it for player
// in the current batch.
func (c *Coordinator) SubmitScore(caller, player string, score int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.checkSubmission(caller, player)
	if err != nil {
		return err
	}

	handle, err := c.engine.Encrypt(score)
	if err != nil {
		return fmt.Errorf("failed to encrypt score: %w", err)
	}

	c.storeSubmission(player, handle)

	return nil
}

// SubmitEncryptedScore records an already-encrypted score for player in the
// current batch.
func (c *Coordinator) SubmitEncryptedScore(caller, player string, score engine.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.checkSubmission(caller, player)
	if err != nil {
		return err
	}

	c.storeSubmission(player, score)

	return nil
}

// RequestMatch derives the encrypted absolute score gap for a candidate
// pairing, commits to it, and submits it for decryption. The score handles
// are captured here; later ledger overwrites do not affect the request.
func (c *Coordinator) RequestMatch(caller, player1, player2 string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.requireProvider(caller)
	if err != nil {
		return nil, err
	}

	err = c.requireRunning()
	if err != nil {
		return nil, err
	}

	if !c.batchOpen {
		return nil, ErrBatchAlreadyClosed
	}

	now := c.now()
	if now.Before(c.lastRequestAt[player1].Add(c.cooldown)) {
		return nil, ErrCooldownActive
	}

	if player1 == player2 {
		return nil, ErrInvalidSubmission
	}

	sub1, ok := c.submissions[submissionKey{c.batchID, player1}]
	if !ok {
		return nil, ErrInvalidSubmission
	}

	sub2, ok := c.submissions[submissionKey{c.batchID, player2}]
	if !ok {
		return nil, ErrInvalidSubmission
	}

	handles, err := c.deriveGap(sub1.Score, sub2.Score)
	if err != nil {
		return nil, fmt.Errorf("failed to derive score gap: %w", err)
	}

	commitment := c.commitmentFor(handles)

	requestID, err := c.oracle.Request(handles)
	if err != nil {
		return nil, fmt.Errorf("failed to submit decryption request: %w", err)
	}

	c.requests[requestID] = MatchRequest{
		RequestID:   requestID,
		Player1:     player1,
		Player2:     player2,
		Score1:      sub1.Score,
		Score2:      sub2.Score,
		RequestedAt: now,
	}

	c.contexts[requestID] = &DecryptionContext{
		RequestID:  requestID,
		BatchID:    c.batchID,
		Commitment: commitment,
	}

	c.lastRequestAt[player1] = now

	receipt := &Receipt{
		RequestID:  requestID,
		BatchID:    c.batchID,
		Commitment: hex.EncodeToString(commitment[:]),
	}

	c.emit(EventMatchRequested, map[string]any{
		"request_id": requestID,
		"batch_id":   receipt.BatchID,
		"commitment": receipt.Commitment,
	})

	return receipt, nil
}

// OnDecrypted finalizes a pairing from an oracle callback. The derived
// computation is re-run from the stored score handles rather than trusting
// anything the caller supplies; the recomputed commitment must match the
// one stored at request time byte for byte, and the proof must verify.
// Succeeds at most once per request id.
func (c *Coordinator) OnDecrypted(requestID uint64, cleartext, proof []byte) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.contexts[requestID]
	if !ok {
		return 0, ErrUnknownRequest
	}

	if ctx.Processed {
		return 0, ErrReplayDetected
	}

	request := c.requests[requestID]

	handles, err := c.deriveGap(request.Score1, request.Score2)
	if err != nil {
		return 0, fmt.Errorf("failed to re-derive score gap: %w", err)
	}

	if c.commitmentFor(handles) != ctx.Commitment {
		return 0, ErrStateMismatch
	}

	if !c.verifier.VerifyProof(requestID, cleartext, proof) {
		return 0, ErrInvalidProof
	}

	if len(cleartext) != 8 {
		return 0, fmt.Errorf("malformed cleartext: got %d bytes", len(cleartext))
	}

	//nolint:gosec // Intentional conversion from binary encoding
	gap := int64(binary.LittleEndian.Uint64(cleartext))

	ctx.Processed = true

	c.emit(EventMatchCompleted, map[string]any{
		"request_id": requestID,
		"batch_id":   ctx.BatchID,
		"player1":    request.Player1,
		"player2":    request.Player2,
		"score1":     c.engine.Export(request.Score1),
		"score2":     c.engine.Export(request.Score2),
		"gap":        gap,
	})

	return gap, nil
}

// CurrentBatch reports the latest batch id and whether it is open.
func (c *Coordinator) CurrentBatch() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.batchID, c.batchOpen
}

// SubmissionFor reads a recorded submission.
func (c *Coordinator) SubmissionFor(batchID uint64, player string) (Submission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	submission, ok := c.submissions[submissionKey{batchID, player}]

	return submission, ok
}

func (c *Coordinator) requireOwner(caller string) error {
	if caller != c.owner {
		return ErrPermissionDenied
	}

	return nil
}

func (c *Coordinator) requireProvider(caller string) error {
	if !c.providers[caller] {
		return ErrPermissionDenied
	}

	return nil
}

func (c *Coordinator) requireRunning() error {
	if c.paused {
		return ErrSystemPaused
	}

	return nil
}

func (c *Coordinator) checkSubmission(caller, player string) error {
	err := c.requireProvider(caller)
	if err != nil {
		return err
	}

	err = c.requireRunning()
	if err != nil {
		return err
	}

	if !c.batchOpen {
		return ErrBatchAlreadyClosed
	}

	if c.now().Before(c.lastSubmissionAt[player].Add(c.cooldown)) {
		return ErrCooldownActive
	}

	return nil
}

func (c *Coordinator) storeSubmission(player string, score engine.Handle) {
	now := c.now()

	c.submissions[submissionKey{c.batchID, player}] = Submission{
		Player:      player,
		BatchID:     c.batchID,
		Score:       score,
		SubmittedAt: now,
	}

	c.lastSubmissionAt[player] = now

	c.emit(EventScoreSubmitted, map[string]any{
		"player":   player,
		"batch_id": c.batchID,
		"score":    c.engine.Export(score),
	})
}

// deriveGap computes |score1 - score2| entirely inside the engine. The
// returned list is ordered and that ordering is part of the commitment;
// new derived values must be appended, never reordered.
func (c *Coordinator) deriveGap(score1, score2 engine.Handle) ([]engine.Handle, error) {
	diff, err := c.engine.Sub(score1, score2)
	if err != nil {
		return nil, fmt.Errorf("sub: %w", err)
	}

	zero, err := c.engine.Trivial(0)
	if err != nil {
		return nil, fmt.Errorf("trivial: %w", err)
	}

	nonNegative, err := c.engine.Ge(diff, zero)
	if err != nil {
		return nil, fmt.Errorf("ge: %w", err)
	}

	negated, err := c.engine.Neg(diff)
	if err != nil {
		return nil, fmt.Errorf("neg: %w", err)
	}

	gap, err := c.engine.Select(nonNegative, diff, negated)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	return []engine.Handle{gap}, nil
}

// commitmentFor digests the exported handles in order, mixed with the
// system identity so a callback for another deployment can never replay
// here.
func (c *Coordinator) commitmentFor(handles []engine.Handle) [32]byte {
	parts := make([]string, 0, len(handles)+1)
	for _, h := range handles {
		parts = append(parts, c.engine.Export(h))
	}

	parts = append(parts, c.systemIdentity)

	return sha256.Sum256([]byte(strings.Join(parts, "|")))
}

func (c *Coordinator) emit(eventType EventType, data map[string]any) {
	if c.events == nil {
		return
	}

	c.events <- Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   c.now(),
		Data: data,
	}
}

package coordinator

import (
	"time"

	"github.com/vreid/kurabe/internal/pkg/engine"
)

type EventType string

const (
	EventProviderAdded   EventType = "provider_added"
	EventProviderRemoved EventType = "provider_removed"
	EventPaused          EventType = "paused"
	EventUnpaused        EventType = "unpaused"
	EventCooldownChanged EventType = "cooldown_changed"
	EventBatchOpened     EventType = "batch_opened"
	EventBatchClosed     EventType = "batch_closed"
	EventScoreSubmitted  EventType = "score_submitted"
	EventMatchRequested  EventType = "match_requested"
	EventMatchCompleted  EventType = "match_completed"
)

// Event is emitted after every committed state change. Data carries the
// fields named in the protocol: encrypted-score handles appear in exported
// form, cleartext scores never do.
type Event struct {
	ID   string         `json:"id"`
	Type EventType      `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// Submission is the encrypted score a provider recorded for a player in a
// batch. A later submission in the same batch overwrites the earlier one.
type Submission struct {
	Player      string
	BatchID     uint64
	Score       engine.Handle
	SubmittedAt time.Time
}

// MatchRequest captures a pairing at request time. The score handles are
// copies taken from the ledger; overwriting the ledger afterwards does not
// touch a pending request. Immutable once created.
type MatchRequest struct {
	RequestID   uint64
	Player1     string
	Player2     string
	Score1      engine.Handle
	Score2      engine.Handle
	RequestedAt time.Time
}

// DecryptionContext binds an oracle request to the exact computation that
// was submitted. Processed flips to true at most once.
type DecryptionContext struct {
	RequestID  uint64
	BatchID    uint64
	Commitment [32]byte
	Processed  bool
}

// Receipt is returned by RequestMatch so callers can audit the eventual
// callback against the commitment.
type Receipt struct {
	RequestID  uint64 `json:"request_id"`
	BatchID    uint64 `json:"batch_id"`
	Commitment string `json:"commitment"`
}

type submissionKey struct {
	batchID uint64
	player  string
}

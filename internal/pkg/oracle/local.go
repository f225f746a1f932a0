package oracle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vreid/kurabe/internal/pkg/engine"
)

var ErrEmptyRequest = errors.New("empty ciphertext list")

// LocalOracle pairs with engine.LocalEngine: it decrypts queued requests
// through the engine's arena and signs each cleartext with HMAC-SHA256 so
// callbacks can be verified. Requests queue until DeliverPending runs,
// keeping the round-trip asynchronous from the requester's point of view.
type LocalOracle struct {
	mu sync.Mutex

	engine *engine.LocalEngine
	secret []byte

	callback Callback

	nextID  uint64
	pending []job
}

type job struct {
	id      uint64
	handles []engine.Handle
}

func NewLocalOracle(e *engine.LocalEngine, secret []byte) *LocalOracle {
	return &LocalOracle{
		engine: e,
		secret: secret,
		nextID: 1,
	}
}

// SetCallback registers the receiver for decrypted results. Must be set
// before the first delivery.
func (o *LocalOracle) SetCallback(cb Callback) {
	o.mu.Lock()
	o.callback = cb
	o.mu.Unlock()
}

func (o *LocalOracle) Request(handles []engine.Handle) (uint64, error) {
	if len(handles) == 0 {
		return 0, ErrEmptyRequest
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++

	o.pending = append(o.pending, job{
		id:      id,
		handles: append([]engine.Handle(nil), handles...),
	})

	return id, nil
}

// DeliverPending decrypts every queued request and invokes the callback
// with cleartext and proof. Callback errors are logged, not retried; the
// requester decides what a failed finalization means.
func (o *LocalOracle) DeliverPending() {
	o.mu.Lock()
	jobs := o.pending
	o.pending = nil
	callback := o.callback
	o.mu.Unlock()

	if callback == nil {
		return
	}

	for _, j := range jobs {
		cleartext, err := o.decrypt(j.handles)
		if err != nil {
			log.Printf("[oracle] failed to decrypt request %d: %v", j.id, err)

			continue
		}

		proof := o.sign(j.id, cleartext)

		err = callback(j.id, cleartext, proof)
		if err != nil {
			log.Printf("[oracle] callback rejected request %d: %v", j.id, err)
		}
	}
}

// Start delivers pending requests on a fixed interval.
func (o *LocalOracle) Start(interval time.Duration) {
	go func() {
		for range time.Tick(interval) {
			o.DeliverPending()
		}
	}()
}

func (o *LocalOracle) VerifyProof(requestID uint64, cleartext, proof []byte) bool {
	return hmac.Equal(o.sign(requestID, cleartext), proof)
}

// The wire cleartext is the little-endian sum of the decrypted values. The
// coordinator only ever submits a single derived magnitude per request, so
// the sum is that magnitude.
func (o *LocalOracle) decrypt(handles []engine.Handle) ([]byte, error) {
	var total int64

	for _, h := range handles {
		value, err := o.engine.Decrypt(h)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt handle: %w", err)
		}

		total += value
	}

	buf := make([]byte, 8)
	//nolint:gosec // Intentional conversion for binary encoding
	binary.LittleEndian.PutUint64(buf, uint64(total))

	return buf, nil
}

func (o *LocalOracle) sign(requestID uint64, cleartext []byte) []byte {
	h := hmac.New(sha256.New, o.secret)
	fmt.Fprintf(h, "%d|", requestID)
	h.Write(cleartext)

	return h.Sum(nil)
}

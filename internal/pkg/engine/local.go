package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// LocalEngine is a process-local stand-in for a real encrypted-arithmetic
// backend. Values live in an in-memory arena keyed by their handle; only
// the paired decryption oracle is expected to call Decrypt.
//
// Encrypt draws a random handle. Derived handles are digests over the
// operation name and the operand handles, so re-deriving a computation from
// the same inputs reproduces the same handles.
type LocalEngine struct {
	mu    sync.Mutex
	arena map[Handle]int64
}

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{
		arena: make(map[Handle]int64),
	}
}

func (e *LocalEngine) Encrypt(value int64) (Handle, error) {
	buf := make([]byte, 32)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to generate handle: %w", err)
	}

	h := Handle(hex.EncodeToString(buf))

	e.mu.Lock()
	e.arena[h] = value
	e.mu.Unlock()

	return h, nil
}

func (e *LocalEngine) Trivial(value int64) (Handle, error) {
	h := derivedHandle("trivial", Handle(fmt.Sprintf("%d", value)))

	e.mu.Lock()
	e.arena[h] = value
	e.mu.Unlock()

	return h, nil
}

func (e *LocalEngine) Sub(a, b Handle) (Handle, error) {
	return e.binaryOp("sub", a, b, func(x, y int64) int64 { return x - y })
}

func (e *LocalEngine) Neg(a Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.arena[a]
	if !ok {
		return "", ErrUnknownHandle
	}

	h := derivedHandle("neg", a)
	e.arena[h] = -x

	return h, nil
}

func (e *LocalEngine) Ge(a, b Handle) (Handle, error) {
	return e.binaryOp("ge", a, b, func(x, y int64) int64 {
		if x >= y {
			return 1
		}

		return 0
	})
}

func (e *LocalEngine) Select(cond, a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.arena[cond]
	if !ok {
		return "", ErrUnknownHandle
	}

	x, ok := e.arena[a]
	if !ok {
		return "", ErrUnknownHandle
	}

	y, ok := e.arena[b]
	if !ok {
		return "", ErrUnknownHandle
	}

	h := derivedHandle("select", cond, a, b)

	if c != 0 {
		e.arena[h] = x
	} else {
		e.arena[h] = y
	}

	return h, nil
}

func (e *LocalEngine) Export(h Handle) string {
	return string(h)
}

// Decrypt reads the cleartext behind a handle. Reserved for the decryption
// oracle; protocol code must never call it.
func (e *LocalEngine) Decrypt(h Handle) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, ok := e.arena[h]
	if !ok {
		return 0, ErrUnknownHandle
	}

	return value, nil
}

func (e *LocalEngine) binaryOp(op string, a, b Handle, f func(x, y int64) int64) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.arena[a]
	if !ok {
		return "", ErrUnknownHandle
	}

	y, ok := e.arena[b]
	if !ok {
		return "", ErrUnknownHandle
	}

	h := derivedHandle(op, a, b)
	e.arena[h] = f(x, y)

	return h, nil
}

func derivedHandle(op string, operands ...Handle) Handle {
	d := sha256.New()
	d.Write([]byte(op))

	for _, operand := range operands {
		d.Write([]byte("|"))
		d.Write([]byte(operand))
	}

	return Handle(hex.EncodeToString(d.Sum(nil)))
}

// Package oracle defines the boundary to the asynchronous decryption
// oracle. The coordinator submits an ordered list of ciphertext handles
// and, at some later point, receives a callback carrying the cleartext and
// a proof of authenticity. Delivery is not ordered, not guaranteed, and may
// repeat; callers must treat every callback as untrusted until verified.
package oracle

import "github.com/vreid/kurabe/internal/pkg/engine"

// Client submits decryption requests. Request is fire-and-forget: the
// oracle schedules the work out-of-band and picks the request id.
type Client interface {
	Request(handles []engine.Handle) (uint64, error)
}

// Verifier checks that a callback's cleartext was produced by the oracle
// for the given request.
type Verifier interface {
	VerifyProof(requestID uint64, cleartext, proof []byte) bool
}

// Callback is invoked by the oracle once a request has been decrypted.
type Callback func(requestID uint64, cleartext, proof []byte) error

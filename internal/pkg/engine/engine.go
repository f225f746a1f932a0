package engine

import "errors"

var ErrUnknownHandle = errors.New("unknown ciphertext handle")

// Handle is an opaque reference to an encrypted integer held by the
// arithmetic engine. Holders of a handle can combine it with other handles
// through the engine but can never read the underlying value.
type Handle string

// Engine performs integer arithmetic over encrypted values. Results are
// returned as new handles; cleartext never leaves the engine.
//
// Derived handles are deterministic in their operand handles: running the
// same operation on the same inputs yields the same handle. Callers rely on
// this to re-derive a computation and compare it against an earlier run.
type Engine interface {
	// Encrypt encrypts value under fresh randomness and returns its handle.
	Encrypt(value int64) (Handle, error)

	// Trivial deterministically injects a public constant as a handle.
	Trivial(value int64) (Handle, error)

	// Sub returns a handle for a - b.
	Sub(a, b Handle) (Handle, error)

	// Neg returns a handle for -a.
	Neg(a Handle) (Handle, error)

	// Ge returns a handle for the comparison bit a >= b (1 or 0).
	Ge(a, b Handle) (Handle, error)

	// Select returns a handle for the value of a if cond is non-zero,
	// b otherwise.
	Select(cond, a, b Handle) (Handle, error)

	// Export returns the stable wire form of a handle.
	Export(h Handle) string
}

package coordinator

import "errors"

var (
	ErrPermissionDenied   = errors.New("caller lacks the required role")
	ErrSystemPaused       = errors.New("system is paused")
	ErrCooldownActive     = errors.New("cooldown has not elapsed")
	ErrInvalidCooldown    = errors.New("cooldown below the minimum bound")
	ErrBatchAlreadyOpen   = errors.New("batch is already open")
	ErrBatchAlreadyClosed = errors.New("batch is already closed")
	ErrInvalidSubmission  = errors.New("invalid player pairing or missing submission")
	ErrUnknownRequest     = errors.New("unknown request id")
	ErrReplayDetected     = errors.New("request already processed")
	ErrStateMismatch      = errors.New("recomputed commitment does not match")
	ErrInvalidProof       = errors.New("oracle proof rejected")
)

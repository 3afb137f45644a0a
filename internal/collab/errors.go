package collab

import "errors"

// Semantic error codes sent back to the client in an `error` frame
// (spec.md §6, §7.2). These never disconnect the socket.
const (
	ErrCodeFutureOp     = "future_op"
	ErrCodeReadOnly     = "read_only"
	ErrCodeInvalidOp    = "invalid_op"
	ErrCodeTooLong      = "too_long"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeNotMember    = "not_member"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeUnknownType  = "unknown_type"
	ErrCodeMalformed    = "malformed"
)

var (
	errInvalidOp   = errors.New("invalid_op")
	errFutureOp    = errors.New("future_op")
	errReadOnly    = errors.New("read_only")
	errUnavailable = errors.New("unavailable")
)

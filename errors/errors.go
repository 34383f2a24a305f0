// Package errors defines an error representation that associates an error
// message with an error code, so callers can classify a failure (retry,
// rewind, fail fatally) without string-matching on error text.
//
// Errors created by this package are meant to be inspected by the committee
// loop, which maps codes onto the retry/fatal policy of the error handling
// table: transient I/O failures are Unavailable, validation failures are
// FailedPrecondition or InvalidArgument, and so on.
package errors

import "fmt"

// Code describes the class of an error.
type Code uint32

// Error codes, chosen from the set a committee node actually needs to
// distinguish. Values are deliberately not tied to any RPC framework: this
// node has no gRPC surface, so there is nothing to translate a Code into.
const (
	// Unknown is the default code for errors that have not been classified.
	Unknown Code = iota
	// InvalidArgument means the caller supplied a malformed request: an
	// out-of-range index, an oversize delta, a 4xx from the gateway.
	InvalidArgument
	// NotFound means a referenced batch, root pointer, or fact is missing.
	NotFound
	// FailedPrecondition means the system is not in a state where the
	// operation can succeed: a root mismatch, a reference batch whose root
	// no longer matches. This is the fatal path of spec §7.
	FailedPrecondition
	// Unavailable means a transient I/O failure occurred (network, storage
	// timeout) and the caller should retry with backoff.
	Unavailable
	// Aborted means the operation was aborted due to a concurrent change,
	// e.g. a CAS write losing a race.
	Aborted
	// Internal means an invariant was violated that the caller cannot act
	// on (e.g. an inconsistent fact store).
	Internal
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case FailedPrecondition:
		return "FailedPrecondition"
	case Unavailable:
		return "Unavailable"
	case Aborted:
		return "Aborted"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// CommitteeError is the interface satisfied by errors returned by this
// package. It is exported so callers can distinguish a classified error
// from an arbitrary one with a type assertion.
type CommitteeError interface {
	error
	Code() Code
}

type committeeError struct {
	code Code
	msg  string
}

func (e *committeeError) Error() string {
	return e.msg
}

func (e *committeeError) Code() Code {
	return e.code
}

// New returns an error with the given code and literal message.
func New(code Code, msg string) error {
	return &committeeError{code: code, msg: msg}
}

// Errorf returns an error with the given code, formatted per fmt.Sprintf.
func Errorf(code Code, format string, args ...interface{}) error {
	return &committeeError{code: code, msg: fmt.Sprintf(format, args...)}
}

// GetCode returns the Code of err if it is a CommitteeError, and Unknown
// otherwise.
func GetCode(err error) Code {
	if err == nil {
		return Unknown
	}
	if ce, ok := err.(CommitteeError); ok {
		return ce.Code()
	}
	return Unknown
}

// IsRetryable reports whether err should be retried with backoff at the I/O
// boundary that raised it, per spec §7.
func IsRetryable(err error) bool {
	return GetCode(err) == Unavailable
}

// IsFatal reports whether err should drive the committee loop into FATAL.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case FailedPrecondition, Internal:
		return true
	default:
		return false
	}
}

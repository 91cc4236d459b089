package verifier

import "fmt"

// Kind enumerates the terminal verification failure classes. The kind names
// are the external contract: transports embed them verbatim in ack status
// strings as "error:<kind>[:<detail>]".
type Kind string

const (
	KindMalformed            Kind = "Malformed"
	KindUnsupportedAlgo      Kind = "UnsupportedAlgo"
	KindDeviceUnknown        Kind = "DeviceUnknown"
	KindRevoked              Kind = "Revoked"
	KindHashMismatch         Kind = "HashMismatch"
	KindInvalidSignature     Kind = "InvalidSignature"
	KindPreviousHashMismatch Kind = "PreviousHashMismatch"
	KindNonceNotMonotonic    Kind = "NonceNotMonotonic"
)

// VerifyError is the typed rejection returned by the verifier. None are
// retried and none mutate chain state.
type VerifyError struct {
	Kind   Kind
	Detail string
}

func (e *VerifyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// StatusString renders the external "error:<kind>[:<detail>]" contract for
// embedding in ack status fields.
func (e *VerifyError) StatusString() string {
	if e.Detail != "" {
		return fmt.Sprintf("error:%s:%s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("error:%s", e.Kind)
}

// Is allows errors.Is comparisons against kind-only sentinels.
func (e *VerifyError) Is(target error) bool {
	ve, ok := target.(*VerifyError)
	return ok && ve.Kind == e.Kind && (ve.Detail == "" || ve.Detail == e.Detail)
}

// NewMalformed builds a Malformed error; transports use it for parse and
// schema failures that never reach ProcessEntry.
func NewMalformed(detail string) *VerifyError {
	return &VerifyError{Kind: KindMalformed, Detail: detail}
}

func errMalformed(detail string) *VerifyError { return NewMalformed(detail) }

func errUnsupportedAlgo(algo string) *VerifyError {
	return &VerifyError{Kind: KindUnsupportedAlgo, Detail: algo}
}

func errDeviceUnknown(deviceID string) *VerifyError {
	return &VerifyError{Kind: KindDeviceUnknown, Detail: deviceID}
}

func errRevoked(deviceID string) *VerifyError {
	return &VerifyError{Kind: KindRevoked, Detail: deviceID}
}

var (
	errHashMismatch         = &VerifyError{Kind: KindHashMismatch}
	errInvalidSignature     = &VerifyError{Kind: KindInvalidSignature}
	errPreviousHashMismatch = &VerifyError{Kind: KindPreviousHashMismatch}
	errNonceNotMonotonic    = &VerifyError{Kind: KindNonceNotMonotonic}
)

package email

import "fmt"

// FailureKind identifies the stage of a send that failed. The set is closed:
// every failed Send reports exactly one of these.
type FailureKind int

const (
	// ConfigMissing means the credentials were incomplete, so no connection
	// was attempted.
	ConfigMissing FailureKind = iota + 1
	// EnvelopeFailed means the message couldn't be built.
	EnvelopeFailed
	// ConnectionFailed covers dialing, the TLS handshake, and the greeting.
	ConnectionFailed
	// AuthFailed means the server refused the sender's credentials.
	AuthFailed
	// SubmissionRejected means the server refused the sender, the
	// recipient, or the message data.
	SubmissionRejected
)

var kindNames = map[FailureKind]string{
	ConfigMissing:      "configuration missing",
	EnvelopeFailed:     "envelope construction failed",
	ConnectionFailed:   "connection failed",
	AuthFailed:         "authentication failed",
	SubmissionRejected: "submission rejected",
}

func (k FailureKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown failure (%d)", int(k))
}

// Error implements error so a kind can be the target of errors.Is.
func (k FailureKind) Error() string {
	return k.String()
}

// DeliveryError describes why a send failed.
type DeliveryError struct {
	Kind  FailureKind
	Cause error
}

func (e *DeliveryError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the FailureKind of e.
func (e *DeliveryError) Is(target error) bool {
	k, ok := target.(FailureKind)
	return ok && k == e.Kind
}

// Result is the outcome of a single send. A nil Err means the SMTP server
// accepted the message for Recipient. It says nothing about whether the
// message reached a mailbox.
type Result struct {
	Recipient string
	Err       *DeliveryError
}

// OK reports whether the server accepted the message.
func (r Result) OK() bool {
	return r.Err == nil
}

// AsError returns r.Err as an error, or nil on success. Returning r.Err
// directly would produce a non-nil error interface holding a nil pointer.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Package protoerr defines the status taxonomy every handler in this
// module replies with, and the (Response, Outcome) contract handlers
// return instead of raising exceptions across the dispatcher boundary.
package protoerr

// Status mirrors the abstract status codes of the protocol
// specification. It never carries a stack trace or wrapped error --
// that stays server-side in the logs via internal/obslog.
type Status string

const (
	Ok                    Status = "Ok"
	ProtocolViolation     Status = "ProtocolViolation"
	Unsupported           Status = "Unsupported"
	BadRole               Status = "BadRole"
	BadConversationStatus Status = "BadConversationStatus"
	Unauthorized          Status = "Unauthorized"
	InvalidValue          Status = "InvalidValue"
	InvalidSignature      Status = "InvalidSignature"
	NotFound              Status = "NotFound"
	AlreadyExists         Status = "AlreadyExists"
	QuotaExceeded         Status = "QuotaExceeded"
	Uninitialized         Status = "Uninitialized"
	NotAvailable          Status = "NotAvailable"
	Rejected              Status = "Rejected"
	Busy                  Status = "Busy"
	Internal              Status = "Internal"
)

// Outcome tells the dispatcher what to do with the connection after a
// handler returns.
type Outcome int

const (
	// Continue keeps the connection open, whatever the status.
	Continue Outcome = iota
	// Close closes the connection after the (optional) response is
	// flushed. Used for protocol violations and unrecoverable faults.
	Close
)

// Result is the standard handler return shape. Body is the
// caller-supplied response payload (nil for outcomes that suspend the
// request, e.g. the relay's caller leg).
type Result struct {
	Status    Status
	Details   string
	Body      any
	Outcome   Outcome
	Suspended bool
}

// OK builds a Continue result carrying a successful body.
func OK(body any) Result {
	return Result{Status: Ok, Body: body, Outcome: Continue}
}

// Fail builds a Continue result carrying a typed failure.
func Fail(status Status, details string) Result {
	return Result{Status: status, Details: details, Outcome: Continue}
}

// FailClose builds a Close result -- used for protocol violations and
// role/status precondition failures, both of which end the connection.
func FailClose(status Status, details string) Result {
	return Result{Status: status, Details: details, Outcome: Close}
}

// Suspend produces a Result the connection loop must not turn into an
// immediate reply: the handler has taken responsibility for delivering
// the response itself, later, possibly from a different goroutine (the
// relay's caller leg, a forwarded relay message).
func Suspend() Result {
	return Result{Status: Ok, Outcome: Continue, Suspended: true}
}

// InternalError wraps an unexpected server-side failure. The caller is
// expected to have already logged the underlying error; this Result
// only carries the client-facing generic status.
func InternalError() Result {
	return Result{Status: Internal, Outcome: Continue}
}

package mixanalytic

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed analysis call.
type ErrorKind string

const (
	// KindInput means the caller handed us an unusable payload. No network
	// call was made.
	KindInput ErrorKind = "InputError"
	// KindProtocol means the remote host answered but violated its own
	// contract (non-JSON body, missing token, missing file_id).
	KindProtocol ErrorKind = "ProtocolError"
	// KindUpstream means the remote host answered with a terminal non-200
	// status after retries were exhausted.
	KindUpstream ErrorKind = "UpstreamError"
	// KindRequest means the request itself failed (DNS, dial, timeout).
	KindRequest ErrorKind = "RequestError"
)

// Error is the error type returned by Client. Status carries the upstream
// HTTP status code when one exists.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail renders an error the way the HTTP surface reports it:
// "<ErrorKind>: <message>". Errors that did not come out of this package
// are reported as request failures.
func Detail(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return fmt.Sprintf("%s: %s", ce.Kind, ce.Message)
	}
	return fmt.Sprintf("%s: %s", KindRequest, err.Error())
}

func inputErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

func protocolErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func upstreamErr(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: fmt.Sprintf(format, args...)}
}

func requestErr(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRequest, Message: fmt.Sprintf(format, args...), Err: err}
}

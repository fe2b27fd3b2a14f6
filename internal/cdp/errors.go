package cdp

import "fmt"

// ConnectError reports a failure to reach the inspector endpoint. The
// supervisor retries only when the target announces a new endpoint.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cdp: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or error response to one request. The
// connection stays alive; only that request fails.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdp: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// DisconnectError rejects every pending request when the transport closes.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cdp: connection closed: %v", e.Err)
	}
	return "cdp: connection closed"
}

func (e *DisconnectError) Unwrap() error { return e.Err }

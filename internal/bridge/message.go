package bridge

import (
	"fmt"

	"github.com/msomdec/minddump/internal/sqlite"
)

// MessageType tags every message crossing the boundary.
type MessageType int

const (
	Initialize MessageType = iota
	Execute
	ExecuteResponseSuccess
	ExecuteResponseError
)

func (t MessageType) String() string {
	switch t {
	case Initialize:
		return "INITIALIZE"
	case Execute:
		return "EXECUTE"
	case ExecuteResponseSuccess:
		return "EXECUTE_RESPONSE_SUCCESS"
	case ExecuteResponseError:
		return "EXECUTE_RESPONSE_ERROR"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Request is sent from the proxy to the dispatcher. ID is the correlation
// key and is zero for INITIALIZE, which gets no response.
type Request struct {
	ID   int64       `cbor:"id,omitempty"`
	Type MessageType `cbor:"type"`
	Path string      `cbor:"path,omitempty"`
	SQL  string      `cbor:"sql,omitempty"`
	Bind []any       `cbor:"bind,omitempty"`
}

// Response answers exactly one EXECUTE request.
type Response struct {
	ID    int64        `cbor:"id"`
	Type  MessageType  `cbor:"type"`
	Rows  []sqlite.Row `cbor:"rows"`
	Error *ExecError   `cbor:"error,omitempty"`
}

// ExecError is a statement failure reported by the dispatcher. Code is the
// extended SQLite result code, or 0 when the failure did not come from the
// engine.
type ExecError struct {
	Message string `cbor:"message"`
	Code    int    `cbor:"code"`
}

func (e *ExecError) Error() string {
	return e.Message
}

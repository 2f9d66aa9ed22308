package ftpconn

import (
	"errors"
	"fmt"
)

// ErrTLS is wrapped by every error caused by FTPS negotiation: a refused
// AUTH TLS, a failed handshake on the control channel, or a failed handshake
// on a data connection.
var ErrTLS = errors.New("ftp: TLS negotiation failed")

// ErrClosed is returned by commands issued after Quit.
var ErrClosed = errors.New("ftp: connection closed")

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR"). Arguments are
	// not recorded so that paths and passwords stay out of error strings.
	Command string

	// Response is the message received from the server (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the error is a transient failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

func protocolError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: resp.Message,
		Code:     resp.Code,
	}
}

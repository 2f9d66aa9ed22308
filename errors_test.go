package ftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gonzalop/ftpfs/internal/ftpconn"
)

func reply(cmd string, code int, msg string) error {
	return &ftpconn.ProtocolError{Command: cmd, Response: msg, Code: code}
}

func TestClassifyReplies(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		conn bool
	}{
		{reply("RETR", 550, "No such file or directory"), KindNotFound, false},
		{reply("RETR", 550, "Failed to open file."), KindNotFound, false},
		{reply("DELE", 550, "Permission denied"), KindPermissionDenied, false},
		{reply("STOR", 550, "Access is denied"), KindPermissionDenied, false},
		{reply("MKD", 550, "Create directory operation failed: File exists"), KindAlreadyExists, false},
		{reply("RNTO", 550, "/a: file does not exist"), KindNotFound, false},
		{reply("CWD", 550, "Directory doesn't exist"), KindNotFound, false},
		{reply("MKD", 521, `"/a" directory already exists`), KindAlreadyExists, false},
		{reply("STOR", 553, "Could not create file."), KindPermissionDenied, false},
		{reply("STOR", 532, "Need account for storing files"), KindPermissionDenied, false},
		{reply("LIST", 421, "Timeout"), KindIO, true},
		{reply("RETR", 530, "Not logged in."), KindIO, true},
		{reply("LIST", 425, "Can't open data connection"), KindIO, true},
		{reply("RETR", 426, "Connection closed; transfer aborted"), KindIO, true},
		{reply("RETR", 451, "Local error in processing"), KindIO, false},
		{reply("SITE", 500, "Unknown command"), KindIO, false},
		{io.EOF, KindIO, true},
		{io.ErrUnexpectedEOF, KindIO, true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), KindIO, true},
		{&net.OpError{Op: "write", Err: syscall.EPIPE}, KindIO, true},
		{os.ErrDeadlineExceeded, KindIO, true},
		{ftpconn.ErrClosed, KindIO, true},
		{fmt.Errorf("data: %w", ftpconn.ErrTLS), KindTLS, false},
		{context.Canceled, KindIO, false},
		{errors.New("something else"), KindIO, false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := classify("op", "/p", tt.err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.conn, IsConnectionError(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyConnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindConnect},
		{"bad greeting", reply("CONNECT", 421, "Too many connections"), KindConnect},
		{"auth tls refused", fmt.Errorf("%w: %w", ftpconn.ErrTLS, reply("AUTH TLS", 534, "Policy")), KindTLS},
		{"bad password", reply("PASS", 530, "Login incorrect."), KindAuthentication},
		{"unknown user", reply("USER", 530, "Not logged in"), KindAuthentication},
		{"account", reply("ACCT", 332, "Need account"), KindAuthentication},
		{"server busy at login", reply("USER", 421, "Service not available"), KindConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyConnect(tt.err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.kind == KindConnect, IsConnectionError(err))
		})
	}
}

func TestClassifyKeepsError(t *testing.T) {
	orig := newError(KindNotFound, "stat", "/x", os.ErrNotExist)
	assert.Same(t, orig, classify("list", "/y", orig))
	assert.Same(t, orig, classifyConnect(orig))
	assert.Nil(t, classify("list", "/", nil))
}

func TestErrorSentinels(t *testing.T) {
	err := newError(KindPermissionDenied, "delete", "/etc/passwd", reply("DELE", 550, "Permission denied"))

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrPermissionDenied)

	var pe *ftpconn.ProtocolError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{newError(KindNotFound, "stat", "/a", nil), "ftpfs: stat /a: not found"},
		{newError(KindConnect, "connect", "", io.EOF), "ftpfs: connect: connect error: EOF"},
		{&Error{Kind: KindPoolExhausted}, "ftpfs: pool exhausted"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestIsConnectionErrorRaw(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.True(t, IsConnectionError(io.EOF))
	assert.False(t, IsConnectionError(errors.New("x")))
	assert.False(t, IsConnectionError(newError(KindNotFound, "", "", io.EOF)))
	assert.False(t, IsConnectionError(newError(KindAuthentication, "login", "", nil)))
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindIO:                "i/o error",
		KindMalformedLocation: "malformed location",
		KindConnect:           "connect error",
		KindTLS:               "tls error",
		KindAuthentication:    "authentication error",
		KindNotFound:          "not found",
		KindPermissionDenied:  "permission denied",
		KindAlreadyExists:     "already exists",
		KindPoolExhausted:     "pool exhausted",
	}
	for k, want := range kinds {
		assert.Equal(t, want, k.String())
	}
}

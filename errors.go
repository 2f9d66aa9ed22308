package ftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/gonzalop/ftpfs/internal/ftpconn"
)

// Kind classifies an Error.
type Kind int

const (
	KindIO Kind = iota
	KindMalformedLocation
	KindConnect
	KindTLS
	KindAuthentication
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindPoolExhausted
)

func (k Kind) String() string {
	switch k {
	case KindMalformedLocation:
		return "malformed location"
	case KindConnect:
		return "connect error"
	case KindTLS:
		return "tls error"
	case KindAuthentication:
		return "authentication error"
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindAlreadyExists:
		return "already exists"
	case KindPoolExhausted:
		return "pool exhausted"
	default:
		return "i/o error"
	}
}

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrMalformedLocation = &Error{Kind: KindMalformedLocation}
	ErrConnect           = &Error{Kind: KindConnect}
	ErrTLS               = &Error{Kind: KindTLS}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrPoolExhausted     = &Error{Kind: KindPoolExhausted}
	ErrIO                = &Error{Kind: KindIO}
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("ftpfs: pool is shut down")

// Error is the error type returned by every ftpfs operation.
type Error struct {
	Kind Kind
	// Op is the operation that failed ("list", "connect", ...).
	Op string
	// Path is the remote path involved, if any. It never contains credentials.
	Path string
	Err  error

	// conn marks an IOError caused by the connection itself.
	conn bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ftpfs: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteString(" ")
			b.WriteString(e.Path)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels so that errors.Is(err, ErrNotFound)
// holds for any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindIO when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// IsConnectionError reports whether err means the session's connection can
// no longer be trusted: a connect failure, or an I/O failure caused by a
// broken pipe, reset, EOF, timeout or a 421/425/426 reply, or a 530 reply
// to a command issued after login.
func IsConnectionError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return err != nil && isConnCause(err)
	}
	switch e.Kind {
	case KindConnect:
		return true
	case KindIO:
		return e.conn
	}
	return false
}

// isConnCause reports whether a raw error from the wire layer comes from the
// transport rather than from the server's answer to a command.
func isConnCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *ftpconn.ProtocolError
	if errors.As(err, &pe) {
		switch pe.Code {
		// 530 after login means the server dropped the login
		case 421, 425, 426, 530:
			return true
		}
		return false
	}

	if errors.Is(err, ftpconn.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// classify maps a wire-layer error from a file operation to an *Error.
// Errors that already are *Error pass through unchanged.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, ftpconn.ErrTLS) {
		return newError(KindTLS, op, path, err)
	}

	var pe *ftpconn.ProtocolError
	if errors.As(err, &pe) {
		if kind, ok := replyKind(pe); ok {
			return newError(kind, op, path, err)
		}
	}

	return &Error{Kind: KindIO, Op: op, Path: path, Err: err, conn: isConnCause(err)}
}

// replyKind maps permanent replies to semantic kinds.
func replyKind(pe *ftpconn.ProtocolError) (Kind, bool) {
	msg := strings.ToLower(pe.Response)
	switch pe.Code {
	case 550:
		switch {
		case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") ||
			strings.Contains(msg, "access") || strings.Contains(msg, "not allowed"):
			return KindPermissionDenied, true
		case strings.Contains(msg, "exist") &&
			!strings.Contains(msg, "not exist") && !strings.Contains(msg, "n't exist"):
			return KindAlreadyExists, true
		}
		return KindNotFound, true
	case 521:
		return KindAlreadyExists, true
	case 553, 532:
		return KindPermissionDenied, true
	}
	return 0, false
}

// classifyConnect maps an error from dial, greeting, TLS negotiation or
// login to an *Error.
func classifyConnect(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, ftpconn.ErrTLS) {
		return newError(KindTLS, "connect", "", err)
	}
	var pe *ftpconn.ProtocolError
	if errors.As(err, &pe) {
		switch pe.Command {
		case "USER", "PASS", "ACCT":
			switch pe.Code {
			case 530, 430, 332:
				return newError(KindAuthentication, "login", "", err)
			}
		}
	}
	return newError(KindConnect, "connect", "", err)
}

// errorf builds an *Error around a formatted message.
func errorf(kind Kind, op, path, format string, args ...any) *Error {
	return newError(kind, op, path, fmt.Errorf(format, args...))
}

package ftpconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gonzalop/ftpfs/internal/ratelimit"
)

// Retrieve opens a binary (TYPE I) download of remotePath. The control
// channel is busy until the returned reader is closed; Close reads the
// server's completion reply. Closing before EOF aborts the transfer and the
// resulting 426/451 reply is not reported as an error.
func (c *Client) Retrieve(remotePath string) (io.ReadCloser, error) {
	if err := c.Type("I"); err != nil {
		return nil, fmt.Errorf("failed to set binary mode: %w", err)
	}

	dataConn, err := c.cmdDataConn("RETR", remotePath)
	if err != nil {
		return nil, err
	}

	return &transferReader{
		c:    c,
		conn: dataConn,
		r:    ratelimit.NewReader(dataConn, c.limiter),
	}, nil
}

// Store opens a binary (TYPE I) upload to remotePath, truncating any
// existing file. The upload is committed when the returned writer is
// closed; Close reports the server's completion reply.
func (c *Client) Store(remotePath string) (io.WriteCloser, error) {
	if err := c.Type("I"); err != nil {
		return nil, fmt.Errorf("failed to set binary mode: %w", err)
	}

	dataConn, err := c.cmdDataConn("STOR", remotePath)
	if err != nil {
		return nil, err
	}

	return &transferWriter{
		c:    c,
		conn: dataConn,
		w:    ratelimit.NewWriter(dataConn, c.limiter),
	}, nil
}

type transferReader struct {
	c    *Client
	conn net.Conn
	r    io.Reader

	eof       bool
	closeOnce sync.Once
	closeErr  error
}

func (t *transferReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.EOF {
		t.eof = true
	}
	return n, err
}

func (t *transferReader) Close() error {
	t.closeOnce.Do(func() {
		err := t.c.finishDataConn(t.conn)
		if err != nil && !t.eof && isAbortReply(err) {
			err = nil
		}
		t.closeErr = err
	})
	return t.closeErr
}

// isAbortReply reports whether err is the reply a server sends after the
// client dropped the data connection mid-transfer.
func isAbortReply(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == 426 || pe.Code == 451
	}
	return false
}

type transferWriter struct {
	c    *Client
	conn net.Conn
	w    io.Writer

	closeOnce sync.Once
	closeErr  error
}

func (t *transferWriter) Write(p []byte) (int, error) {
	return t.w.Write(p)
}

func (t *transferWriter) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.c.finishDataConn(t.conn)
	})
	return t.closeErr
}

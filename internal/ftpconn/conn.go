package ftpconn

import (
	"fmt"
	"net"
	"time"
)

// stallConn fails a data transfer that makes no progress for timeout. The
// deadline moves forward on every read and write, so a large transfer is
// bounded by its stalls rather than its total duration.
type stallConn struct {
	net.Conn
	timeout time.Duration
}

// withStallTimeout wraps conn; a non-positive timeout leaves it unbounded.
func withStallTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &stallConn{Conn: conn, timeout: timeout}
}

func (c *stallConn) Read(b []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("failed to set read deadline: %w", err)
	}
	return c.Conn.Read(b)
}

func (c *stallConn) Write(b []byte) (int, error) {
	if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("failed to set write deadline: %w", err)
	}
	return c.Conn.Write(b)
}

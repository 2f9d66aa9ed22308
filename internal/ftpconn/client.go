// Package ftpconn is a passive-mode FTP/FTPS client used by ftpfs sessions.
//
// It speaks the subset of the protocol a remote file manager needs: login,
// explicit TLS (AUTH TLS), passive data connections (EPSV with PASV
// fallback), attribute listings via LIST, streaming RETR/STOR, and the
// directory mutation commands. A Client is not safe for concurrent use by
// multiple operations; while a transfer stream is open no other command may
// be issued.
package ftpconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gonzalop/ftpfs/internal/ratelimit"
)

// DefaultTimeout bounds connection setup and every control/data read or write.
const DefaultTimeout = 30 * time.Second

const quitTimeout = 2 * time.Second

// Client represents an FTP control connection.
type Client struct {
	// conn is the underlying network connection (control channel)
	conn net.Conn

	// reader is a buffered reader for the control channel
	reader *bufio.Reader

	// tlsConfig is non-nil when explicit TLS is enabled
	tlsConfig *tls.Config

	// timeout is the timeout for operations
	timeout time.Duration

	logger *slog.Logger

	dialer *net.Dialer

	host string
	port string

	// disableEPSV forces PASV; set automatically after a 502 reply to EPSV
	disableEPSV bool

	limiter *ratelimit.Limiter

	parsers []ListingParser

	// currentType tracks the current transfer type to avoid redundant TYPE commands
	currentType string

	// mu serializes command/reply exchanges on the control channel
	mu sync.Mutex

	closed bool

	// dataMu guards activeDataConn so Quit can abort a transfer without
	// waiting for the control channel
	dataMu sync.Mutex

	// activeDataConn tracks the currently open data connection
	activeDataConn net.Conn
}

// Dial connects to an FTP server at the given address ("host:port") and
// reads its greeting. When explicit TLS is configured the control channel
// is upgraded before Dial returns. The context bounds connection setup only.
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	c := &Client{
		host:    host,
		port:    port,
		timeout: DefaultTimeout,
		dialer:  &net.Dialer{},
		logger:  slog.New(slog.DiscardHandler),
		parsers: []ListingParser{
			&EPLFParser{},
			&DOSParser{},
			&UnixParser{},
		},
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.dialer.Timeout == 0 {
		c.dialer.Timeout = c.timeout
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes the control connection and handles the initial handshake.
func (c *Client) connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("connecting to ftp server", "addr", addr, "tls", c.tlsConfig != nil)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.mu.Lock()
	resp, err := c.readReply()
	c.mu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}

	c.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)

	if resp.Code != 220 {
		conn.Close()
		return protocolError("CONNECT", resp)
	}

	if c.tlsConfig != nil {
		if err := c.upgradeToTLS(ctx); err != nil {
			conn.Close()
			return err
		}
	}

	return nil
}

// upgradeToTLS upgrades the connection to TLS using AUTH TLS.
func (c *Client) upgradeToTLS(ctx context.Context) error {
	resp, err := c.sendCommand("AUTH", "TLS")
	if err != nil {
		return fmt.Errorf("AUTH TLS failed: %w", err)
	}

	if resp.Code != 234 {
		return fmt.Errorf("%w: %w", ErrTLS, protocolError("AUTH TLS", resp))
	}

	c.logger.Debug("starting TLS handshake")
	tlsConn := tls.Client(c.conn, c.tlsConfig)

	hsCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return fmt.Errorf("%w: handshake: %w", ErrTLS, err)
	}
	c.logger.Debug("TLS handshake complete")

	c.conn = tlsConn
	c.reader = bufio.NewReader(c.conn)

	if _, err := c.expectCode(200, "PBSZ", "0"); err != nil {
		return fmt.Errorf("%w: PBSZ: %w", ErrTLS, err)
	}

	if _, err := c.expectCode(200, "PROT", "P"); err != nil {
		return fmt.Errorf("%w: PROT: %w", ErrTLS, err)
	}

	return nil
}

// Login authenticates with the FTP server using the provided username and password.
func (c *Client) Login(username, password string) error {
	resp, err := c.sendCommand("USER", username)
	if err != nil {
		return err
	}

	// 230: logged in without a password
	if resp.Code == 230 {
		return nil
	}

	if resp.Code != 331 {
		return protocolError("USER", resp)
	}

	if _, err := c.expectCode(230, "PASS", password); err != nil {
		return err
	}

	return nil
}

// Noop sends a NOOP command. It is the liveness probe used before a pooled
// connection is reused.
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Type sets the transfer type (e.g., "A", "I").
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		return nil
	}

	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}

	c.currentType = transferType
	return nil
}

// Quit closes the connection gracefully by sending the QUIT command.
// An in-flight transfer is aborted by closing its data connection, and a
// dead peer costs at most quitTimeout. Quit is idempotent.
func (c *Client) Quit() error {
	c.dataMu.Lock()
	if c.activeDataConn != nil {
		c.activeDataConn.Close()
		c.activeDataConn = nil
	}
	c.dataMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil
	}
	c.closed = true

	_ = c.conn.SetDeadline(time.Now().Add(quitTimeout))
	if _, err := fmt.Fprintf(c.conn, "QUIT\r\n"); err == nil {
		_, _ = readResponse(c.reader)
	}
	return c.conn.Close()
}

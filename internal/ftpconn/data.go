package ftpconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

var (
	// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// epsvRegex matches the EPSV response format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses a PASV response and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV response: %s", response)
	}

	var h [4]int
	for i := range 4 {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV IP part: %s", matches[i+1])
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port parts: %s, %s", matches[5], matches[6])
	}
	port := p1*256 + p2

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV parses an EPSV response and returns the port.
// Example: "229 Entering Extended Passive Mode (|||6446|)"
// Returns: "6446"
func parseEPSV(response string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(response)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV response: %s", response)
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}

	return matches[1], nil
}

// resolveDataAddr replaces an unroutable PASV address (0.0.0.0, or a
// private address announced by a server behind NAT while we reached it on
// another address) with the control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		return net.JoinHostPort(controlHost, port)
	}
	if ip.IsPrivate() {
		if ctrl := net.ParseIP(controlHost); ctrl == nil || !ctrl.IsPrivate() && !ctrl.IsLoopback() {
			return net.JoinHostPort(controlHost, port)
		}
	}

	return pasvAddr
}

// openDataConn opens a passive data connection (EPSV, falling back to PASV).
// If TLS is enabled, the data connection uses TLS with session reuse.
func (c *Client) openDataConn() (net.Conn, error) {
	var addr string

	if !c.disableEPSV {
		if resp, err := c.sendCommand("EPSV"); err == nil {
			if resp.Code == 502 || resp.Code == 500 {
				c.disableEPSV = true
			} else if resp.Is2xx() {
				if port, parseErr := parseEPSV(resp.Message); parseErr == nil {
					addr = net.JoinHostPort(c.host, port)
				}
			}
		} else {
			return nil, err
		}
	}

	if addr == "" {
		resp, err := c.sendCommand("PASV")
		if err != nil {
			return nil, fmt.Errorf("PASV failed: %w", err)
		}

		if !resp.Is2xx() {
			return nil, protocolError("PASV", resp)
		}

		addr, err = parsePASV(resp.Message)
		if err != nil {
			return nil, err
		}

		addr = resolveDataAddr(addr, c.host)
	}

	dataConn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", err)
	}

	// The handshake is deferred until the server has accepted the transfer
	// command; many servers only start TLS on the data socket after that.
	if c.tlsConfig != nil {
		return tls.Client(dataConn, c.tlsConfig), nil
	}

	return dataConn, nil
}

// handshakeData completes the TLS handshake of a data connection and bounds
// its stalls by the client timeout.
func (c *Client) handshakeData(dataConn net.Conn) (net.Conn, error) {
	if tlsConn, ok := dataConn.(*tls.Conn); ok {
		ctx := context.Background()
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("%w: data connection: %w", ErrTLS, err)
		}
	}

	return withStallTimeout(dataConn, c.timeout), nil
}

// cmdDataConn executes a command that requires a data connection.
// It opens the data connection, sends the command, and returns the data
// connection once the server has accepted the transfer. The caller must
// call finishDataConn when done with it.
func (c *Client) cmdDataConn(cmd string, args ...string) (net.Conn, error) {
	dataConn, err := c.openDataConn()
	if err != nil {
		return nil, err
	}

	c.dataMu.Lock()
	c.activeDataConn = dataConn
	c.dataMu.Unlock()

	resp, err := c.sendCommand(cmd, args...)
	if err == nil && !resp.Is1xx() && !resp.Is2xx() {
		err = protocolError(cmd, resp)
	}
	if err != nil {
		dataConn.Close()
		c.clearDataConn()
		return nil, err
	}

	conn, err := c.handshakeData(dataConn)
	if err != nil {
		_ = c.finishDataConn(dataConn)
		return nil, err
	}

	return conn, nil
}

// finishDataConn closes the data connection and reads the final response.
func (c *Client) finishDataConn(dataConn net.Conn) error {
	closeErr := dataConn.Close()
	c.clearDataConn()

	c.mu.Lock()
	resp, err := c.readReply()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to read completion response: %w", err)
	}

	c.logger.Debug("ftp data transfer complete", "code", resp.Code, "message", resp.Message)

	if !resp.Is2xx() {
		return protocolError("DATA_TRANSFER", resp)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close data connection: %w", closeErr)
	}

	return nil
}

func (c *Client) clearDataConn() {
	c.dataMu.Lock()
	c.activeDataConn = nil
	c.dataMu.Unlock()
}

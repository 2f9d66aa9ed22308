package ftpfs

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/gonzalop/ftpfs/internal/ftpconn"
)

// Dialer opens authenticated connections. Errors should be *Error values
// of kind KindConnect, KindTLS or KindAuthentication.
type Dialer interface {
	Dial(ctx context.Context, key ConnectionKey, creds Credentials) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, key ConnectionKey, creds Credentials) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, key ConnectionKey, creds Credentials) (Conn, error) {
	return f(ctx, key, creds)
}

// NetDialer dials real FTP servers. ftps keys negotiate explicit TLS with
// TLSConfig (ServerName defaults to the key's host).
type NetDialer struct {
	Timeout        time.Duration
	TLSConfig      *tls.Config
	Logger         *slog.Logger
	BandwidthLimit int64
	DisableEPSV    bool
	NetDialer      *net.Dialer
}

// Dial connects, negotiates TLS for ftps keys and logs in.
func (d *NetDialer) Dial(ctx context.Context, key ConnectionKey, creds Credentials) (Conn, error) {
	opts := []ftpconn.Option{
		ftpconn.WithTimeout(d.Timeout),
		ftpconn.WithBandwidthLimit(d.BandwidthLimit),
	}
	if d.Timeout == 0 {
		opts[0] = ftpconn.WithTimeout(ftpconn.DefaultTimeout)
	}
	if d.Logger != nil {
		opts = append(opts, ftpconn.WithLogger(d.Logger))
	}
	if d.DisableEPSV {
		opts = append(opts, ftpconn.WithDisableEPSV())
	}
	if d.NetDialer != nil {
		opts = append(opts, ftpconn.WithDialer(d.NetDialer))
	}
	if key.TLS() {
		var cfg *tls.Config
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg.ServerName = key.Host
		}
		opts = append(opts, ftpconn.WithExplicitTLS(cfg))
	}

	c, err := ftpconn.Dial(ctx, key.Addr(), opts...)
	if err != nil {
		return nil, classifyConnect(err)
	}

	if err := c.Login(creds.User, creds.Password); err != nil {
		_ = c.Quit()
		return nil, classifyConnect(err)
	}

	return &clientConn{Client: c}, nil
}

// clientConn adapts *ftpconn.Client to Conn.
type clientConn struct {
	*ftpconn.Client
}

func (c *clientConn) List(p string) ([]DirEntry, error) {
	entries, err := c.Client.List(p)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDirEntry(e))
	}
	return out, nil
}

func toDirEntry(e *ftpconn.Entry) DirEntry {
	de := DirEntry{
		Name:        e.Name,
		Size:        e.Size,
		Permissions: e.Perm,
		Mode:        e.Mode,
		Owner:       e.Owner,
		Group:       e.Group,
		ModTime:     e.ModTime,
		Target:      e.Target,
	}
	switch e.Type {
	case "file":
		de.Type = EntryFile
	case "dir":
		de.Type = EntryDir
	case "link":
		de.Type = EntryLink
	}
	return de
}

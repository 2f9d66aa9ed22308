package ftpfs

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Option is a functional option for configuring a Pool.
type Option func(*Pool) error

// WithDialer replaces the network dialer. The connection options below
// (timeout, TLS, bandwidth, EPSV) only apply to the default dialer.
func WithDialer(d Dialer) Option {
	return func(p *Pool) error {
		if d == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		p.dialer = d
		return nil
	}
}

// WithMaxSessions bounds the number of live sessions across all keys.
// When the pool is full, the least recently used idle session of another
// key is closed; if every session is in use, Acquire fails with
// ErrPoolExhausted. Zero means unbounded.
func WithMaxSessions(n int) Option {
	return func(p *Pool) error {
		if n < 0 {
			return fmt.Errorf("max sessions cannot be negative: %d", n)
		}
		p.maxSessions = n
		return nil
	}
}

// WithIdleTimeout starts a janitor that closes sessions idle for longer
// than timeout. It runs every timeout/2.
//
// Example:
//
//	pool, _ := ftpfs.NewPool(
//	    ftpfs.WithIdleTimeout(5*time.Minute),
//	)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(p *Pool) error {
		if timeout < 0 {
			return fmt.Errorf("idle timeout cannot be negative: %v", timeout)
		}
		p.idleTimeout = timeout
		return nil
	}
}

// WithClock sets the clock used for idle bookkeeping. Tests use a mock.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		p.clock = c
		return nil
	}
}

// WithLogger sets the logger for pool and session events. By default
// nothing is logged. Passwords are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithMetrics sets a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(p *Pool) error {
		p.metrics = m
		return nil
	}
}

// WithPathRedactor sets a function that rewrites remote paths before they
// appear in logs and errors.
func WithPathRedactor(r PathRedactor) Option {
	return func(p *Pool) error {
		p.redact = r
		return nil
	}
}

// WithTimeout sets the connect and per-operation timeout of the default
// dialer.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pool) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative: %v", timeout)
		}
		p.netDialer.Timeout = timeout
		return nil
	}
}

// WithTLSConfig sets the TLS configuration used for ftps keys. The
// ServerName defaults to each key's host.
func WithTLSConfig(config *tls.Config) Option {
	return func(p *Pool) error {
		p.netDialer.TLSConfig = config
		return nil
	}
}

// WithBandwidthLimit caps each transfer at bytesPerSecond.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(p *Pool) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit cannot be negative: %d", bytesPerSecond)
		}
		p.netDialer.BandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithDisableEPSV makes data connections use PASV only.
func WithDisableEPSV() Option {
	return func(p *Pool) error {
		p.netDialer.DisableEPSV = true
		return nil
	}
}

// Package ratelimit throttles FTP data transfers to a byte rate.
//
// A nil *Limiter means unlimited; NewReader and NewWriter return their
// argument unchanged in that case so callers never branch on it.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const (
	// readChunk bounds a single Read so the limiter releases bytes smoothly.
	readChunk = 8 * 1024

	// writeChunk bounds each token reservation of a Write.
	writeChunk = 64 * 1024
)

// Limiter limits the rate of data transfer to a specified bytes per second.
// The burst equals one second worth of data, capped below by writeChunk so
// that a single chunk never exceeds it.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a new rate limiter with the specified bytes per second limit.
// It returns nil (unlimited) when bytesPerSecond is zero or negative.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(bytesPerSecond)
	if burst < writeChunk {
		burst = writeChunk
	}

	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Limit returns the configured rate in bytes per second, or 0 for a nil
// (unlimited) limiter.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// take blocks until n bytes may pass.
func (l *Limiter) take(n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.lim.WaitN(context.Background(), n)
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader creates a new rate-limited reader.
// If limiter is nil, returns the original reader unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

// Read reads at most readChunk bytes and then charges the limiter for what
// was actually read.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > readChunk {
		p = p[:readChunk]
	}

	n, err := r.r.Read(p)
	if werr := r.limiter.take(n); werr != nil && err == nil {
		err = werr
	}
	return n, err
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a new rate-limited writer.
// If limiter is nil, returns the original writer unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

// Write writes p in chunks of at most writeChunk bytes, waiting for tokens
// before each chunk.
func (w *writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		chunk := min(len(p)-total, writeChunk)

		if err := w.limiter.take(chunk); err != nil {
			return total, err
		}

		n, err := w.w.Write(p[total : total+chunk])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// progressReader wraps an io.Reader and reports the running total.
type progressReader struct {
	r        io.Reader
	callback func(total int64)
	total    int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.total += int64(n)
	if n > 0 {
		pr.callback(pr.total)
	}
	return n, err
}

// progressWriter wraps an io.Writer and reports the running total.
type progressWriter struct {
	w        io.Writer
	callback func(total int64)
	total    int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.total += int64(n)
	if n > 0 {
		pw.callback(pw.total)
	}
	return n, err
}

// progressLine prints "name: 1.2 MB / 4.0 MB" to out at most every interval.
type progressLine struct {
	out      io.Writer
	name     string
	size     int64
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newProgressLine(out io.Writer, name string, size int64) *progressLine {
	return &progressLine{out: out, name: name, size: size, interval: 200 * time.Millisecond}
}

func (p *progressLine) update(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.print(total)
}

func (p *progressLine) print(total int64) {
	if p.size > 0 {
		fmt.Fprintf(p.out, "\r%s: %s / %s", p.name, humanize.Bytes(uint64(total)), humanize.Bytes(uint64(p.size)))
		return
	}
	fmt.Fprintf(p.out, "\r%s: %s", p.name, humanize.Bytes(uint64(total)))
}

// done prints the final total and ends the line.
func (p *progressLine) done(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print(total)
	fmt.Fprintln(p.out)
}

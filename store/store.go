// Package store persists FTP bookmarks and the location history.
//
// Two implementations share the same contracts: Bolt keeps everything in a
// single bbolt file, Memory keeps it in process for tests and throwaway
// shells.
package store

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrDuplicateName is returned by Add when a bookmark name is taken.
	ErrDuplicateName = errors.New("store: duplicate bookmark name")

	// ErrNotFound is returned when a bookmark name does not exist.
	ErrNotFound = errors.New("store: bookmark not found")
)

// Bookmark is a named location. Names are unique; List returns bookmarks in
// insertion order.
type Bookmark struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// HistoryEntry is a visited location. There is at most one entry per URL.
type HistoryEntry struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	// Count is the number of recorded visits.
	Count int `json:"count"`
}

// BookmarkStore is the bookmark contract consumed by the command layer.
type BookmarkStore interface {
	List() ([]Bookmark, error)
	Get(name string) (Bookmark, error)
	Add(name, url string) error
	Remove(name string) error
}

// HistoryStore is the history contract consumed by the command layer.
type HistoryStore interface {
	// RecordAccess inserts url or moves it to the front, stamping the time.
	RecordAccess(url string) error
	// List returns entries most-recent-first.
	List() ([]HistoryEntry, error)
	Clear() error
}

type options struct {
	clock        clock.Clock
	historyLimit int
}

// Option configures a store.
type Option func(*options)

// WithClock sets the clock used to stamp history entries.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithHistoryLimit keeps at most n history entries, dropping the least
// recently accessed. Zero means unlimited.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		o.historyLimit = n
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

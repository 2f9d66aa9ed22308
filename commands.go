package ftpfs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gonzalop/ftpfs/store"
)

// Listing is the result of opening a location.
type Listing struct {
	// Location is the opened location without its password.
	Location LocationRef
	Entries  []DirEntry
}

// Commands is the command surface offered to a host such as the CLI. Each
// command ends in one or more router operations.
type Commands struct {
	router    *Router
	bookmarks store.BookmarkStore
	history   store.HistoryStore
	logger    *slog.Logger
}

// NewCommands creates the command surface. history may be nil, in which
// case nothing is recorded.
func NewCommands(router *Router, bookmarks store.BookmarkStore, history store.HistoryStore) *Commands {
	return &Commands{
		router:    router,
		bookmarks: bookmarks,
		history:   history,
		logger:    router.logger,
	}
}

// Router returns the router the commands run on.
func (c *Commands) Router() *Router { return c.router }

// OpenLocation lists the directory at location and records the visit in the
// history, without the password.
func (c *Commands) OpenLocation(ctx context.Context, location string) (*Listing, error) {
	ref, err := Parse(location)
	if err != nil {
		return nil, err
	}

	entries, err := c.router.ListRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	visited := ref.WithoutPassword()
	if c.history != nil {
		if err := c.history.RecordAccess(visited.URL()); err != nil {
			c.logger.Warn("failed to record ftp history", "location", visited.Key, "error", err)
		}
	}

	return &Listing{Location: visited, Entries: entries}, nil
}

// AddBookmark stores location under name. The location must parse; it is
// stored normalized, password included, so that opening the bookmark can
// log in again. It fails with store.ErrDuplicateName when name is taken.
func (c *Commands) AddBookmark(name, location string) error {
	if name == "" {
		return fmt.Errorf("bookmark name cannot be empty")
	}
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	return c.bookmarks.Add(name, ref.URL())
}

// OpenBookmark opens the location stored under name, at its saved path.
func (c *Commands) OpenBookmark(ctx context.Context, name string) (*Listing, error) {
	bm, err := c.bookmarks.Get(name)
	if err != nil {
		return nil, err
	}
	return c.OpenLocation(ctx, bm.URL)
}

// RemoveBookmark deletes the bookmark name. It fails with store.ErrNotFound
// when there is none.
func (c *Commands) RemoveBookmark(name string) error {
	return c.bookmarks.Remove(name)
}

// Bookmarks returns the stored bookmarks in insertion order.
func (c *Commands) Bookmarks() ([]store.Bookmark, error) {
	return c.bookmarks.List()
}

// OpenHistoryEntry opens a location taken from the history.
func (c *Commands) OpenHistoryEntry(ctx context.Context, url string) (*Listing, error) {
	return c.OpenLocation(ctx, url)
}

// History returns visited locations, most recent first.
func (c *Commands) History() ([]store.HistoryEntry, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.List()
}

// ClearHistory forgets every visited location.
func (c *Commands) ClearHistory() error {
	if c.history == nil {
		return nil
	}
	return c.history.Clear()
}

package store

import (
	"slices"
	"sync"
)

// MemoryBookmarks is an in-process BookmarkStore.
type MemoryBookmarks struct {
	mu        sync.Mutex
	bookmarks []Bookmark
}

// NewMemoryBookmarks returns an empty in-process bookmark store.
func NewMemoryBookmarks() *MemoryBookmarks {
	return &MemoryBookmarks{}
}

func (m *MemoryBookmarks) List() ([]Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bookmarks), nil
}

func (m *MemoryBookmarks) Get(name string) (Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(name); i >= 0 {
		return m.bookmarks[i], nil
	}
	return Bookmark{}, ErrNotFound
}

func (m *MemoryBookmarks) Add(name, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(name) >= 0 {
		return ErrDuplicateName
	}
	m.bookmarks = append(m.bookmarks, Bookmark{Name: name, URL: url})
	return nil
}

func (m *MemoryBookmarks) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(name)
	if i < 0 {
		return ErrNotFound
	}
	m.bookmarks = slices.Delete(m.bookmarks, i, i+1)
	return nil
}

func (m *MemoryBookmarks) index(name string) int {
	return slices.IndexFunc(m.bookmarks, func(b Bookmark) bool { return b.Name == name })
}

// MemoryHistory is an in-process HistoryStore.
type MemoryHistory struct {
	opts options

	mu sync.Mutex
	// entries is kept most-recent-first
	entries []HistoryEntry
}

// NewMemoryHistory returns an empty in-process history store.
func NewMemoryHistory(opts ...Option) *MemoryHistory {
	return &MemoryHistory{opts: buildOptions(opts)}
}

func (m *MemoryHistory) RecordAccess(url string) error {
	now := m.opts.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := HistoryEntry{URL: url}
	if i := slices.IndexFunc(m.entries, func(e HistoryEntry) bool { return e.URL == url }); i >= 0 {
		entry = m.entries[i]
		m.entries = slices.Delete(m.entries, i, i+1)
	}
	entry.Timestamp = now
	entry.Count++

	m.entries = slices.Insert(m.entries, 0, entry)
	if limit := m.opts.historyLimit; limit > 0 && len(m.entries) > limit {
		m.entries = m.entries[:limit]
	}
	return nil
}

func (m *MemoryHistory) List() ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), nil
}

func (m *MemoryHistory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

var (
	_ BookmarkStore = (*MemoryBookmarks)(nil)
	_ HistoryStore  = (*MemoryHistory)(nil)
)

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bookmarkBucket = "bookmarks"
	// bookmarkNameBucket maps a bookmark name to its key in bookmarkBucket
	bookmarkNameBucket = "bookmarkNames"
	historyBucket      = "history"
)

// DB is a bbolt-backed store holding both bookmarks and history.
type DB struct {
	db   *bolt.DB
	opts options
}

// Open opens (creating if needed) the store file at path.
func Open(path string, opts ...Option) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bookmarkBucket, bookmarkNameBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &DB{db: db, opts: buildOptions(opts)}, nil
}

// Close closes the underlying file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Bookmarks returns the bookmark store view of d.
func (d *DB) Bookmarks() BookmarkStore {
	return &boltBookmarks{d: d}
}

// History returns the history store view of d.
func (d *DB) History() HistoryStore {
	return &boltHistory{d: d}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

type boltBookmarks struct {
	d *DB
}

func (b *boltBookmarks) List() ([]Bookmark, error) {
	var out []Bookmark
	err := b.d.db.View(func(tx *bolt.Tx) error {
		// keys are big-endian sequence numbers, so cursor order is insertion order
		return tx.Bucket([]byte(bookmarkBucket)).ForEach(func(_, v []byte) error {
			var bm Bookmark
			if err := json.Unmarshal(v, &bm); err != nil {
				return err
			}
			out = append(out, bm)
			return nil
		})
	})
	return out, err
}

func (b *boltBookmarks) Get(name string) (Bookmark, error) {
	var bm Bookmark
	err := b.d.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(bookmarkNameBucket)).Get([]byte(name))
		if key == nil {
			return ErrNotFound
		}
		return json.Unmarshal(tx.Bucket([]byte(bookmarkBucket)).Get(key), &bm)
	})
	return bm, err
}

func (b *boltBookmarks) Add(name, url string) error {
	return b.d.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bookmarkNameBucket))
		if names.Get([]byte(name)) != nil {
			return ErrDuplicateName
		}

		bucket := tx.Bucket([]byte(bookmarkBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Bookmark{Name: name, URL: url})
		if err != nil {
			return err
		}
		key := itob(seq)
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		return names.Put([]byte(name), key)
	})
}

func (b *boltBookmarks) Remove(name string) error {
	return b.d.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bookmarkNameBucket))
		key := names.Get([]byte(name))
		if key == nil {
			return ErrNotFound
		}
		key = bytes.Clone(key)
		if err := tx.Bucket([]byte(bookmarkBucket)).Delete(key); err != nil {
			return err
		}
		return names.Delete([]byte(name))
	})
}

type boltHistory struct {
	d *DB
}

// historyRecord is the stored form of a HistoryEntry. Seq orders entries
// whose timestamps tie.
type historyRecord struct {
	HistoryEntry
	Seq uint64 `json:"seq"`
}

func (h *boltHistory) RecordAccess(url string) error {
	now := h.d.opts.clock.Now().UTC()
	return h.d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))

		rec := historyRecord{HistoryEntry: HistoryEntry{URL: url}}
		if v := bucket.Get([]byte(url)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		rec.Timestamp = now
		rec.Count++
		rec.Seq = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(url), data); err != nil {
			return err
		}

		if limit := h.d.opts.historyLimit; limit > 0 {
			return trimHistory(bucket, limit)
		}
		return nil
	})
}

func loadHistory(bucket *bolt.Bucket) ([]historyRecord, error) {
	var recs []historyRecord
	err := bucket.ForEach(func(_, v []byte) error {
		var rec historyRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Seq > recs[j].Seq
	})
	return recs, nil
}

func trimHistory(bucket *bolt.Bucket, limit int) error {
	recs, err := loadHistory(bucket)
	if err != nil {
		return err
	}
	for _, rec := range recs[min(limit, len(recs)):] {
		if err := bucket.Delete([]byte(rec.URL)); err != nil {
			return err
		}
	}
	return nil
}

func (h *boltHistory) List() ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := h.d.db.View(func(tx *bolt.Tx) error {
		recs, err := loadHistory(tx.Bucket([]byte(historyBucket)))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			out = append(out, rec.HistoryEntry)
		}
		return nil
	})
	return out, err
}

func (h *boltHistory) Clear() error {
	return h.d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(historyBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(historyBucket))
		return err
	})
}

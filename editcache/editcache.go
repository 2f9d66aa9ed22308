// Package editcache keeps local working copies of remote files for editing.
//
// Download fetches a file into the cache and returns a Handle; the copy can
// be opened by any local program. Sync uploads it back only when its
// content changed since the download.
package editcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gonzalop/ftpfs"
)

// Transferer moves whole files between locations and local streams.
// *ftpfs.Router implements it.
type Transferer interface {
	Download(ctx context.Context, location string, w io.Writer) (int64, error)
	Upload(ctx context.Context, location string, r io.Reader) (int64, error)
}

// Handle is a working copy of a remote file.
type Handle struct {
	ID uuid.UUID
	// Location is where the copy came from, password included; it is
	// never logged.
	Location string
	// LocalPath is the working copy. It keeps the remote base name so that
	// editors pick the right mode.
	LocalPath string
	Size      int64

	mu  sync.Mutex
	sum [sha256.Size]byte
}

// Cache manages working copies under one directory.
type Cache struct {
	transfer Transferer
	dir      string
	ownDir   bool
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
}

// Option configures a Cache.
type Option func(*Cache) error

// WithDir keeps working copies under dir instead of a fresh temporary
// directory. The directory is created if needed and not removed by Close.
func WithDir(dir string) Option {
	return func(c *Cache) error {
		if dir == "" {
			return fmt.Errorf("directory cannot be empty")
		}
		c.dir = dir
		return nil
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// New creates a cache over t.
func New(t Transferer, options ...Option) (*Cache, error) {
	c := &Cache{
		transfer: t,
		logger:   slog.New(slog.DiscardHandler),
		handles:  make(map[uuid.UUID]*Handle),
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.dir == "" {
		dir, err := os.MkdirTemp("", "ftpfs-edit-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		c.dir, c.ownDir = dir, true
	} else if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Download fetches location into a new working copy.
func (c *Cache) Download(ctx context.Context, location string) (*Handle, error) {
	ref, err := ftpfs.Parse(location)
	if err != nil {
		return nil, err
	}
	name := path.Base(ref.RemotePath)
	if name == "/" || name == "." {
		return nil, fmt.Errorf("editcache: %s is not a file", ref)
	}

	id := uuid.New()
	dir := filepath.Join(c.dir, id.String())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("editcache: %w", err)
	}

	h := &Handle{ID: id, Location: location, LocalPath: filepath.Join(dir, name)}
	f, err := os.OpenFile(h.LocalPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("editcache: %w", err)
	}

	sum := sha256.New()
	n, err := c.transfer.Download(ctx, location, io.MultiWriter(f, sum))
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("editcache: %w", cerr)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	h.Size = n
	copy(h.sum[:], sum.Sum(nil))

	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()

	c.logger.Debug("ftp working copy created", "id", id, "location", ref, "bytes", n)
	return h, nil
}

// Get returns the handle with id.
func (c *Cache) Get(id uuid.UUID) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

// Modified reports whether the working copy differs from what was last
// downloaded or uploaded.
func (c *Cache) Modified(h *Handle) (bool, error) {
	sum, err := fileSum(h.LocalPath)
	if err != nil {
		return false, fmt.Errorf("editcache: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !bytes.Equal(sum[:], h.sum[:]), nil
}

// Upload writes the working copy to location, which may differ from the
// one it was downloaded from, and makes the uploaded content the new
// baseline for Modified.
func (c *Cache) Upload(ctx context.Context, h *Handle, location string) error {
	f, err := os.Open(h.LocalPath)
	if err != nil {
		return fmt.Errorf("editcache: %w", err)
	}
	defer f.Close()

	n, err := c.transfer.Upload(ctx, location, f)
	if err != nil {
		return err
	}

	digest, err := fileSum(h.LocalPath)
	if err != nil {
		return fmt.Errorf("editcache: %w", err)
	}

	h.mu.Lock()
	h.sum = digest
	h.Size = n
	h.mu.Unlock()

	c.logger.Debug("ftp working copy uploaded", "id", h.ID, "bytes", n)
	return nil
}

// Sync uploads the working copy back to its origin when it was modified
// and reports whether it did.
func (c *Cache) Sync(ctx context.Context, h *Handle) (bool, error) {
	modified, err := c.Modified(h)
	if err != nil || !modified {
		return false, err
	}
	if err := c.Upload(ctx, h, h.Location); err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes the working copy.
func (c *Cache) Release(h *Handle) error {
	c.mu.Lock()
	delete(c.handles, h.ID)
	c.mu.Unlock()
	return os.RemoveAll(filepath.Dir(h.LocalPath))
}

// Close deletes every working copy, and the cache directory when New
// created it.
func (c *Cache) Close() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[uuid.UUID]*Handle)
	c.mu.Unlock()

	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, os.RemoveAll(filepath.Dir(h.LocalPath)))
	}
	if c.ownDir {
		errs = multierr.Append(errs, os.RemoveAll(c.dir))
	}
	return errs
}

func fileSum(name string) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	f, err := os.Open(name)
	if err != nil {
		return digest, err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return digest, err
	}
	copy(digest[:], sum.Sum(nil))
	return digest, nil
}

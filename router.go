package ftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
)

// Router maps locations to pooled sessions. Every operation parses the
// location, resolves credentials, acquires the key's session, runs and
// releases it. A connection-level failure invalidates the session and the
// operation is retried once on a fresh one; the second failure is returned
// as is. Other failures are never retried.
type Router struct {
	pool      *Pool
	resolver  *Resolver
	logger    *slog.Logger
	metrics   MetricsCollector
	statCache *cache.Cache
	spoolDir  string
}

// RouterOption is a functional option for configuring a Router.
type RouterOption func(*Router) error

// WithResolver makes password-less locations borrow bookmark credentials.
func WithResolver(res *Resolver) RouterOption {
	return func(r *Router) error {
		r.resolver = res
		return nil
	}
}

// WithStatCache caches Stat results and listed entries for ttl. Mutations
// through the router drop the affected paths.
func WithStatCache(ttl time.Duration) RouterOption {
	return func(r *Router) error {
		if ttl <= 0 {
			return fmt.Errorf("stat cache ttl must be positive: %v", ttl)
		}
		r.statCache = cache.New(ttl, -1)
		return nil
	}
}

// WithSpoolDir sets the directory for temporary files of remote-to-remote
// copies. The default is os.TempDir.
func WithSpoolDir(dir string) RouterOption {
	return func(r *Router) error {
		r.spoolDir = dir
		return nil
	}
}

// NewRouter creates a router over pool. It shares the pool's logger and
// metrics.
func NewRouter(pool *Pool, options ...RouterOption) (*Router, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	r := &Router{
		pool:    pool,
		logger:  pool.logger,
		metrics: pool.metrics,
	}
	for _, opt := range options {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return r, nil
}

// Pool returns the router's pool.
func (r *Router) Pool() *Pool { return r.pool }

// Execute runs op on the session for location. op receives the location's
// remote path.
func Execute[T any](ctx context.Context, r *Router, location string, op func(s *Session, remotePath string) (T, error)) (T, error) {
	ref, err := Parse(location)
	if err != nil {
		var zero T
		return zero, err
	}
	return ExecuteRef(ctx, r, ref, op)
}

// ExecuteRef is Execute for a parsed location.
func ExecuteRef[T any](ctx context.Context, r *Router, ref LocationRef, op func(s *Session, remotePath string) (T, error)) (T, error) {
	v, _, err := run(ctx, r, ref, call{name: "execute"}, op)
	return v, err
}

// call describes one routed operation.
type call struct {
	name string
	// hold keeps the session leased after success; the caller releases it.
	hold bool
	// canRetry, when set, vetoes the retry after a connection failure.
	canRetry func() bool
}

func run[T any](ctx context.Context, r *Router, ref LocationRef, c call, op func(*Session, string) (T, error)) (T, *Session, error) {
	var zero T
	provider := r.provider(ref)

	for attempt := 0; ; attempt++ {
		s, err := r.pool.Acquire(ctx, ref.Key, provider)
		if err != nil {
			if attempt == 0 && r.retryable(ctx, err, c) {
				r.retrying(c.name, ref, err)
				continue
			}
			return zero, nil, err
		}

		v, err := op(s, ref.RemotePath)
		if err == nil {
			if !c.hold {
				r.pool.Release(s)
				s = nil
			}
			return v, s, nil
		}

		if !IsConnectionError(err) {
			r.pool.Release(s)
			return zero, nil, err
		}

		r.pool.Invalidate(s)
		if attempt == 0 && r.retryable(ctx, err, c) {
			r.retrying(c.name, ref, err)
			continue
		}
		return zero, nil, err
	}
}

func (r *Router) retryable(ctx context.Context, err error, c call) bool {
	if ctx.Err() != nil || !IsConnectionError(err) {
		return false
	}
	return c.canRetry == nil || c.canRetry()
}

func (r *Router) retrying(op string, ref LocationRef, err error) {
	r.logger.Debug("ftp retrying after connection error", "op", op, "key", ref.Key, "error", err)
	if r.metrics != nil {
		r.metrics.RecordRetry(op)
	}
}

func (r *Router) provider(ref LocationRef) CredentialsProvider {
	return func(context.Context) (Credentials, error) {
		if r.resolver != nil {
			return r.resolver.Resolve(ref)
		}
		return Resolve(ref), nil
	}
}

// List returns the entries of the directory at location.
func (r *Router) List(ctx context.Context, location string) ([]DirEntry, error) {
	ref, err := Parse(location)
	if err != nil {
		return nil, err
	}
	return r.ListRef(ctx, ref)
}

// ListRef is List for a parsed location.
func (r *Router) ListRef(ctx context.Context, ref LocationRef) ([]DirEntry, error) {
	entries, _, err := run(ctx, r, ref, call{name: "list"}, func(s *Session, p string) ([]DirEntry, error) {
		return s.List(p)
	})
	if err != nil {
		return nil, err
	}
	if r.statCache != nil {
		dir := cleanPath(ref.RemotePath)
		for _, e := range entries {
			r.statCache.Set(r.cacheKey(ref.Key, path.Join(dir, e.Name)), e, cache.DefaultExpiration)
		}
	}
	return entries, nil
}

// Stat returns the entry for location.
func (r *Router) Stat(ctx context.Context, location string) (DirEntry, error) {
	ref, err := Parse(location)
	if err != nil {
		return DirEntry{}, err
	}
	return r.StatRef(ctx, ref)
}

// StatRef is Stat for a parsed location.
func (r *Router) StatRef(ctx context.Context, ref LocationRef) (DirEntry, error) {
	key := r.cacheKey(ref.Key, cleanPath(ref.RemotePath))
	if r.statCache != nil {
		if v, ok := r.statCache.Get(key); ok {
			return v.(DirEntry), nil
		}
	}
	e, _, err := run(ctx, r, ref, call{name: "stat"}, func(s *Session, p string) (DirEntry, error) {
		return s.Stat(p)
	})
	if err != nil {
		return DirEntry{}, err
	}
	if r.statCache != nil {
		r.statCache.Set(key, e, cache.DefaultExpiration)
	}
	return e, nil
}

// Exists reports whether location exists.
func (r *Router) Exists(ctx context.Context, location string) (bool, error) {
	_, err := r.Stat(ctx, location)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// IsDir reports whether location is an existing directory.
func (r *Router) IsDir(ctx context.Context, location string) (bool, error) {
	e, err := r.Stat(ctx, location)
	switch {
	case err == nil:
		return e.IsDir(), nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// OpenRead opens location for reading. The key stays busy until the reader
// is closed; Close must be called.
func (r *Router) OpenRead(ctx context.Context, location string) (io.ReadCloser, error) {
	ref, err := Parse(location)
	if err != nil {
		return nil, err
	}
	rc, s, err := run(ctx, r, ref, call{name: "read", hold: true}, func(s *Session, p string) (io.ReadCloser, error) {
		return s.OpenRead(p)
	})
	if err != nil {
		return nil, err
	}
	return &routedReader{pool: r.pool, s: s, rc: rc}, nil
}

// OpenWrite opens location for writing, replacing its content. The upload
// is committed by Close, which must be called.
func (r *Router) OpenWrite(ctx context.Context, location string) (io.WriteCloser, error) {
	ref, err := Parse(location)
	if err != nil {
		return nil, err
	}
	wc, s, err := run(ctx, r, ref, call{name: "write", hold: true}, func(s *Session, p string) (io.WriteCloser, error) {
		return s.OpenWrite(p)
	})
	if err != nil {
		return nil, err
	}
	r.forget(ref)
	return &routedWriter{pool: r.pool, s: s, wc: wc}, nil
}

// routedReader releases its session on Close.
type routedReader struct {
	pool *Pool
	s    *Session
	rc   io.ReadCloser
	once sync.Once
	err  error
}

func (rr *routedReader) Read(b []byte) (int, error) {
	return rr.rc.Read(b)
}

func (rr *routedReader) Close() error {
	rr.once.Do(func() {
		rr.err = rr.rc.Close()
		rr.pool.Release(rr.s)
	})
	return rr.err
}

// routedWriter releases its session on Close.
type routedWriter struct {
	pool *Pool
	s    *Session
	wc   io.WriteCloser
	once sync.Once
	err  error
}

func (rw *routedWriter) Write(b []byte) (int, error) {
	return rw.wc.Write(b)
}

func (rw *routedWriter) Close() error {
	rw.once.Do(func() {
		rw.err = rw.wc.Close()
		rw.pool.Release(rw.s)
	})
	return rw.err
}

// Download copies location into w and returns the number of bytes written.
// A connection failure is retried only while nothing has reached w.
func (r *Router) Download(ctx context.Context, location string, w io.Writer) (int64, error) {
	ref, err := Parse(location)
	if err != nil {
		return 0, err
	}

	var written int64
	c := call{name: "download", canRetry: func() bool { return written == 0 }}
	_, _, err = run(ctx, r, ref, c, func(s *Session, p string) (struct{}, error) {
		rc, err := s.OpenRead(p)
		if err != nil {
			return struct{}{}, err
		}
		n, copyErr := io.Copy(localWriter{w: w, op: "download", p: p}, rc)
		written += n
		closeErr := rc.Close()
		if copyErr != nil {
			return struct{}{}, copyErr
		}
		return struct{}{}, closeErr
	})
	return written, err
}

// Upload copies rd to location and returns the number of bytes sent. A
// connection failure is retried only when rd can be rewound with io.Seeker
// or the failure came before anything was read from it.
func (r *Router) Upload(ctx context.Context, location string, rd io.Reader) (int64, error) {
	ref, err := Parse(location)
	if err != nil {
		return 0, err
	}

	seeker, canSeek := rd.(io.Seeker)
	var start int64
	if canSeek {
		if start, err = seeker.Seek(0, io.SeekCurrent); err != nil {
			canSeek = false
		}
	}

	var (
		sent     int64
		attempts int
		consumed bool
	)
	c := call{name: "upload", canRetry: func() bool { return canSeek || !consumed }}
	_, _, err = run(ctx, r, ref, c, func(s *Session, p string) (struct{}, error) {
		if attempts > 0 && canSeek {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return struct{}{}, newError(KindIO, "upload", p, err)
			}
		}
		attempts++
		sent = 0

		wc, err := s.OpenWrite(p)
		if err != nil {
			return struct{}{}, err
		}
		consumed = true
		n, copyErr := io.Copy(wc, localReader{r: rd, op: "upload", p: p})
		sent = n
		closeErr := wc.Close()
		if copyErr != nil {
			return struct{}{}, copyErr
		}
		return struct{}{}, closeErr
	})
	r.forget(ref)
	return sent, err
}

// localWriter and localReader wrap the caller's side of a transfer. Their
// failures are IOErrors that never count as connection failures, so a
// broken local pipe neither discards the session nor triggers a retry.
type localWriter struct {
	w     io.Writer
	op, p string
}

func (lw localWriter) Write(b []byte) (int, error) {
	n, err := lw.w.Write(b)
	if err != nil {
		return n, newError(KindIO, lw.op, lw.p, err)
	}
	return n, nil
}

type localReader struct {
	r     io.Reader
	op, p string
}

func (lr localReader) Read(b []byte) (int, error) {
	n, err := lr.r.Read(b)
	if err != nil && err != io.EOF {
		return n, newError(KindIO, lr.op, lr.p, err)
	}
	return n, err
}

// Rename renames location to newPath on the same server.
func (r *Router) Rename(ctx context.Context, location, newPath string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "rename"}, func(s *Session, p string) (struct{}, error) {
		return struct{}{}, s.Rename(p, newPath)
	})
	r.forget(ref, ref.WithPath(newPath))
	return err
}

// Remove deletes the file or empty directory at location.
func (r *Router) Remove(ctx context.Context, location string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "remove"}, func(s *Session, p string) (struct{}, error) {
		return struct{}{}, removeOne(s, p)
	})
	r.forget(ref)
	return err
}

func removeOne(s *Session, p string) error {
	if cleanPath(p) == "/" {
		return errorf(KindPermissionDenied, "remove", "/", "refusing to remove the root")
	}
	e, err := s.Stat(p)
	if err != nil {
		return err
	}
	if e.IsDir() {
		return s.RemoveDir(p)
	}
	return s.Delete(p)
}

// Mkdir creates the directory at location. Its parent must exist.
func (r *Router) Mkdir(ctx context.Context, location string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "mkdir"}, func(s *Session, p string) (struct{}, error) {
		return struct{}{}, s.Mkdir(p)
	})
	r.forget(ref)
	return err
}

// MkdirAll creates the directory at location along with missing parents.
// An existing directory is not an error; an existing file is.
func (r *Router) MkdirAll(ctx context.Context, location string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "mkdir"}, func(s *Session, p string) (struct{}, error) {
		return struct{}{}, mkdirAll(s, p)
	})
	r.forget(ref)
	return err
}

func mkdirAll(s *Session, p string) error {
	p = cleanPath(p)
	if p == "/" {
		return nil
	}

	cur := "/"
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		cur = path.Join(cur, part)
		e, err := s.Stat(cur)
		if err == nil {
			if !e.IsDir() {
				return errorf(KindAlreadyExists, "mkdir", cur, "not a directory")
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.Mkdir(cur); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

// RemoveAll removes location and everything below it. A missing location
// is not an error. Failures on individual entries are collected and the
// walk continues.
func (r *Router) RemoveAll(ctx context.Context, location string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "remove"}, func(s *Session, p string) (struct{}, error) {
		if cleanPath(p) == "/" {
			return struct{}{}, errorf(KindPermissionDenied, "remove", "/", "refusing to remove the root")
		}
		e, err := s.Stat(p)
		if errors.Is(err, ErrNotFound) {
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, removeTree(ctx, s, cleanPath(p), e)
	})
	r.forget(ref)
	return err
}

func removeTree(ctx context.Context, s *Session, p string, e DirEntry) error {
	if !e.IsDir() {
		return s.Delete(p)
	}

	entries, err := s.List(p)
	if err != nil {
		return err
	}

	var errs error
	for _, child := range entries {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		err := removeTree(ctx, s, path.Join(p, child.Name), child)
		if IsConnectionError(err) {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errs
	}
	return s.RemoveDir(p)
}

// Touch creates an empty file at location. It fails with ErrAlreadyExists
// when something is already there.
func (r *Router) Touch(ctx context.Context, location string) error {
	ref, err := Parse(location)
	if err != nil {
		return err
	}
	_, _, err = run(ctx, r, ref, call{name: "touch"}, func(s *Session, p string) (struct{}, error) {
		if _, err := s.Stat(p); err == nil {
			return struct{}{}, errorf(KindAlreadyExists, "touch", s.redactPath(cleanPath(p)), "file exists")
		} else if !errors.Is(err, ErrNotFound) {
			return struct{}{}, err
		}
		wc, err := s.OpenWrite(p)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, wc.Close()
	})
	r.forget(ref)
	return err
}

// IsLocation reports whether s looks like an ftp or ftps location rather
// than a local path.
func IsLocation(s string) bool {
	scheme, _, ok := strings.Cut(s, "://")
	if !ok {
		return false
	}
	switch Scheme(strings.ToLower(scheme)) {
	case SchemeFTP, SchemeFTPS:
		return true
	}
	return false
}

// Copy copies a single file. Either side may be a location or a local path.
// Remote-to-remote copies go through a spool file, so the two sides may be
// on different servers, or on the same key without holding it twice.
func (r *Router) Copy(ctx context.Context, src, dst string) (int64, error) {
	srcRemote, dstRemote := IsLocation(src), IsLocation(dst)

	switch {
	case srcRemote && dstRemote:
		spool, err := os.CreateTemp(r.spoolDir, "ftpfs-spool-*")
		if err != nil {
			return 0, newError(KindIO, "copy", "", err)
		}
		defer func() {
			_ = spool.Close()
			_ = os.Remove(spool.Name())
		}()
		if _, err := r.Download(ctx, src, spool); err != nil {
			return 0, err
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return 0, newError(KindIO, "copy", "", err)
		}
		return r.Upload(ctx, dst, spool)

	case srcRemote:
		f, err := os.Create(dst)
		if err != nil {
			return 0, newError(KindIO, "copy", "", err)
		}
		n, err := r.Download(ctx, src, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = newError(KindIO, "copy", "", cerr)
		}
		return n, err

	case dstRemote:
		f, err := os.Open(src)
		if err != nil {
			return 0, newError(KindIO, "copy", "", err)
		}
		defer f.Close()
		return r.Upload(ctx, dst, f)
	}

	return 0, errorf(KindMalformedLocation, "copy", "", "neither %q nor %q is an ftp location", src, dst)
}

// Move moves a single file. Within one connection key it is a rename;
// otherwise the file is copied and the source removed.
func (r *Router) Move(ctx context.Context, src, dst string) error {
	if IsLocation(src) && IsLocation(dst) {
		srcRef, err := Parse(src)
		if err != nil {
			return err
		}
		dstRef, err := Parse(dst)
		if err != nil {
			return err
		}
		if srcRef.Key == dstRef.Key {
			return r.Rename(ctx, src, dstRef.RemotePath)
		}
	}

	if _, err := r.Copy(ctx, src, dst); err != nil {
		return err
	}
	if IsLocation(src) {
		return r.Remove(ctx, src)
	}
	if err := os.Remove(src); err != nil {
		return newError(KindIO, "move", "", err)
	}
	return nil
}

func (r *Router) cacheKey(key ConnectionKey, p string) string {
	return key.String() + p
}

// forget drops cached entries for the given locations and everything below
// them.
func (r *Router) forget(refs ...LocationRef) {
	if r.statCache == nil {
		return
	}
	for _, ref := range refs {
		p := cleanPath(ref.RemotePath)
		prefix := r.cacheKey(ref.Key, p)
		for k := range r.statCache.Items() {
			if k == prefix || strings.HasPrefix(k, strings.TrimSuffix(prefix, "/")+"/") {
				r.statCache.Delete(k)
			}
		}
	}
}

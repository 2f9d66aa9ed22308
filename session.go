package ftpfs

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateInUse
	StateBroken
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EntryType is the kind of a directory entry.
type EntryType int

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDir
	EntryLink
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	case EntryLink:
		return "link"
	}
	return "unknown"
}

// DirEntry describes a remote file as reported by an attribute listing.
type DirEntry struct {
	Name string
	Type EntryType
	Size int64
	// Permissions is the permission column as the server printed it.
	Permissions string
	Mode        os.FileMode
	Owner       string
	Group       string
	ModTime     time.Time
	// Target is the link target for EntryLink.
	Target string
}

// IsDir reports whether e is a directory.
func (e DirEntry) IsDir() bool {
	return e.Type == EntryDir
}

// Conn is an authenticated FTP control connection as used by a Session.
// Paths are absolute remote paths.
type Conn interface {
	List(path string) ([]DirEntry, error)
	Retrieve(path string) (io.ReadCloser, error)
	Store(path string) (io.WriteCloser, error)
	Rename(from, to string) error
	Delete(path string) error
	RemoveDir(path string) error
	MakeDir(path string) error
	Noop() error
	Quit() error
}

// Session is one authenticated connection owned by a Pool. A Session is
// used by one caller at a time; the pool hands it out InUse and takes it
// back with Release.
type Session struct {
	key    ConnectionKey
	conn   Conn
	logger *slog.Logger
	redact PathRedactor

	mu         sync.Mutex
	state      SessionState
	lastUsedAt time.Time
	// pool and leased are guarded by the pool's mutex; leased is true while
	// a caller holds the session.
	pool   *Pool
	leased bool

	closeOnce sync.Once
	closeErr  error
}

func newSession(key ConnectionKey, conn Conn, logger *slog.Logger, redact PathRedactor, now time.Time) *Session {
	return &Session{
		key:        key,
		conn:       conn,
		logger:     logger,
		redact:     redact,
		state:      StateInUse,
		lastUsedAt: now,
	}
}

// Key returns the connection key the session was opened for.
func (s *Session) Key() ConnectionKey { return s.key }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUsedAt returns when the session was last released.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// transition moves from -> to and reports whether the session was in from.
func (s *Session) transition(from, to SessionState, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	if !now.IsZero() {
		s.lastUsedAt = now
	}
	return true
}

func (s *Session) markBroken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateBroken
	}
}

// check fails fast on a session that can no longer be used.
func (s *Session) check(op, p string) error {
	switch s.State() {
	case StateBroken, StateClosed:
		return &Error{Kind: KindIO, Op: op, Path: p, Err: errSessionUnusable, conn: true}
	}
	return nil
}

var errSessionUnusable = errors.New("session is broken or closed")

// fail classifies err and marks the session Broken when the connection
// itself failed.
func (s *Session) fail(op, p string, err error) error {
	err = classify(op, s.redactPath(p), err)
	if IsConnectionError(err) {
		s.markBroken()
		s.logger.Debug("ftp session broken", "key", s.key, "op", op, "error", err)
	}
	return err
}

func (s *Session) redactPath(p string) string {
	if s.redact != nil {
		return s.redact(p)
	}
	return p
}

// List returns the entries of the directory at p. It never returns a
// partial listing.
func (s *Session) List(p string) ([]DirEntry, error) {
	p = cleanPath(p)
	if err := s.check("list", p); err != nil {
		return nil, err
	}
	entries, err := s.conn.List(p)
	if err != nil {
		return nil, s.fail("list", p, err)
	}
	return entries, nil
}

// Stat returns the entry for p. The root is synthesized; any other path is
// looked up in its parent's listing.
func (s *Session) Stat(p string) (DirEntry, error) {
	p = cleanPath(p)
	if p == "/" {
		return DirEntry{Name: "/", Type: EntryDir, Mode: os.ModeDir | 0o755}, nil
	}

	entries, err := s.List(path.Dir(p))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op, e.Path = "stat", s.redactPath(p)
		}
		return DirEntry{}, err
	}

	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return DirEntry{}, newError(KindNotFound, "stat", s.redactPath(p), os.ErrNotExist)
}

// OpenRead opens p for reading on a passive data connection. The session
// stays busy until the reader is closed.
func (s *Session) OpenRead(p string) (io.ReadCloser, error) {
	p = cleanPath(p)
	if err := s.check("read", p); err != nil {
		return nil, err
	}
	rc, err := s.conn.Retrieve(p)
	if err != nil {
		return nil, s.fail("read", p, err)
	}
	return &sessionReader{s: s, p: p, rc: rc}, nil
}

// OpenWrite opens p for writing, truncating it. The upload is committed by
// Close, which reports the server's verdict.
func (s *Session) OpenWrite(p string) (io.WriteCloser, error) {
	p = cleanPath(p)
	if err := s.check("write", p); err != nil {
		return nil, err
	}
	wc, err := s.conn.Store(p)
	if err != nil {
		return nil, s.fail("write", p, err)
	}
	return &sessionWriter{s: s, p: p, wc: wc}, nil
}

// Rename renames from to to.
func (s *Session) Rename(from, to string) error {
	from, to = cleanPath(from), cleanPath(to)
	if err := s.check("rename", from); err != nil {
		return err
	}
	if err := s.conn.Rename(from, to); err != nil {
		return s.fail("rename", from, err)
	}
	return nil
}

// Delete removes the file at p.
func (s *Session) Delete(p string) error {
	return s.simple("delete", p, s.conn.Delete)
}

// RemoveDir removes the empty directory at p.
func (s *Session) RemoveDir(p string) error {
	return s.simple("rmdir", p, s.conn.RemoveDir)
}

// Mkdir creates the directory p. Its parent must exist.
func (s *Session) Mkdir(p string) error {
	return s.simple("mkdir", p, s.conn.MakeDir)
}

func (s *Session) simple(op, p string, fn func(string) error) error {
	p = cleanPath(p)
	if err := s.check(op, p); err != nil {
		return err
	}
	if err := fn(p); err != nil {
		return s.fail(op, p, err)
	}
	return nil
}

// IsAlive probes the connection with NOOP. A failed probe marks the session
// Broken.
func (s *Session) IsAlive() bool {
	if s.check("noop", "") != nil {
		return false
	}
	if err := s.conn.Noop(); err != nil {
		s.markBroken()
		s.logger.Debug("ftp session failed liveness probe", "key", s.key, "error", err)
		return false
	}
	return true
}

// Close sends QUIT and closes the connection. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.closeErr = s.conn.Quit()
		s.logger.Debug("ftp session closed", "key", s.key)
	})
	return s.closeErr
}

type sessionReader struct {
	s  *Session
	p  string
	rc io.ReadCloser
}

func (r *sessionReader) Read(b []byte) (int, error) {
	n, err := r.rc.Read(b)
	if err != nil && err != io.EOF {
		return n, r.s.fail("read", r.p, err)
	}
	return n, err
}

func (r *sessionReader) Close() error {
	if err := r.rc.Close(); err != nil {
		return r.s.fail("read", r.p, err)
	}
	return nil
}

type sessionWriter struct {
	s  *Session
	p  string
	wc io.WriteCloser
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	n, err := w.wc.Write(b)
	if err != nil {
		return n, w.s.fail("write", w.p, err)
	}
	return n, nil
}

func (w *sessionWriter) Close() error {
	if err := w.wc.Close(); err != nil {
		return w.s.fail("write", w.p, err)
	}
	return nil
}

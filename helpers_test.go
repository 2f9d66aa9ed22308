package ftpfs

import (
	"bytes"
	"context"
	"io"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpfs/internal/ftpconn"
)

// fakeServer is an in-memory FTP server shared by every connection it
// dials. Failures can be scripted per command; a scripted connection error
// also kills the connection that hit it.
type fakeServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	conns    []*fakeConn
	creds    []Credentials
	dialErrs []error
	failures map[string][]error
	// hold, when set, blocks every Noop until closed.
	hold chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		failures: make(map[string][]error),
	}
}

func (f *fakeServer) addFile(p string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = []byte(data)
	for d := path.Dir(p); d != "/"; d = path.Dir(d) {
		f.dirs[d] = true
	}
}

func (f *fakeServer) addDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for d := p; d != "/"; d = path.Dir(d) {
		f.dirs[d] = true
	}
}

func (f *fakeServer) file(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	return string(data), ok
}

func (f *fakeServer) isDir(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[p]
}

// fail scripts errs for the next calls of op ("LIST", "RETR", "NOOP", ...).
func (f *fakeServer) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeServer) failDial(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErrs = append(f.dialErrs, errs...)
}

func (f *fakeServer) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeServer) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeServer) Dial(_ context.Context, key ConnectionKey, creds Credentials) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, creds)
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := &fakeConn{srv: f, key: key}
	f.conns = append(f.conns, c)
	return c, nil
}

func notFound(cmd string) error {
	return &ftpconn.ProtocolError{Command: cmd, Response: "No such file or directory", Code: 550}
}

// fakeConn is one connection to a fakeServer.
type fakeConn struct {
	srv *fakeServer
	key ConnectionKey

	mu     sync.Mutex
	dead   bool
	quits  int
	noops  int
	called []string
}

func (c *fakeConn) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

func (c *fakeConn) quitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quits
}

func (c *fakeConn) noopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noops
}

func (c *fakeConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.called)
}

// enter records op and returns the scripted or connection failure, if any.
func (c *fakeConn) enter(op string) error {
	c.mu.Lock()
	c.called = append(c.called, op)
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return io.EOF
	}

	c.srv.mu.Lock()
	var err error
	if errs := c.srv.failures[op]; len(errs) > 0 {
		err = errs[0]
		c.srv.failures[op] = errs[1:]
	}
	c.srv.mu.Unlock()

	if err != nil && isConnCause(err) {
		c.kill()
	}
	return err
}

func (c *fakeConn) List(p string) ([]DirEntry, error) {
	if err := c.enter("LIST"); err != nil {
		return nil, err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[p] {
		return nil, notFound("LIST")
	}
	var entries []DirEntry
	for f, data := range s.files {
		if path.Dir(f) == p {
			entries = append(entries, DirEntry{Name: path.Base(f), Type: EntryFile, Size: int64(len(data))})
		}
	}
	for d := range s.dirs {
		if d != "/" && path.Dir(d) == p {
			entries = append(entries, DirEntry{Name: path.Base(d), Type: EntryDir})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (c *fakeConn) Retrieve(p string) (io.ReadCloser, error) {
	if err := c.enter("RETR"); err != nil {
		return nil, err
	}
	data, ok := c.srv.file(p)
	if !ok {
		return nil, notFound("RETR")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (c *fakeConn) Store(p string) (io.WriteCloser, error) {
	if err := c.enter("STOR"); err != nil {
		return nil, err
	}
	if !c.srv.isDir(path.Dir(p)) {
		return nil, notFound("STOR")
	}
	return &fakeUpload{conn: c, path: p}, nil
}

type fakeUpload struct {
	conn *fakeConn
	path string
	buf  bytes.Buffer
}

func (u *fakeUpload) Write(b []byte) (int, error) {
	if err := u.conn.enter("WRITE"); err != nil {
		return 0, err
	}
	return u.buf.Write(b)
}

func (u *fakeUpload) Close() error {
	u.conn.srv.mu.Lock()
	defer u.conn.srv.mu.Unlock()
	u.conn.srv.files[u.path] = bytes.Clone(u.buf.Bytes())
	return nil
}

func (c *fakeConn) Rename(from, to string) error {
	if err := c.enter("RNFR"); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.files[from]; ok {
		delete(s.files, from)
		s.files[to] = data
		return nil
	}
	if s.dirs[from] {
		delete(s.dirs, from)
		s.dirs[to] = true
		return nil
	}
	return notFound("RNFR")
}

func (c *fakeConn) Delete(p string) error {
	if err := c.enter("DELE"); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p]; !ok {
		return notFound("DELE")
	}
	delete(s.files, p)
	return nil
}

func (c *fakeConn) RemoveDir(p string) error {
	if err := c.enter("RMD"); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[p] {
		return notFound("RMD")
	}
	for f := range s.files {
		if path.Dir(f) == p {
			return &ftpconn.ProtocolError{Command: "RMD", Response: "Directory not empty", Code: 550}
		}
	}
	delete(s.dirs, p)
	return nil
}

func (c *fakeConn) MakeDir(p string) error {
	if err := c.enter("MKD"); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[path.Dir(p)] {
		return notFound("MKD")
	}
	if _, ok := s.files[p]; ok || s.dirs[p] {
		return &ftpconn.ProtocolError{Command: "MKD", Response: "File exists", Code: 550}
	}
	s.dirs[p] = true
	return nil
}

func (c *fakeConn) Noop() error {
	c.mu.Lock()
	c.noops++
	c.mu.Unlock()
	if hold := c.srv.hold; hold != nil {
		<-hold
	}
	return c.enter("NOOP")
}

func (c *fakeConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quits++
	c.dead = true
	return nil
}

// recordingMetrics is a MetricsCollector that keeps counts.
type recordingMetrics struct {
	mu        sync.Mutex
	acquires  int
	reused    int
	connects  int
	failed    int
	evictions map[string]int
	retries   map[string]int
	live      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		evictions: make(map[string]int),
		retries:   make(map[string]int),
	}
}

func (m *recordingMetrics) RecordAcquire(_ string, reused bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if reused {
		m.reused++
	}
}

func (m *recordingMetrics) RecordConnect(_ string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if !success {
		m.failed++
	}
}

func (m *recordingMetrics) RecordEviction(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions[reason]++
}

func (m *recordingMetrics) RecordRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

func (m *recordingMetrics) SetLiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = n
}

func (m *recordingMetrics) evicted(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions[reason]
}

func (m *recordingMetrics) retried(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[op]
}

// newTestPool returns a pool dialing srv, shut down at test cleanup.
func newTestPool(t *testing.T, srv *fakeServer, opts ...Option) *Pool {
	t.Helper()
	p, err := NewPool(append([]Option{WithDialer(srv)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func newTestRouter(t *testing.T, srv *fakeServer, opts ...Option) (*Router, *Pool) {
	t.Helper()
	p := newTestPool(t, srv, opts...)
	r, err := NewRouter(p)
	require.NoError(t, err)
	return r, p
}

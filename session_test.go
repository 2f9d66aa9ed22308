package ftpfs

import (
	"io"
	"log/slog"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, srv *fakeServer, redact PathRedactor) (*Session, *fakeConn) {
	t.Helper()
	conn, err := srv.Dial(t.Context(), keyA, Credentials{})
	require.NoError(t, err)
	s := newSession(keyA, conn, slog.New(slog.DiscardHandler), redact, time.Now())
	return s, conn.(*fakeConn)
}

func TestSessionList(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/pub/a.txt", "hello")
	srv.addDir("/pub/sub")
	s, _ := newTestSession(t, srv, nil)

	entries, err := s.List("pub/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, DirEntry{Name: "a.txt", Type: EntryFile, Size: 5}, entries[0])
	assert.True(t, entries[1].IsDir())

	_, err = s.List("/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateInUse, s.State(), "semantic errors leave the session usable")
}

func TestSessionStat(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/pub/a.txt", "hello")
	s, conn := newTestSession(t, srv, nil)

	root, err := s.Stat("/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, os.ModeDir|0o755, root.Mode)
	assert.Empty(t, conn.commands(), "the root is not looked up")

	e, err := s.Stat("/pub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.Size)

	_, err = s.Stat("/pub/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Stat("/nope/b.txt")
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNotFound, fe.Kind)
	assert.Equal(t, "stat", fe.Op)
	assert.Equal(t, "/nope/b.txt", fe.Path)
}

func TestSessionReadWrite(t *testing.T) {
	srv := newFakeServer()
	srv.addDir("/up")
	s, _ := newTestSession(t, srv, nil)

	w, err := s.OpenWrite("/up/f.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.OpenRead("/up/f.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "payload", string(data))

	_, err = s.OpenWrite("/nodir/f.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionMutations(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/a.txt", "x")
	s, _ := newTestSession(t, srv, nil)

	require.NoError(t, s.Mkdir("/d"))
	assert.ErrorIs(t, s.Mkdir("/d"), ErrAlreadyExists)
	require.NoError(t, s.Rename("/a.txt", "/d/b.txt"))
	_, ok := srv.file("/d/b.txt")
	assert.True(t, ok)
	require.NoError(t, s.Delete("/d/b.txt"))
	require.NoError(t, s.RemoveDir("/d"))
	assert.ErrorIs(t, s.Delete("/d/b.txt"), ErrNotFound)
}

func TestSessionBrokenFailsFast(t *testing.T) {
	srv := newFakeServer()
	s, conn := newTestSession(t, srv, nil)

	conn.kill()
	_, err := s.List("/")
	require.True(t, IsConnectionError(err))
	assert.Equal(t, StateBroken, s.State())
	assert.False(t, s.IsAlive())

	before := len(conn.commands())
	_, err = s.List("/")
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, s.Mkdir("/x"), ErrIO)
	assert.Len(t, conn.commands(), before, "a broken session sends nothing")
}

func TestSessionIsAlive(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, nil)

	assert.True(t, s.IsAlive())

	srv.fail("NOOP", reply("NOOP", 421, "Idle timeout"))
	assert.False(t, s.IsAlive())
	assert.Equal(t, StateBroken, s.State())
}

func TestSessionCloseIdempotent(t *testing.T) {
	srv := newFakeServer()
	s, conn := newTestSession(t, srv, nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, conn.quitCount())

	s.markBroken()
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionRedactsPaths(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, func(p string) string { return ".../" + path.Base(p) })

	_, err := s.Stat("/home/bob/secret/plan.txt")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "/home/bob")
	assert.Contains(t, err.Error(), ".../plan.txt")
}

func TestSessionStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "in-use", StateInUse.String())
	assert.Equal(t, "broken", StateBroken.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "dir", EntryDir.String())
	assert.Equal(t, "unknown", EntryUnknown.String())
}

package ftpfs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxSessions bounds the number of live sessions across all keys.
const DefaultMaxSessions = 16

// CredentialsProvider supplies the login for a new session. It is called
// only when the pool has to connect.
type CredentialsProvider func(ctx context.Context) (Credentials, error)

// StaticCredentials returns a provider that always yields c.
func StaticCredentials(c Credentials) CredentialsProvider {
	return func(context.Context) (Credentials, error) { return c, nil }
}

// slot holds the single session of one key. sem is a one-token semaphore:
// whoever holds the token owns the key, either using its session or
// connecting one. Slots are never removed from the pool.
type slot struct {
	sem     chan struct{}
	session *Session
}

func (sl *slot) tryLock() bool {
	select {
	case sl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (sl *slot) unlock() {
	<-sl.sem
}

// Pool keeps at most one live session per ConnectionKey. Callers for the
// same key are serialized: a second Acquire waits until the first caller
// releases. A Pool is safe for concurrent use.
type Pool struct {
	dialer      Dialer
	netDialer   *NetDialer
	clock       clock.Clock
	logger      *slog.Logger
	metrics     MetricsCollector
	redact      PathRedactor
	maxSessions int
	idleTimeout time.Duration

	mu     sync.Mutex
	slots  map[ConnectionKey]*slot
	live   int
	closed bool

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewPool creates a pool. With an idle timeout configured, a janitor
// goroutine closes sessions idle longer than the timeout; Shutdown stops it.
func NewPool(options ...Option) (*Pool, error) {
	p := &Pool{
		netDialer:   &NetDialer{},
		clock:       clock.New(),
		logger:      slog.New(slog.DiscardHandler),
		maxSessions: DefaultMaxSessions,
		slots:       make(map[ConnectionKey]*slot),
	}

	for _, opt := range options {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if p.dialer == nil {
		if p.netDialer.Logger == nil {
			p.netDialer.Logger = p.logger
		}
		p.dialer = p.netDialer
	}

	if p.idleTimeout > 0 {
		p.stopJanitor = make(chan struct{})
		p.janitorDone = make(chan struct{})
		go p.janitor()
	}

	return p, nil
}

// slotFor returns the slot of key, creating it. p.mu must be held.
func (p *Pool) slotFor(key ConnectionKey) *slot {
	sl, ok := p.slots[key]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		p.slots[key] = sl
	}
	return sl
}

// Acquire returns the session for key, InUse and owned by the caller until
// Release or Invalidate. An idle session is reused after a successful NOOP;
// otherwise provider is called and a new session is connected. Acquire
// waits while another caller holds the key, honoring ctx.
func (p *Pool) Acquire(ctx context.Context, key ConnectionKey, provider CredentialsProvider) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	sl := p.slotFor(key)
	p.mu.Unlock()

	start := p.clock.Now()
	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	wait := p.clock.Since(start)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sl.unlock()
		return nil, ErrPoolClosed
	}
	s := sl.session
	p.mu.Unlock()

	if s != nil {
		if s.State() == StateIdle && s.IsAlive() && s.transition(StateIdle, StateInUse, time.Time{}) {
			p.mu.Lock()
			s.leased = true
			p.mu.Unlock()
			p.logger.Debug("ftp session reused", "key", key)
			if p.metrics != nil {
				p.metrics.RecordAcquire(string(key.Scheme), true, wait)
			}
			return s, nil
		}
		p.logger.Debug("ftp session dead, reconnecting", "key", key)
		p.detach(sl, s, "dead")
	}

	s, err := p.connect(ctx, sl, key, provider)
	if err != nil {
		sl.unlock()
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordAcquire(string(key.Scheme), false, wait)
	}
	return s, nil
}

// connect opens a new session for key while the caller holds sl's token.
func (p *Pool) connect(ctx context.Context, sl *slot, key ConnectionKey, provider CredentialsProvider) (*Session, error) {
	if err := p.reserve(key); err != nil {
		return nil, err
	}

	creds, err := provider(ctx)
	if err != nil {
		p.unreserve()
		return nil, err
	}

	start := p.clock.Now()
	conn, err := p.dialer.Dial(ctx, key, creds)
	if p.metrics != nil {
		p.metrics.RecordConnect(string(key.Scheme), err == nil, p.clock.Since(start))
	}
	if err != nil {
		p.unreserve()
		p.logger.Debug("ftp connect failed", "key", key, "error", err)
		return nil, classifyConnect(err)
	}

	s := newSession(key, conn, p.logger, p.redact, p.clock.Now())
	s.leased = true

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = s.Close()
		return nil, ErrPoolClosed
	}
	s.pool = p
	sl.session = s
	live := p.live
	p.mu.Unlock()

	p.logger.Debug("ftp session connected", "key", key, "credentials", creds)
	if p.metrics != nil {
		p.metrics.SetLiveSessions(live)
	}
	return s, nil
}

// reserve counts a new session against MaxSessions, evicting the least
// recently used idle session of another key when the pool is full.
func (p *Pool) reserve(key ConnectionKey) error {
	p.mu.Lock()
	if p.maxSessions <= 0 || p.live < p.maxSessions {
		p.live++
		p.mu.Unlock()
		return nil
	}

	type candidate struct {
		sl *slot
		s  *Session
	}
	var candidates []candidate
	for k, sl := range p.slots {
		s := sl.session
		if k == key || s == nil || s.leased || s.State() != StateIdle {
			continue
		}
		candidates = append(candidates, candidate{sl: sl, s: s})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].s.LastUsedAt().Before(candidates[j].s.LastUsedAt())
	})

	// a candidate whose token is taken is being acquired; try the next one
	var (
		victim     *Session
		victimSlot *slot
	)
	for _, c := range candidates {
		if c.sl.tryLock() {
			victim, victimSlot = c.s, c.sl
			break
		}
	}
	if victim == nil {
		p.mu.Unlock()
		return newError(KindPoolExhausted, "acquire", "",
			fmt.Errorf("%d sessions in use", p.maxSessions))
	}
	// the victim's count is handed over to the new session
	victimSlot.session = nil
	p.mu.Unlock()

	_ = victim.Close()
	victimSlot.unlock()
	p.logger.Debug("ftp session evicted for capacity", "key", victim.key)
	if p.metrics != nil {
		p.metrics.RecordEviction("capacity")
	}
	return nil
}

// unreserve gives back a reservation that did not become a session.
// Shutdown has already reset the count when the pool is closed.
func (p *Pool) unreserve() {
	p.mu.Lock()
	if !p.closed {
		p.live--
	}
	p.mu.Unlock()
}

// detach removes s from sl if it is still there and closes it.
func (p *Pool) detach(sl *slot, s *Session, reason string) {
	p.mu.Lock()
	owned := sl.session == s
	if owned {
		sl.session = nil
		p.live--
	}
	live := p.live
	p.mu.Unlock()

	_ = s.Close()
	if owned && p.metrics != nil {
		p.metrics.RecordEviction(reason)
		p.metrics.SetLiveSessions(live)
	}
}

// Release returns s to the pool. An InUse session becomes Idle and its
// last-used time is stamped; a Broken session is closed and removed.
// Releasing a session the caller no longer holds, or one from another
// pool, is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	sl := p.slots[s.key]
	if s.pool != p || sl == nil || !s.leased {
		p.mu.Unlock()
		return
	}
	s.leased = false
	keep := sl.session == s && s.transition(StateInUse, StateIdle, p.clock.Now())
	p.mu.Unlock()

	if !keep {
		p.detach(sl, s, "dead")
	}
	sl.unlock()
}

// Invalidate marks s Broken, closes it and removes it from the pool. If the
// caller held s, its key is released.
func (p *Pool) Invalidate(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	sl := p.slots[s.key]
	if s.pool != p || sl == nil {
		p.mu.Unlock()
		return
	}
	leased := s.leased
	s.leased = false
	p.mu.Unlock()

	s.markBroken()

	p.logger.Debug("ftp session invalidated", "key", s.key)
	p.detach(sl, s, "invalidated")
	if leased {
		sl.unlock()
	}
}

// EvictIdle closes sessions that have been idle for at least olderThan and
// returns how many were closed. Sessions in use are never touched.
func (p *Pool) EvictIdle(olderThan time.Duration) int {
	now := p.clock.Now()

	type victim struct {
		sl *slot
		s  *Session
	}
	var victims []victim

	p.mu.Lock()
	for _, sl := range p.slots {
		s := sl.session
		if s == nil || s.leased || s.State() != StateIdle {
			continue
		}
		if now.Sub(s.LastUsedAt()) < olderThan {
			continue
		}
		if !sl.tryLock() {
			continue
		}
		sl.session = nil
		p.live--
		victims = append(victims, victim{sl: sl, s: s})
	}
	live := p.live
	p.mu.Unlock()

	for _, v := range victims {
		_ = v.s.Close()
		v.sl.unlock()
		p.logger.Debug("ftp idle session evicted", "key", v.s.key)
		if p.metrics != nil {
			p.metrics.RecordEviction("idle")
		}
	}
	if len(victims) > 0 && p.metrics != nil {
		p.metrics.SetLiveSessions(live)
	}

	return len(victims)
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pool) janitor() {
	defer close(p.janitorDone)

	interval := p.idleTimeout / 2
	if interval <= 0 {
		interval = p.idleTimeout
	}
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.EvictIdle(p.idleTimeout)
		case <-p.stopJanitor:
			return
		}
	}
}

// Shutdown closes every session, in use or not, and stops the janitor.
// Later Acquire calls fail with ErrPoolClosed. Close errors are combined.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var sessions []*Session
	for _, sl := range p.slots {
		if sl.session != nil {
			sessions = append(sessions, sl.session)
			sl.session = nil
		}
	}
	p.live = 0
	p.mu.Unlock()

	if p.stopJanitor != nil {
		close(p.stopJanitor)
		<-p.janitorDone
	}

	var (
		errMu sync.Mutex
		errs  error
	)
	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("close %s: %w", s.key, err))
				errMu.Unlock()
			}
			if p.metrics != nil {
				p.metrics.RecordEviction("shutdown")
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.metrics != nil {
		p.metrics.SetLiveSessions(0)
	}
	p.logger.Debug("ftp pool shut down", "sessions", len(sessions))
	return errs
}

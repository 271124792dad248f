package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/syncx"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
)

var (
	processStart = time.Now().UnixNano()
	sessionSeq   atomic.Uint64
)

type shard struct {
	mu    sync.Mutex
	locks map[int64]*Info
}

// Manager keeps at most one edit lock per document. The table is split into
// shards, each guarded by its own mutex, so acquiring a lock is an atomic
// insert-if-absent for that document without serialising unrelated ones.
// The capacity ceiling is enforced across shards with an atomic reservation.
type Manager struct {
	shards     []shard
	shardCount int
	held       atomic.Int64
	capacity   int64
	warnRatio  float64
	warnAt     int64
	ttl        time.Duration
	sink       events.Sink
	now        func() time.Time
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		capacity:  DefaultCapacity,
		warnRatio: DefaultWarnRatio,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.shards = make([]shard, syncx.RoundStripes(m.shardCount))
	for i := range m.shards {
		m.shards[i].locks = make(map[int64]*Info)
	}
	m.warnAt = int64(float64(m.capacity) * m.warnRatio)
	return m
}

func (m *Manager) shardFor(id int64) *shard {
	return &m.shards[syncx.StripeIndex(id, len(m.shards))]
}

// Capacity returns the configured ceiling.
func (m *Manager) Capacity() int { return int(m.capacity) }

// TTL returns the expiry window, zero when expiry is disabled.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Len returns the number of outstanding locks.
func (m *Manager) Len() int { return int(m.held.Load()) }

func (m *Manager) stale(l *Info, now time.Time) bool {
	return m.ttl > 0 && now.Sub(l.RefreshedAt) > m.ttl
}

// IsLocked reports whether a lock entry exists for the document.
func (m *Manager) IsLocked(id int64) bool {
	_, ok := m.Info(id)
	return ok
}

// Info returns a copy of the lock for the document, if any.
func (m *Manager) Info(id int64) (Info, bool) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return Info{}, false
	}
	return *l, true
}

// IsLockedBy reports whether user holds the lock for the document.
func (m *Manager) IsLockedBy(id int64, user mindmap.Account) bool {
	l, ok := m.Info(id)
	return ok && mindmap.SameIdentity(l.Holder, user)
}

// Lock acquires the document lock for user, or refreshes it when user
// already holds it. It never waits: a lock held by someone else fails with
// a *HeldError immediately.
func (m *Manager) Lock(id int64, user mindmap.Account) (Info, error) {
	info, _, err := m.Acquire(id, user)
	return info, err
}

// Acquire is Lock that also reports whether this call created the lock
// (true) or refreshed one user already held (false).
func (m *Manager) Acquire(id int64, user mindmap.Account) (Info, bool, error) {
	if user.Anonymous() {
		return Info{}, false, ErrNoIdentity
	}
	s := m.shardFor(id)
	s.mu.Lock()
	now := m.now()

	var expired *Info
	if cur, ok := s.locks[id]; ok {
		if mindmap.SameIdentity(cur.Holder, user) {
			cur.RefreshedAt = now
			out := *cur
			s.mu.Unlock()
			logger.Debugf("refreshed lock mindmap=%d user=%s", id, user.ID)
			return out, false, nil
		}
		if !m.stale(cur, now) {
			holder := cur.Holder
			s.mu.Unlock()
			metrics.LockConflicts.Inc()
			logger.Warnw("lock held by another user", "mindmapId", id, "requester", user.ID, "holder", holder.ID)
			return Info{}, false, &HeldError{MindmapID: id, Holder: holder}
		}
		// an abandoned lock is taken over in place; the count is unchanged
		prev := *cur
		expired = &prev
		delete(s.locks, id)
	} else {
		n := m.held.Add(1)
		if n > m.capacity {
			m.held.Add(-1)
			s.mu.Unlock()
			metrics.LockCapacityRejections.Inc()
			logger.Errorw("maximum lock limit reached, stale locks may not be released",
				"capacity", m.capacity, "mindmapId", id, "user", user.ID)
			return Info{}, false, ErrLockCapacityExceeded
		}
		if n >= m.warnAt {
			metrics.LockCapacityWarnings.Inc()
			logger.Warnw("lock table approaching capacity", "held", n, "capacity", m.capacity)
		}
	}

	l := &Info{
		MindmapID:   id,
		Holder:      user,
		Session:     m.GenerateSession(),
		CreatedAt:   now,
		RefreshedAt: now,
	}
	s.locks[id] = l
	out := *l
	s.mu.Unlock()

	metrics.LocksHeld.Set(float64(m.held.Load()))
	ctx := context.Background()
	if expired != nil {
		metrics.LocksReleased.WithLabelValues("expired").Inc()
		events.Emit(ctx, m.sink, events.New(events.LockExpired, id, expired.Holder.ID, nil))
	}
	logger.Debugf("created lock mindmap=%d user=%s held=%d", id, user.ID, m.held.Load())
	events.Emit(ctx, m.sink, events.New(events.LockAcquired, id, user.ID, map[string]string{"session": out.Session}))
	return out, true, nil
}

// Unlock releases the lock held by user. Unlocking an unlocked document
// succeeds; unlocking someone else's live lock fails with a *HeldError.
func (m *Manager) Unlock(id int64, user mindmap.Account) error {
	s := m.shardFor(id)
	s.mu.Lock()
	cur, ok := s.locks[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	reason := "released"
	if !mindmap.SameIdentity(cur.Holder, user) {
		if !m.stale(cur, m.now()) {
			holder := cur.Holder
			s.mu.Unlock()
			metrics.LockConflicts.Inc()
			logger.Warnw("unlock denied", "mindmapId", id, "requester", user.ID, "holder", holder.ID)
			return &HeldError{MindmapID: id, Holder: holder}
		}
		reason = "expired"
	}
	holder := cur.Holder
	delete(s.locks, id)
	m.held.Add(-1)
	s.mu.Unlock()

	m.afterRelease(id, holder.ID, reason)
	return nil
}

// ForceUnlock removes the lock regardless of holder. It reports whether a lock existed.
func (m *Manager) ForceUnlock(id int64) bool {
	s := m.shardFor(id)
	s.mu.Lock()
	cur, ok := s.locks[id]
	if ok {
		delete(s.locks, id)
		m.held.Add(-1)
	}
	s.mu.Unlock()

	if ok {
		m.afterRelease(id, cur.Holder.ID, "forced")
	}
	return ok
}

// ReleaseSession removes the lock only while it is still the one identified
// by session. It reports whether a lock was removed.
func (m *Manager) ReleaseSession(id int64, session string) bool {
	s := m.shardFor(id)
	s.mu.Lock()
	cur, ok := s.locks[id]
	if !ok || cur.Session != session {
		s.mu.Unlock()
		return false
	}
	delete(s.locks, id)
	m.held.Add(-1)
	s.mu.Unlock()

	m.afterRelease(id, cur.Holder.ID, "released")
	return true
}

// UnlockAll releases every lock held by user and returns how many were released.
func (m *Manager) UnlockAll(user mindmap.Account) int {
	var released []int64
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, l := range s.locks {
			if mindmap.SameIdentity(l.Holder, user) {
				delete(s.locks, id)
				m.held.Add(-1)
				released = append(released, id)
			}
		}
		s.mu.Unlock()
	}
	for _, id := range released {
		m.afterRelease(id, user.ID, "released")
	}
	return len(released)
}

// ReapStale force-releases every lock not refreshed within the TTL.
// It is a no-op when expiry is disabled.
func (m *Manager) ReapStale(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	type reaped struct {
		id     int64
		holder string
	}
	var out []reaped
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, l := range s.locks {
			if m.stale(l, now) {
				delete(s.locks, id)
				m.held.Add(-1)
				out = append(out, reaped{id: id, holder: l.Holder.ID})
			}
		}
		s.mu.Unlock()
	}
	for _, r := range out {
		m.afterRelease(r.id, r.holder, "expired")
	}
	return len(out)
}

func (m *Manager) afterRelease(id int64, holderID, reason string) {
	metrics.LocksHeld.Set(float64(m.held.Load()))
	metrics.LocksReleased.WithLabelValues(reason).Inc()
	t := events.LockReleased
	switch reason {
	case "forced":
		t = events.LockForceReleased
	case "expired":
		t = events.LockExpired
	}
	logger.Debugf("unlock mindmap=%d holder=%s reason=%s", id, holderID, reason)
	events.Emit(context.Background(), m.sink, events.New(t, id, holderID, nil))
}

// GenerateSession returns a token unique for the lifetime of the process.
// Tokens from later calls sort after earlier ones within the process.
func (m *Manager) GenerateSession() string {
	return fmt.Sprintf("%x-%016x", processStart, sessionSeq.Add(1))
}

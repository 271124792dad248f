package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
)

// Sentinel errors returned by Manager operations.
var (
	// ErrLockHeldByOther is returned when another user holds the edit lock.
	// The concrete error is a *HeldError carrying the holder.
	ErrLockHeldByOther = errors.New("mindmap is locked by another user")

	// ErrLockCapacityExceeded is returned when the lock table is full.
	ErrLockCapacityExceeded = errors.New("maximum concurrent locks reached, try again later")

	// ErrNoIdentity is returned when an anonymous account asks for a lock.
	ErrNoIdentity = errors.New("lock holder must have an identity")
)

// HeldError reports the current holder of a contested lock.
type HeldError struct {
	MindmapID int64
	Holder    mindmap.Account
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("mindmap %d is being edited by %s", e.MindmapID, e.Holder.DisplayName())
}

func (e *HeldError) Unwrap() error { return ErrLockHeldByOther }

// Info is the exclusive edit permit for one document.
type Info struct {
	MindmapID   int64           `json:"mindmapId"`
	Holder      mindmap.Account `json:"holder"`
	Session     string          `json:"session"`
	CreatedAt   time.Time       `json:"createdAt"`
	RefreshedAt time.Time       `json:"refreshedAt"`
}

const (
	DefaultCapacity  = 1000
	DefaultWarnRatio = 0.8
)

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity sets the maximum number of outstanding locks.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = int64(n)
		}
	}
}

// WithWarnRatio sets the occupancy ratio at which acquisitions log a warning.
func WithWarnRatio(r float64) Option {
	return func(m *Manager) {
		if r > 0 && r <= 1 {
			m.warnRatio = r
		}
	}
}

// WithTTL enables expiry of locks not refreshed within d. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithSink sets where lock events are published.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithShards sets the number of lock table shards (rounded to a power of two).
func WithShards(n int) Option {
	return func(m *Manager) { m.shardCount = n }
}

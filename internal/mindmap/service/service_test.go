package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/repository"
	"github.com/gogotex/mindmaps/backend/go-services/internal/storage"
)

var (
	userA = mindmap.Account{ID: "a", FullName: "Ada"}
	userB = mindmap.Account{ID: "b", FullName: "Bea"}
	userC = mindmap.Account{ID: "c"}
)

type keywordSpam struct{ word string }

func (k keywordSpam) Check(_ context.Context, d *mindmap.Document) (bool, string, error) {
	if strings.Contains(string(d.Content), k.word) {
		return true, "contains " + k.word, nil
	}
	return false, "", nil
}

type fixture struct {
	svc   *Service
	locks *lock.Manager
	rec   *events.Recorder
	deps  Deps
}

func newFixture(t *testing.T, opts ...lock.Option) *fixture {
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith lets a test swap dependencies before the service is built.
func newFixtureWith(t *testing.T, tweak func(*Deps), opts ...lock.Option) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	locks := lock.NewManager(append([]lock.Option{lock.WithSink(rec)}, opts...)...)
	deps := Deps{
		Repo:          repository.NewMemoryRepo(),
		Content:       storage.NewMemoryStore(),
		Locks:         locks,
		Collaborators: collab.NewRegistry(collab.NewMemoryStore(), rec),
		Spam:          keywordSpam{word: "casino"},
	}
	if tweak != nil {
		tweak(&deps)
	}
	if deps.History == nil {
		deps.History = history.NewStore(history.NewMemoryBackend(), nil, rec)
	}
	return &fixture{svc: New(deps), locks: locks, rec: rec, deps: deps}
}

func (f *fixture) create(t *testing.T, owner mindmap.Account) int64 {
	t.Helper()
	d, err := f.svc.Create(context.Background(), owner, NewDocument{Title: "Plan", Content: []byte("v0")})
	require.NoError(t, err)
	return d.ID
}

func TestCreateRegistersOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)

	cs, err := f.svc.Collaborators(ctx, id, userA)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, collab.RoleOwner, cs[0].Role)

	revs, err := f.svc.Revisions(ctx, id, userA)
	require.NoError(t, err)
	require.Empty(t, revs, "initial content is not a revision")

	_, err = f.svc.Create(ctx, userA, NewDocument{Title: "  "})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Create(ctx, mindmap.Account{}, NewDocument{Title: "x"})
	require.ErrorIs(t, err, ErrInsufficientPermission)
}

func TestApplyEditMajorAndViewerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)

	d, err := f.svc.ApplyEdit(ctx, id, userA, []byte("v1"), EditOptions{})
	require.NoError(t, err)
	require.Equal(t, "v1", string(d.Content))
	require.Equal(t, userA.ID, d.LastEditor.ID)

	revs, err := f.svc.Revisions(ctx, id, userA)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.Equal(t, "v1", string(revs[0].Content))

	_, err = f.svc.ShareWith(ctx, id, userA, userB, collab.RoleViewer, "")
	require.NoError(t, err)
	// A still holds the lock; release it so B's failure is about permission
	require.NoError(t, f.svc.Unlock(ctx, id, userA))

	_, err = f.svc.ApplyEdit(ctx, id, userB, []byte("v2"), EditOptions{})
	require.ErrorIs(t, err, ErrInsufficientPermission)
	revs, err = f.svc.Revisions(ctx, id, userA)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.False(t, f.locks.IsLocked(id), "a rejected viewer does not keep the lock")

	got, err := f.svc.Get(ctx, id, userB)
	require.NoError(t, err)
	require.Equal(t, "v1", string(got.Content))
}

func TestApplyEditReportsLockBeforePermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.Lock(ctx, id, userA)
	require.NoError(t, err)

	// C is not a collaborator, but the lock conflict is reported first
	_, err = f.svc.ApplyEdit(ctx, id, userC, []byte("x"), EditOptions{})
	var held *lock.HeldError
	require.True(t, errors.As(err, &held))
	require.Equal(t, userA.ID, held.Holder.ID)
}

func TestMinorEditSkipsHistoryButUpdatesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleEditor, "")
	require.NoError(t, err)

	before, err := f.svc.Get(ctx, id, userA)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return before.LastModified.Add(time.Minute) }

	props := `{"zoom":1.2}`
	d, err := f.svc.ApplyEdit(ctx, id, userB, []byte("draft"), EditOptions{Minor: true, Properties: &props})
	require.NoError(t, err)
	require.Equal(t, userB.ID, d.LastEditor.ID)
	require.True(t, d.LastModified.After(before.LastModified))

	revs, err := f.svc.Revisions(ctx, id, userA)
	require.NoError(t, err)
	require.Empty(t, revs)

	got, err := f.svc.Get(ctx, id, userA)
	require.NoError(t, err)
	require.Equal(t, "draft", string(got.Content))

	cs, err := f.svc.Collaborators(ctx, id, userB)
	require.NoError(t, err)
	for _, c := range cs {
		if c.Collaborator.ID == userB.ID {
			require.Equal(t, props, c.Properties.MindmapProperties)
		}
	}
}

func TestTakeOverScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleEditor, "")
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, id, userA)
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, id, userB)
	require.ErrorIs(t, err, lock.ErrLockHeldByOther)

	st, err := f.svc.LockStatus(ctx, id, userB)
	require.NoError(t, err)
	require.True(t, st.Locked)
	require.Equal(t, userA.ID, st.LockedBy.ID)
	st, err = f.svc.LockStatus(ctx, id, userA)
	require.NoError(t, err)
	require.False(t, st.Locked, "the holder does not see its own lock as locked")

	info, err := f.svc.TakeOver(ctx, id, userB)
	require.NoError(t, err)
	require.Equal(t, userB.ID, info.Holder.ID)
	require.True(t, f.locks.IsLockedBy(id, userB))

	_, err = f.svc.ApplyEdit(ctx, id, userA, []byte("late"), EditOptions{})
	require.ErrorIs(t, err, lock.ErrLockHeldByOther)
}

func TestTakeOverRequiresWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.Lock(ctx, id, userA)
	require.NoError(t, err)
	_, err = f.svc.TakeOver(ctx, id, userC)
	require.ErrorIs(t, err, ErrInsufficientPermission)
	require.True(t, f.locks.IsLockedBy(id, userA))
}

func TestCapacityErrorPropagates(t *testing.T) {
	f := newFixture(t, lock.WithCapacity(1))
	ctx := context.Background()
	first := f.create(t, userA)
	second := f.create(t, userB)
	_, err := f.svc.ApplyEdit(ctx, first, userA, []byte("x"), EditOptions{})
	require.NoError(t, err)
	_, err = f.svc.ApplyEdit(ctx, second, userB, []byte("y"), EditOptions{})
	require.ErrorIs(t, err, lock.ErrLockCapacityExceeded)

	require.Equal(t, 1, f.svc.ReleaseLocks(userA))
	_, err = f.svc.ApplyEdit(ctx, second, userB, []byte("y"), EditOptions{})
	require.NoError(t, err)
}

func TestRevertLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	for _, c := range []string{"r1", "r2", "r3"} {
		_, err := f.svc.ApplyEdit(ctx, id, userA, []byte(c), EditOptions{})
		require.NoError(t, err)
	}
	_, err := f.svc.ApplyEdit(ctx, id, userA, []byte("scratch"), EditOptions{Minor: true})
	require.NoError(t, err)

	r, err := f.svc.Revert(ctx, id, userA, history.Latest)
	require.NoError(t, err)
	require.Equal(t, int64(4), r.ID)
	require.Equal(t, "r3", string(r.Content))

	got, err := f.svc.Get(ctx, id, userA)
	require.NoError(t, err)
	require.Equal(t, "r3", string(got.Content))

	r, err = f.svc.Revert(ctx, id, userA, history.At(1))
	require.NoError(t, err)
	require.Equal(t, int64(5), r.ID)
	got, err = f.svc.Get(ctx, id, userA)
	require.NoError(t, err)
	require.Equal(t, "r1", string(got.Content))

	_, err = f.svc.Revert(ctx, id, userA, history.At(99))
	require.ErrorIs(t, err, history.ErrRevisionNotFound)
}

func TestConcurrentEditsKeepHistoryGapless(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ApplyEdit(ctx, id, userA, []byte("x"), EditOptions{}); err != nil {
				t.Errorf("edit: %v", err)
			}
		}()
	}
	wg.Wait()
	revs, err := f.svc.Revisions(ctx, id, userA)
	require.NoError(t, err)
	require.Len(t, revs, 20)
	require.Equal(t, int64(20), revs[0].ID)
}

func TestReadPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)

	_, err := f.svc.Get(ctx, id, userC)
	require.ErrorIs(t, err, ErrInsufficientPermission)
	_, err = f.svc.Get(ctx, 404, userA)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SetPublic(ctx, id, userA, true)
	require.NoError(t, err)
	d, err := f.svc.Get(ctx, id, mindmap.Account{})
	require.NoError(t, err)
	require.True(t, d.Public)
}

func TestSetPublicSpam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleEditor, "")
	require.NoError(t, err)

	_, err = f.svc.SetPublic(ctx, id, userB, true)
	require.ErrorIs(t, err, ErrInsufficientPermission, "only the owner publishes")

	_, err = f.svc.ApplyEdit(ctx, id, userA, []byte("best casino deals"), EditOptions{})
	require.NoError(t, err)
	d, err := f.svc.SetPublic(ctx, id, userA, true)
	require.ErrorIs(t, err, ErrSpamContent)
	require.False(t, d.Public)

	got, err := f.svc.Get(ctx, id, userA)
	require.NoError(t, err)
	require.True(t, got.SpamDetected)
	require.False(t, got.Public)
}

func TestEditOfPublicMapRechecksSpam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.SetPublic(ctx, id, userA, true)
	require.NoError(t, err)

	d, err := f.svc.ApplyEdit(ctx, id, userA, []byte("casino"), EditOptions{})
	require.NoError(t, err)
	require.False(t, d.Public)
	require.True(t, d.SpamDetected)
}

func TestTitleDescriptionAndStarred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleViewer, "")
	require.NoError(t, err)

	d, err := f.svc.UpdateTitle(ctx, id, userA, "Roadmap")
	require.NoError(t, err)
	require.Equal(t, "Roadmap", d.Title)
	_, err = f.svc.UpdateTitle(ctx, id, userB, "Nope")
	require.ErrorIs(t, err, ErrInsufficientPermission)
	_, err = f.svc.UpdateDescription(ctx, id, userA, "quarterly")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetStarred(ctx, id, userB, true))
	starred, err := f.svc.Starred(ctx, id, userB)
	require.NoError(t, err)
	require.True(t, starred)
	require.ErrorIs(t, f.svc.SetStarred(ctx, id, userC, true), ErrInsufficientPermission)

	list, err := f.svc.List(ctx, userB)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Roadmap", list[0].Title)
}

func TestCollaboratorOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)

	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleOwner, "")
	require.ErrorIs(t, err, collab.ErrOwnerCannotChange)
	_, err = f.svc.ShareWith(ctx, id, userC, userB, collab.RoleEditor, "")
	require.ErrorIs(t, err, ErrInsufficientPermission)

	res, err := f.svc.ReplaceCollaborators(ctx, id, userA, []collab.Desired{
		{Collaborator: userB, Role: collab.RoleEditor},
		{Collaborator: userC, Role: collab.RoleViewer},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)

	require.ErrorIs(t, f.svc.Unshare(ctx, id, userB, userA.ID), collab.ErrOwnerCannotRemove)
	require.NoError(t, f.svc.Unshare(ctx, id, userB, userC.ID))
	require.Len(t, f.rec.OfType(events.CollaborationRemoved), 1)
}

func TestDeleteOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, userA)
	_, err := f.svc.ShareWith(ctx, id, userA, userB, collab.RoleEditor, "")
	require.NoError(t, err)
	_, err = f.svc.ApplyEdit(ctx, id, userB, []byte("v1"), EditOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(ctx, id, userB), ErrInsufficientPermission)
	require.NoError(t, f.svc.Delete(ctx, id, userA))
	require.False(t, f.locks.IsLocked(id))
	_, err = f.svc.Get(ctx, id, userA)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, id, userA), ErrNotFound)
}

package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/syncx"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
)

// Store is the append-only history of every mindmap. Index computation and
// insertion for one mindmap happen inside its critical section.
type Store struct {
	backend Backend
	live    LiveDocument
	sink    events.Sink
	stripes *syncx.Striped
	now     func() time.Time
}

func NewStore(backend Backend, live LiveDocument, sink events.Sink) *Store {
	return &Store{
		backend: backend,
		live:    live,
		sink:    sink,
		stripes: syncx.NewStriped(syncx.DefaultStripes),
		now:     time.Now,
	}
}

// SetLiveDocument wires the working copy after construction; the owner of
// the live document usually needs the Store first.
func (s *Store) SetLiveDocument(live LiveDocument) { s.live = live }

// Append records content as the next revision of the mindmap.
func (s *Store) Append(ctx context.Context, mindmapID int64, editor mindmap.Account, content []byte) (Revision, error) {
	var out Revision
	err := s.stripes.Do(mindmapID, func() error {
		var err error
		out, err = s.appendLocked(ctx, mindmapID, editor, content)
		return err
	})
	if err != nil {
		return Revision{}, err
	}
	s.created(ctx, out)
	return out, nil
}

func (s *Store) appendLocked(ctx context.Context, mindmapID int64, editor mindmap.Account, content []byte) (Revision, error) {
	next := int64(1)
	latest, err := s.backend.Latest(ctx, mindmapID)
	switch {
	case err == nil:
		next = latest.ID + 1
	case !errors.Is(err, ErrRevisionNotFound):
		return Revision{}, err
	}
	r := Revision{
		MindmapID: mindmapID,
		ID:        next,
		Editor:    editor,
		Content:   append([]byte(nil), content...),
		CreatedAt: s.now().UTC(),
	}
	if err := s.backend.Insert(ctx, r); err != nil {
		return Revision{}, fmt.Errorf("append revision %d of mindmap %d: %w", next, mindmapID, err)
	}
	return r, nil
}

func (s *Store) created(ctx context.Context, r Revision) {
	metrics.RevisionsCreated.Inc()
	logger.Debugf("revision %d created for mindmap %d by %s", r.ID, r.MindmapID, r.Editor.ID)
	events.Emit(ctx, s.sink, events.New(events.RevisionCreated, r.MindmapID, r.Editor.ID,
		map[string]string{"revision": strconv.FormatInt(r.ID, 10)}))
}

// List returns the history of the mindmap, newest first.
func (s *Store) List(ctx context.Context, mindmapID int64) ([]Revision, error) {
	return s.backend.List(ctx, mindmapID)
}

func (s *Store) Get(ctx context.Context, mindmapID, revisionID int64) (Revision, error) {
	return s.backend.Get(ctx, mindmapID, revisionID)
}

// Latest returns the newest revision, if the mindmap has any.
func (s *Store) Latest(ctx context.Context, mindmapID int64) (Revision, bool, error) {
	r, err := s.backend.Latest(ctx, mindmapID)
	if errors.Is(err, ErrRevisionNotFound) {
		return Revision{}, false, nil
	}
	if err != nil {
		return Revision{}, false, err
	}
	return r, true, nil
}

// RevertTo copies the target revision into the live document and records
// that as a new revision. History only grows.
func (s *Store) RevertTo(ctx context.Context, mindmapID int64, editor mindmap.Account, target Target) (Revision, error) {
	if s.live == nil {
		return Revision{}, errors.New("history: no live document configured")
	}
	var (
		out  Revision
		from int64
	)
	err := s.stripes.Do(mindmapID, func() error {
		var src Revision
		var err error
		if target.latest {
			src, err = s.backend.Latest(ctx, mindmapID)
		} else {
			src, err = s.backend.Get(ctx, mindmapID, target.id)
		}
		if err != nil {
			return err
		}
		from = src.ID
		restore, err := s.live.ReplaceContent(ctx, mindmapID, editor, src.Content)
		if err != nil {
			return fmt.Errorf("revert mindmap %d to %d: %w", mindmapID, src.ID, err)
		}
		out, err = s.appendLocked(ctx, mindmapID, editor, src.Content)
		if err != nil {
			// the working copy must not show content history does not record
			if rerr := restore(context.WithoutCancel(ctx)); rerr != nil {
				logger.Errorf("restore mindmap %d after failed revert: %v", mindmapID, rerr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Revision{}, err
	}
	s.created(ctx, out)
	events.Emit(ctx, s.sink, events.New(events.DocumentReverted, mindmapID, editor.ID, map[string]string{
		"from":     strconv.FormatInt(from, 10),
		"revision": strconv.FormatInt(out.ID, 10),
	}))
	logger.Infof("mindmap %d reverted to revision %d by %s", mindmapID, from, editor.ID)
	return out, nil
}

// Purge drops the history of a deleted mindmap.
func (s *Store) Purge(ctx context.Context, mindmapID int64) (int, error) {
	var n int
	err := s.stripes.Do(mindmapID, func() error {
		var err error
		n, err = s.backend.DeleteAll(ctx, mindmapID)
		return err
	})
	return n, err
}

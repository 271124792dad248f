package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/storage"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
)

// EditOptions tune ApplyEdit.
type EditOptions struct {
	// Minor edits advance the working copy without a new revision.
	Minor bool
	// Properties, when set, replaces the editor's presentation properties.
	Properties *string
}

// lockForWrite takes the edit lock and then checks write permission. A lock
// created by this call is given back when the permission check fails; a
// lock the editor already held is kept. Callers hold the mindmap's stripe.
func (s *Service) lockForWrite(ctx context.Context, id int64, editor mindmap.Account) (lock.Info, error) {
	info, created, err := s.locks.Acquire(id, editor)
	if err != nil {
		return lock.Info{}, err
	}
	if err := s.requireWrite(ctx, id, editor); err != nil {
		if created {
			s.locks.ReleaseSession(id, info.Session)
		}
		return lock.Info{}, err
	}
	return info, nil
}

// stillHolds fails when the editor lost the lock after lockForWrite, for
// instance to expiry. Checked right before the first write.
func (s *Service) stillHolds(id int64, editor mindmap.Account, session string) error {
	cur, ok := s.locks.Info(id)
	if ok && cur.Session == session && mindmap.SameIdentity(cur.Holder, editor) {
		return nil
	}
	if ok {
		return &lock.HeldError{MindmapID: id, Holder: cur.Holder}
	}
	return ErrLockLost
}

// undo collects compensations for writes that already happened.
type undo []func(context.Context) error

func (u *undo) push(f func(context.Context) error) { *u = append(*u, f) }

func (u undo) run(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](ctx); err != nil {
			logger.Errorf("rollback of mindmap %d failed: %v", id, err)
		}
	}
}

// putContent writes content and returns how to put the previous content back.
func (s *Service) putContent(ctx context.Context, id int64, content []byte) (func(context.Context) error, error) {
	prev, err := s.content.Get(ctx, id)
	missing := errors.Is(err, storage.ErrNotFound)
	if err != nil && !missing {
		return nil, err
	}
	if err := s.content.Put(ctx, id, content); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if missing {
			return s.content.Delete(ctx, id)
		}
		return s.content.Put(ctx, id, prev)
	}, nil
}

// ApplyEdit replaces the content of a mindmap. The steps run in a fixed
// order inside the mindmap's critical section: lock, permission, content
// and metadata, then history for major edits. A failing step undoes the
// writes before it.
func (s *Service) ApplyEdit(ctx context.Context, id int64, editor mindmap.Account, content []byte, opts EditOptions) (d *mindmap.Document, err error) {
	ctx, span := s.start(ctx, "ApplyEdit", id, editor)
	span.SetAttributes(attribute.Bool("mindmap.minor", opts.Minor))
	defer func() {
		finish(span, err)
		metrics.Edits.WithLabelValues(editOutcome(err)).Inc()
	}()

	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	err = s.stripes.Do(id, func() error {
		held, err := s.lockForWrite(ctx, id, editor)
		if err != nil {
			return err
		}
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.stillHolds(id, editor, held.Session); err != nil {
			return err
		}
		prev := cur.Clone()

		var rollback undo
		fail := func(err error) error {
			rollback.run(ctx, id)
			return err
		}

		restore, err := s.putContent(ctx, id, content)
		if err != nil {
			return err
		}
		rollback.push(restore)

		cur.LastModified = s.now().UTC()
		cur.LastEditor = editor
		cur.Content = content
		if cur.Public {
			s.applyPublic(ctx, cur)
		}
		if err := s.repo.Save(ctx, cur); err != nil {
			return fail(err)
		}
		rollback.push(func(ctx context.Context) error { return s.repo.Save(ctx, prev) })

		if opts.Properties != nil {
			props := *opts.Properties
			var before string
			if _, err := s.collabs.UpdateProperties(ctx, id, editor.ID, func(p *collab.Properties) {
				before = p.MindmapProperties
				p.MindmapProperties = props
			}); err != nil {
				return fail(err)
			}
			rollback.push(func(ctx context.Context) error {
				_, err := s.collabs.UpdateProperties(ctx, id, editor.ID, func(p *collab.Properties) {
					p.MindmapProperties = before
				})
				return err
			})
		}
		if !opts.Minor {
			if _, err := s.history.Append(ctx, id, editor, content); err != nil {
				return fail(err)
			}
		}
		cur.Content = append([]byte(nil), content...)
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debugf("mindmap %d edited by %s minor=%t", id, editor.ID, opts.Minor)
	return d, nil
}

func editOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, lock.ErrLockHeldByOther), errors.Is(err, ErrLockLost):
		return "locked"
	case errors.Is(err, lock.ErrLockCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrInsufficientPermission):
		return "forbidden"
	}
	return "error"
}

// Revert brings the mindmap back to a saved revision, recorded as a new
// revision. It needs the edit lock and write permission like ApplyEdit.
func (s *Service) Revert(ctx context.Context, id int64, editor mindmap.Account, target history.Target) (r history.Revision, err error) {
	ctx, span := s.start(ctx, "Revert", id, editor)
	span.SetAttributes(attribute.String("mindmap.revision", target.String()))
	defer func() { finish(span, err) }()

	if err := s.exists(ctx, id); err != nil {
		return history.Revision{}, err
	}
	err = s.stripes.Do(id, func() error {
		held, err := s.lockForWrite(ctx, id, editor)
		if err != nil {
			return err
		}
		if err := s.stillHolds(id, editor, held.Session); err != nil {
			return err
		}
		r, err = s.history.RevertTo(ctx, id, editor, target)
		return err
	})
	return r, err
}

// Revisions lists the history of a mindmap, newest first.
func (s *Service) Revisions(ctx context.Context, id int64, user mindmap.Account) ([]history.Revision, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, d, user); err != nil {
		return nil, err
	}
	return s.history.List(ctx, id)
}

func (s *Service) Revision(ctx context.Context, id, revisionID int64, user mindmap.Account) (history.Revision, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return history.Revision{}, err
	}
	if err := s.canRead(ctx, d, user); err != nil {
		return history.Revision{}, err
	}
	return s.history.Get(ctx, id, revisionID)
}

// liveDocument lets the history store write reverted content back. It is
// only called while the service already holds the mindmap's critical section.
type liveDocument struct{ s *Service }

func (l liveDocument) ReplaceContent(ctx context.Context, id int64, editor mindmap.Account, content []byte) (func(context.Context) error, error) {
	d, err := l.s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := d.Clone()
	var rollback undo
	restore, err := l.s.putContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	rollback.push(restore)
	d.LastModified = l.s.now().UTC()
	d.LastEditor = editor
	if err := l.s.repo.Save(ctx, d); err != nil {
		rollback.run(ctx, id)
		return nil, err
	}
	rollback.push(func(ctx context.Context) error { return l.s.repo.Save(ctx, prev) })
	return func(ctx context.Context) error {
		rollback.run(ctx, id)
		return nil
	}, nil
}

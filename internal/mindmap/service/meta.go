package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

func (s *Service) exists(ctx context.Context, id int64) error {
	_, err := s.repo.Get(ctx, id)
	return err
}

// update loads the mindmap inside its critical section, applies fn and saves it.
func (s *Service) update(ctx context.Context, id int64, fn func(d *mindmap.Document) error) (*mindmap.Document, error) {
	var out *mindmap.Document
	err := s.stripes.Do(id, func() error {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

func (s *Service) UpdateTitle(ctx context.Context, id int64, user mindmap.Account, title string) (*mindmap.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(d *mindmap.Document) error {
		d.Title = title
		d.LastModified = s.now().UTC()
		d.LastEditor = user
		return nil
	})
}

func (s *Service) UpdateDescription(ctx context.Context, id int64, user mindmap.Account, description string) (*mindmap.Document, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(d *mindmap.Document) error {
		d.Description = description
		d.LastModified = s.now().UTC()
		d.LastEditor = user
		return nil
	})
}

// SetPublic changes the visibility of a mindmap. Making it public runs the
// spam check; flagged content keeps the mindmap private and returns
// ErrSpamContent after the flag is stored.
func (s *Service) SetPublic(ctx context.Context, id int64, user mindmap.Account, public bool) (*mindmap.Document, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, id, user); err != nil {
		return nil, err
	}
	flagged := false
	d, err := s.update(ctx, id, func(d *mindmap.Document) error {
		if !public {
			// the spam flag is kept when going private
			d.Public = false
			return nil
		}
		if s.spam != nil {
			b, err := s.content.Get(ctx, id)
			if err == nil {
				d.Content = b
			}
		}
		flagged = s.applyPublic(ctx, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if flagged {
		return d, ErrSpamContent
	}
	logger.Infof("mindmap %d public=%t by %s", id, public, user.ID)
	return d, nil
}

// SetStarred marks the mindmap as a favourite of one collaborator.
func (s *Service) SetStarred(ctx context.Context, id int64, user mindmap.Account, starred bool) error {
	if user.Anonymous() {
		return ErrInsufficientPermission
	}
	_, err := s.collabs.UpdateProperties(ctx, id, user.ID, func(p *collab.Properties) { p.Starred = starred })
	if errors.Is(err, collab.ErrCollaborationNotFound) {
		return ErrInsufficientPermission
	}
	return err
}

func (s *Service) Starred(ctx context.Context, id int64, user mindmap.Account) (bool, error) {
	if user.Anonymous() {
		return false, ErrInsufficientPermission
	}
	c, found, err := s.collabs.Find(ctx, id, user.ID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, ErrInsufficientPermission
	}
	return c.Properties.Starred, nil
}

// LockStatus is what a client shows before editing.
type LockStatus struct {
	// Locked is true only when someone other than the caller holds the lock.
	Locked   bool             `json:"locked"`
	LockedBy *mindmap.Account `json:"lockedBy,omitempty"`
}

func (s *Service) LockStatus(ctx context.Context, id int64, user mindmap.Account) (LockStatus, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return LockStatus{}, err
	}
	if err := s.canRead(ctx, d, user); err != nil {
		return LockStatus{}, err
	}
	info, ok := s.locks.Info(id)
	if !ok || mindmap.SameIdentity(info.Holder, user) {
		return LockStatus{}, nil
	}
	holder := info.Holder
	return LockStatus{Locked: true, LockedBy: &holder}, nil
}

// Lock takes or refreshes the edit lock for the user.
func (s *Service) Lock(ctx context.Context, id int64, user mindmap.Account) (info lock.Info, err error) {
	if err := s.exists(ctx, id); err != nil {
		return lock.Info{}, err
	}
	err = s.stripes.Do(id, func() error {
		var err error
		info, err = s.lockForWrite(ctx, id, user)
		return err
	})
	return info, err
}

// Unlock gives the user's edit lock back.
func (s *Service) Unlock(ctx context.Context, id int64, user mindmap.Account) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	return s.stripes.Do(id, func() error { return s.locks.Unlock(id, user) })
}

// TakeOver force-releases whoever holds the lock and gives it to user. It
// waits for an edit in progress on the mindmap to finish first.
func (s *Service) TakeOver(ctx context.Context, id int64, user mindmap.Account) (info lock.Info, err error) {
	if err := s.exists(ctx, id); err != nil {
		return lock.Info{}, err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return lock.Info{}, err
	}
	err = s.stripes.Do(id, func() error {
		if prev, ok := s.locks.Info(id); ok && !mindmap.SameIdentity(prev.Holder, user) {
			logger.Infof("mindmap %d taken over by %s from %s", id, user.ID, prev.Holder.ID)
		}
		s.locks.ForceUnlock(id)
		var err error
		info, err = s.locks.Lock(id, user)
		return err
	})
	return info, err
}

// ReleaseLocks drops every lock the user holds, e.g. on logout.
func (s *Service) ReleaseLocks(user mindmap.Account) int {
	n := s.locks.UnlockAll(user)
	if n > 0 {
		logger.Infof("released %d locks of %s", n, user.ID)
	}
	return n
}

// Collaborators lists who has access to the mindmap.
func (s *Service) Collaborators(ctx context.Context, id int64, user mindmap.Account) ([]collab.Collaboration, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	r, err := s.role(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if r == "" {
		return nil, ErrInsufficientPermission
	}
	return s.collabs.List(ctx, id)
}

// ShareWith adds a collaborator or changes their role.
func (s *Service) ShareWith(ctx context.Context, id int64, user, collaborator mindmap.Account, role collab.Role, message string) (collab.Collaboration, error) {
	if err := s.exists(ctx, id); err != nil {
		return collab.Collaboration{}, err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return collab.Collaboration{}, err
	}
	return s.collabs.AddOrUpdate(ctx, id, collaborator, role, message)
}

// ReplaceCollaborators makes the non-owner collaborators exactly desired.
func (s *Service) ReplaceCollaborators(ctx context.Context, id int64, user mindmap.Account, desired []collab.Desired) (collab.ReconcileResult, error) {
	if err := s.exists(ctx, id); err != nil {
		return collab.ReconcileResult{}, err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return collab.ReconcileResult{}, err
	}
	return s.collabs.Reconcile(ctx, id, desired)
}

// Unshare removes a collaborator.
func (s *Service) Unshare(ctx context.Context, id int64, user mindmap.Account, collaboratorID string) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	if err := s.requireWrite(ctx, id, user); err != nil {
		return err
	}
	return s.collabs.Remove(ctx, id, collaboratorID)
}

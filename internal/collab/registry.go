package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/syncx"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
)

// Registry owns the collaborator set of every mindmap. All mutations of one
// mindmap run inside that mindmap's critical section.
type Registry struct {
	store   Store
	sink    events.Sink
	stripes *syncx.Striped
	now     func() time.Time
}

func NewRegistry(store Store, sink events.Sink) *Registry {
	return &Registry{
		store:   store,
		sink:    sink,
		stripes: syncx.NewStriped(syncx.DefaultStripes),
		now:     time.Now,
	}
}

// RegisterOwner records the creator of a new mindmap as its OWNER. It is the
// only way an OWNER collaboration comes into existence.
func (r *Registry) RegisterOwner(ctx context.Context, mindmapID int64, owner mindmap.Account) (Collaboration, error) {
	if owner.Anonymous() {
		return Collaboration{}, ErrInvalidCollaborator
	}
	var out Collaboration
	err := r.stripes.Do(mindmapID, func() error {
		current, err := r.store.List(ctx, mindmapID)
		if err != nil {
			return err
		}
		for _, c := range current {
			if c.Role == RoleOwner {
				return ErrOwnerExists
			}
		}
		out = Collaboration{MindmapID: mindmapID, Collaborator: owner, Role: RoleOwner, CreatedAt: r.now().UTC()}
		return r.store.Put(ctx, out)
	})
	if err != nil {
		return Collaboration{}, err
	}
	metrics.CollaborationChanges.WithLabelValues("owner").Inc()
	return out, nil
}

// AddOrUpdate creates the collaboration or, when the role differs, replaces it
// with one carrying the new role. Properties survive the replacement.
func (r *Registry) AddOrUpdate(ctx context.Context, mindmapID int64, collaborator mindmap.Account, role Role, inviteMessage string) (Collaboration, error) {
	if collaborator.Anonymous() {
		return Collaboration{}, ErrInvalidCollaborator
	}
	if !role.Valid() {
		return Collaboration{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if role == RoleOwner {
		return Collaboration{}, ErrOwnerCannotChange
	}

	var (
		out      Collaboration
		kind     string
		prevRole Role
	)
	err := r.stripes.Do(mindmapID, func() error {
		existing, err := r.store.Get(ctx, mindmapID, collaborator.ID)
		switch {
		case errors.Is(err, ErrCollaborationNotFound):
			out = Collaboration{MindmapID: mindmapID, Collaborator: collaborator, Role: role, CreatedAt: r.now().UTC()}
			kind = "added"
			return r.store.Put(ctx, out)
		case err != nil:
			return err
		}
		if existing.Role == RoleOwner {
			return ErrOwnerCannotChange
		}
		if existing.Role == role {
			out = existing
			return nil
		}
		prevRole = existing.Role
		if err := r.store.Delete(ctx, mindmapID, collaborator.ID); err != nil {
			return err
		}
		out = Collaboration{
			MindmapID:    mindmapID,
			Collaborator: collaborator,
			Role:         role,
			Properties:   existing.Properties,
			CreatedAt:    r.now().UTC(),
		}
		kind = "updated"
		return r.store.Put(ctx, out)
	})
	if err != nil {
		return Collaboration{}, err
	}
	if kind != "" {
		r.changed(ctx, mindmapID, kind, out.Collaborator.ID, role, prevRole, inviteMessage)
	}
	return out, nil
}

// Remove deletes a non-owner collaboration.
func (r *Registry) Remove(ctx context.Context, mindmapID int64, collaboratorID string) error {
	var role Role
	err := r.stripes.Do(mindmapID, func() error {
		existing, err := r.store.Get(ctx, mindmapID, collaboratorID)
		if err != nil {
			return err
		}
		if existing.Role == RoleOwner {
			return ErrOwnerCannotRemove
		}
		role = existing.Role
		return r.store.Delete(ctx, mindmapID, collaboratorID)
	})
	if err != nil {
		return err
	}
	metrics.CollaborationChanges.WithLabelValues("removed").Inc()
	events.Emit(ctx, r.sink, events.New(events.CollaborationRemoved, mindmapID, collaboratorID, map[string]string{"role": string(role)}))
	return nil
}

// Reconcile makes the non-owner collaborators of the mindmap exactly the
// desired set. The owner never appears in desired and is never touched.
func (r *Registry) Reconcile(ctx context.Context, mindmapID int64, desired []Desired) (ReconcileResult, error) {
	want := make(map[string]Desired, len(desired))
	order := make([]string, 0, len(desired))
	for _, d := range desired {
		if d.Collaborator.Anonymous() {
			return ReconcileResult{}, ErrInvalidCollaborator
		}
		if !d.Role.Valid() {
			return ReconcileResult{}, fmt.Errorf("%w: %q", ErrInvalidRole, d.Role)
		}
		if d.Role == RoleOwner {
			return ReconcileResult{}, ErrOwnerCannotChange
		}
		if _, seen := want[d.Collaborator.ID]; !seen {
			order = append(order, d.Collaborator.ID)
		}
		want[d.Collaborator.ID] = d
	}

	var res ReconcileResult
	type change struct {
		id   string
		kind string
		role Role
		prev Role
	}
	var changes []change
	err := r.stripes.Do(mindmapID, func() error {
		current, err := r.store.List(ctx, mindmapID)
		if err != nil {
			return err
		}
		have := make(map[string]Collaboration, len(current))
		for _, c := range current {
			have[c.Collaborator.ID] = c
			if c.Role == RoleOwner {
				if _, ok := want[c.Collaborator.ID]; ok {
					return ErrOwnerCannotChange
				}
			}
		}
		now := r.now().UTC()
		for _, id := range order {
			d := want[id]
			c, ok := have[id]
			switch {
			case !ok:
				if err := r.store.Put(ctx, Collaboration{MindmapID: mindmapID, Collaborator: d.Collaborator, Role: d.Role, CreatedAt: now}); err != nil {
					return err
				}
				res.Added = append(res.Added, id)
				changes = append(changes, change{id: id, kind: "added", role: d.Role})
			case c.Role != d.Role:
				if err := r.store.Delete(ctx, mindmapID, id); err != nil {
					return err
				}
				next := Collaboration{MindmapID: mindmapID, Collaborator: d.Collaborator, Role: d.Role, Properties: c.Properties, CreatedAt: now}
				if err := r.store.Put(ctx, next); err != nil {
					return err
				}
				res.Updated = append(res.Updated, id)
				changes = append(changes, change{id: id, kind: "updated", role: d.Role, prev: c.Role})
			}
		}
		for _, c := range current {
			if c.Role == RoleOwner {
				continue
			}
			if _, keep := want[c.Collaborator.ID]; keep {
				continue
			}
			if err := r.store.Delete(ctx, mindmapID, c.Collaborator.ID); err != nil {
				return err
			}
			res.Removed = append(res.Removed, c.Collaborator.ID)
			changes = append(changes, change{id: c.Collaborator.ID, kind: "removed", prev: c.Role})
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	for _, ch := range changes {
		if ch.kind == "removed" {
			metrics.CollaborationChanges.WithLabelValues("removed").Inc()
			events.Emit(ctx, r.sink, events.New(events.CollaborationRemoved, mindmapID, ch.id, map[string]string{"role": string(ch.prev)}))
			continue
		}
		r.changed(ctx, mindmapID, ch.kind, ch.id, ch.role, ch.prev, "")
	}
	logger.Debugf("reconciled collaborators mindmap=%d added=%d updated=%d removed=%d",
		mindmapID, len(res.Added), len(res.Updated), len(res.Removed))
	return res, nil
}

// Find returns the collaboration of one collaborator, if any.
func (r *Registry) Find(ctx context.Context, mindmapID int64, collaboratorID string) (Collaboration, bool, error) {
	c, err := r.store.Get(ctx, mindmapID, collaboratorID)
	if errors.Is(err, ErrCollaborationNotFound) {
		return Collaboration{}, false, nil
	}
	if err != nil {
		return Collaboration{}, false, err
	}
	return c, true, nil
}

// List returns every collaboration of the mindmap ordered by collaborator id.
func (r *Registry) List(ctx context.Context, mindmapID int64) ([]Collaboration, error) {
	return r.store.List(ctx, mindmapID)
}

// ForCollaborator returns every collaboration of one account across mindmaps.
func (r *Registry) ForCollaborator(ctx context.Context, collaboratorID string) ([]Collaboration, error) {
	return r.store.ListByCollaborator(ctx, collaboratorID)
}

// Owner returns the OWNER collaboration.
func (r *Registry) Owner(ctx context.Context, mindmapID int64) (Collaboration, error) {
	cs, err := r.store.List(ctx, mindmapID)
	if err != nil {
		return Collaboration{}, err
	}
	for _, c := range cs {
		if c.Role == RoleOwner {
			return c, nil
		}
	}
	return Collaboration{}, ErrCollaborationNotFound
}

// UpdateProperties applies fn to the collaborator's properties. The role is
// never changed here.
func (r *Registry) UpdateProperties(ctx context.Context, mindmapID int64, collaboratorID string, fn func(*Properties)) (Collaboration, error) {
	var out Collaboration
	err := r.stripes.Do(mindmapID, func() error {
		c, err := r.store.Get(ctx, mindmapID, collaboratorID)
		if err != nil {
			return err
		}
		fn(&c.Properties)
		out = c
		return r.store.Put(ctx, c)
	})
	return out, err
}

// Purge removes every collaboration of a deleted mindmap, OWNER included.
func (r *Registry) Purge(ctx context.Context, mindmapID int64) (int, error) {
	var n int
	err := r.stripes.Do(mindmapID, func() error {
		var err error
		n, err = r.store.DeleteAll(ctx, mindmapID)
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Debugf("purged %d collaborations of mindmap %d", n, mindmapID)
	return n, nil
}

func (r *Registry) changed(ctx context.Context, mindmapID int64, kind, collaboratorID string, role, prev Role, invite string) {
	metrics.CollaborationChanges.WithLabelValues(kind).Inc()
	data := map[string]string{"collaborator": collaboratorID, "role": string(role)}
	if prev != "" {
		data["previousRole"] = string(prev)
	}
	if invite != "" {
		data["message"] = invite
	}
	events.Emit(ctx, r.sink, events.New(events.CollaborationChanged, mindmapID, collaboratorID, data))
}

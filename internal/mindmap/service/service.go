package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/repository"
	"github.com/gogotex/mindmaps/backend/go-services/internal/storage"
	"github.com/gogotex/mindmaps/backend/go-services/internal/syncx"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

var (
	ErrNotFound               = repository.ErrNotFound
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrSpamContent            = errors.New("content looks like spam, mindmap kept private")
	ErrInvalidInput           = errors.New("invalid input")
	ErrLockLost               = errors.New("edit lock was released before the change was saved")
)

// SpamChecker inspects a document before it becomes or stays public.
type SpamChecker interface {
	Check(ctx context.Context, d *mindmap.Document) (spam bool, reason string, err error)
}

// NewDocument describes a mindmap to create.
type NewDocument struct {
	Title       string
	Description string
	Content     []byte
	Public      bool
}

// Deps are the collaborators the service composes.
type Deps struct {
	Repo          repository.Repository
	Content       storage.ContentStore
	Locks         *lock.Manager
	Collaborators *collab.Registry
	History       *history.Store
	Spam          SpamChecker
}

// Service is the only path through which mindmap content changes. Work on
// one mindmap runs inside that mindmap's critical section.
type Service struct {
	repo    repository.Repository
	content storage.ContentStore
	locks   *lock.Manager
	collabs *collab.Registry
	history *history.Store
	spam    SpamChecker
	stripes *syncx.Striped
	tracer  trace.Tracer
	now     func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		repo:    d.Repo,
		content: d.Content,
		locks:   d.Locks,
		collabs: d.Collaborators,
		history: d.History,
		spam:    d.Spam,
		stripes: syncx.NewStriped(syncx.DefaultStripes),
		tracer:  otel.Tracer("github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"),
		now:     time.Now,
	}
	d.History.SetLiveDocument(liveDocument{s})
	return s
}

func (s *Service) start(ctx context.Context, op string, id int64, user mindmap.Account) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "mindmap."+op, trace.WithAttributes(
		attribute.Int64("mindmap.id", id),
		attribute.String("mindmap.user", user.ID),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// role returns the caller's role, or "" when the caller is not a collaborator.
func (s *Service) role(ctx context.Context, id int64, user mindmap.Account) (collab.Role, error) {
	if user.Anonymous() {
		return "", nil
	}
	c, found, err := s.collabs.Find(ctx, id, user.ID)
	if err != nil || !found {
		return "", err
	}
	return c.Role, nil
}

func (s *Service) requireWrite(ctx context.Context, id int64, user mindmap.Account) error {
	r, err := s.role(ctx, id, user)
	if err != nil {
		return err
	}
	if !r.CanWrite() {
		return ErrInsufficientPermission
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, id int64, user mindmap.Account) error {
	r, err := s.role(ctx, id, user)
	if err != nil {
		return err
	}
	if r != collab.RoleOwner {
		return ErrInsufficientPermission
	}
	return nil
}

// canRead allows collaborators of any role, and everyone on public mindmaps.
func (s *Service) canRead(ctx context.Context, d *mindmap.Document, user mindmap.Account) error {
	if d.Public {
		return nil
	}
	r, err := s.role(ctx, d.ID, user)
	if err != nil {
		return err
	}
	if r == "" {
		return ErrInsufficientPermission
	}
	return nil
}

// Create stores a new mindmap and registers its creator as OWNER. The
// initial content is not a revision.
func (s *Service) Create(ctx context.Context, creator mindmap.Account, nd NewDocument) (d *mindmap.Document, err error) {
	ctx, span := s.start(ctx, "Create", 0, creator)
	defer func() { finish(span, err) }()

	if creator.Anonymous() {
		return nil, ErrInsufficientPermission
	}
	title := strings.TrimSpace(nd.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	d = &mindmap.Document{
		Title:        title,
		Description:  nd.Description,
		Creator:      creator,
		LastEditor:   creator,
		CreatedAt:    now,
		LastModified: now,
	}
	if nd.Public {
		d.Content = nd.Content
		s.applyPublic(ctx, d)
	}
	if err := s.insert(ctx, creator, d, nd.Content); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("mindmap.id", d.ID))
	logger.Infof("mindmap %d created by %s", d.ID, creator.ID)
	return d, nil
}

// insert stores a new mindmap with its content and registers owner. When
// a later step fails the earlier ones are removed again, so no mindmap is
// left without content or owner.
func (s *Service) insert(ctx context.Context, owner mindmap.Account, d *mindmap.Document, content []byte) error {
	id, err := s.repo.Create(ctx, d)
	if err != nil {
		return err
	}
	cleanup := func(step string, cause error) error {
		bg := context.WithoutCancel(ctx)
		if err := s.content.Delete(bg, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("cleanup content of mindmap %d: %v", id, err)
		}
		if err := s.repo.Delete(bg, id); err != nil {
			logger.Errorf("cleanup mindmap %d: %v", id, err)
		}
		return fmt.Errorf("create mindmap %d: %s: %w", id, step, cause)
	}
	if err := s.content.Put(ctx, id, content); err != nil {
		return cleanup("store content", err)
	}
	if _, err := s.collabs.RegisterOwner(ctx, id, owner); err != nil {
		return cleanup("register owner", err)
	}
	d.Content = append([]byte(nil), content...)
	return nil
}

// Duplicate copies the content of a readable mindmap into a new private
// mindmap owned by user. Collaborators and history are not copied.
func (s *Service) Duplicate(ctx context.Context, id int64, user mindmap.Account, title, description string) (d *mindmap.Document, err error) {
	ctx, span := s.start(ctx, "Duplicate", id, user)
	defer func() { finish(span, err) }()

	if user.Anonymous() {
		return nil, ErrInsufficientPermission
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	src, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, src, user); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d = &mindmap.Document{
		Title:        title,
		Description:  description,
		Content:      src.Content,
		Creator:      user,
		LastEditor:   user,
		CreatedAt:    now,
		LastModified: now,
	}
	s.flagSpam(ctx, d)
	if err := s.insert(ctx, user, d, src.Content); err != nil {
		return nil, err
	}
	logger.Infof("mindmap %d duplicated from %d by %s", d.ID, id, user.ID)
	return d, nil
}

// flagSpam records the checker's verdict on d without touching visibility.
func (s *Service) flagSpam(ctx context.Context, d *mindmap.Document) {
	if s.spam == nil {
		return
	}
	spam, reason, err := s.spam.Check(ctx, d)
	if err != nil {
		logger.Warnf("spam check failed for copy of %q: %v", d.Title, err)
		return
	}
	d.SpamDetected = spam
	d.SpamDescription = ""
	if spam {
		d.SpamDescription = reason
	}
}

// applyPublic runs the spam check on a document that is or wants to be public
// and reports whether it was flagged. A flagged document is made private.
func (s *Service) applyPublic(ctx context.Context, d *mindmap.Document) bool {
	if s.spam == nil {
		d.Public = true
		return false
	}
	spam, reason, err := s.spam.Check(ctx, d)
	if err != nil {
		// a broken checker never blocks saving
		logger.Warnf("spam check failed for mindmap %d: %v", d.ID, err)
		d.Public = true
		return false
	}
	if spam {
		d.Public = false
		d.SpamDetected = true
		d.SpamDescription = reason
		logger.Warnw("mindmap flagged as spam", "mindmapId", d.ID, "reason", reason)
		return true
	}
	d.Public = true
	d.SpamDetected = false
	d.SpamDescription = ""
	return false
}

func (s *Service) load(ctx context.Context, id int64) (*mindmap.Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := s.content.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		d.Content = b
	}
	return d, nil
}

// Get returns the mindmap with its content.
func (s *Service) Get(ctx context.Context, id int64, user mindmap.Account) (d *mindmap.Document, err error) {
	ctx, span := s.start(ctx, "Get", id, user)
	defer func() { finish(span, err) }()

	d, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, d, user); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the metadata of every mindmap the user collaborates on.
func (s *Service) List(ctx context.Context, user mindmap.Account) ([]*mindmap.Document, error) {
	if user.Anonymous() {
		return nil, ErrInsufficientPermission
	}
	cs, err := s.collabs.ForCollaborator(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.MindmapID)
	}
	if len(ids) == 0 {
		return []*mindmap.Document{}, nil
	}
	return s.repo.List(ctx, ids)
}

// Delete removes the mindmap with its lock, collaborations, history and
// content. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, id int64, user mindmap.Account) (err error) {
	ctx, span := s.start(ctx, "Delete", id, user)
	defer func() { finish(span, err) }()

	if err := s.exists(ctx, id); err != nil {
		return err
	}
	if err := s.requireOwner(ctx, id, user); err != nil {
		return err
	}
	return s.remove(ctx, id, user)
}

func (s *Service) remove(ctx context.Context, id int64, user mindmap.Account) error {
	return s.stripes.Do(id, func() error {
		s.locks.ForceUnlock(id)
		if _, err := s.collabs.Purge(ctx, id); err != nil {
			return err
		}
		if _, err := s.history.Purge(ctx, id); err != nil {
			return err
		}
		if err := s.content.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		logger.Infof("mindmap %d deleted by %s", id, user.ID)
		return nil
	})
}

// DeleteManyResult tells which mindmaps were deleted and which ones the
// caller only left because someone else owns them.
type DeleteManyResult struct {
	Deleted []int64 `json:"deleted"`
	Left    []int64 `json:"left"`
}

// DeleteMany removes several mindmaps from the user's list. Owned mindmaps
// are deleted; for the others the user's own collaboration is removed.
// Every id is checked before anything changes, so an unknown id or one the
// user has no access to leaves all mindmaps as they were.
func (s *Service) DeleteMany(ctx context.Context, user mindmap.Account, ids []int64) (res DeleteManyResult, err error) {
	ctx, span := s.start(ctx, "DeleteMany", 0, user)
	defer func() { finish(span, err) }()

	if len(ids) == 0 {
		return DeleteManyResult{}, fmt.Errorf("%w: no mindmap ids", ErrInvalidInput)
	}
	roles := make(map[int64]collab.Role, len(ids))
	order := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, seen := roles[id]; seen {
			continue
		}
		if err := s.exists(ctx, id); err != nil {
			return DeleteManyResult{}, fmt.Errorf("mindmap %d: %w", id, err)
		}
		r, err := s.role(ctx, id, user)
		if err != nil {
			return DeleteManyResult{}, err
		}
		if r == "" {
			return DeleteManyResult{}, fmt.Errorf("mindmap %d: %w", id, ErrInsufficientPermission)
		}
		roles[id] = r
		order = append(order, id)
	}

	res = DeleteManyResult{Deleted: []int64{}, Left: []int64{}}
	for _, id := range order {
		if roles[id] == collab.RoleOwner {
			if err := s.remove(ctx, id, user); err != nil {
				return res, err
			}
			res.Deleted = append(res.Deleted, id)
			continue
		}
		if err := s.collabs.Remove(ctx, id, user.ID); err != nil {
			return res, err
		}
		s.locks.ReleaseSession(id, s.sessionOf(id, user))
		res.Left = append(res.Left, id)
	}
	return res, nil
}

// sessionOf returns the session of the user's lock on the mindmap, or "".
func (s *Service) sessionOf(id int64, user mindmap.Account) string {
	if info, ok := s.locks.Info(id); ok && mindmap.SameIdentity(info.Holder, user) {
		return info.Session
	}
	return ""
}

// CheckRead reports whether user may see the mindmap.
func (s *Service) CheckRead(ctx context.Context, id int64, user mindmap.Account) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.canRead(ctx, d, user)
}

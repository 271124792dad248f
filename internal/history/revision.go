package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
)

var (
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrDuplicateRevision = errors.New("revision already exists")
	ErrInvalidTarget     = errors.New("revision must be \"latest\" or a positive number")
)

// Revision is an immutable snapshot of a mindmap taken at a major save.
// ID is the ordering index: 1 for the first revision of a mindmap, then
// increasing by one with every append.
type Revision struct {
	MindmapID int64           `json:"mindmapId" bson:"mindmapId"`
	ID        int64           `json:"id" bson:"id"`
	Editor    mindmap.Account `json:"editor" bson:"editor"`
	Content   []byte          `json:"content,omitempty" bson:"content"`
	CreatedAt time.Time       `json:"createdAt" bson:"createdAt"`
}

func (r Revision) clone() Revision {
	if r.Content != nil {
		r.Content = append([]byte(nil), r.Content...)
	}
	return r
}

// Backend persists revisions. Insert must reject a (mindmapID, ID) pair
// that already exists with ErrDuplicateRevision.
type Backend interface {
	Insert(ctx context.Context, r Revision) error
	List(ctx context.Context, mindmapID int64) ([]Revision, error)
	Get(ctx context.Context, mindmapID, id int64) (Revision, error)
	Latest(ctx context.Context, mindmapID int64) (Revision, error)
	DeleteAll(ctx context.Context, mindmapID int64) (int, error)
}

// LiveDocument is the working copy a revert writes into. ReplaceContent
// returns a function that puts the previous working copy back.
type LiveDocument interface {
	ReplaceContent(ctx context.Context, mindmapID int64, editor mindmap.Account, content []byte) (restore func(context.Context) error, err error)
}

// Target selects the revision a revert goes back to.
type Target struct {
	latest bool
	id     int64
}

// Latest targets the most recent revision.
var Latest = Target{latest: true}

// At targets the revision with the given id.
func At(id int64) Target { return Target{id: id} }

// ParseTarget accepts "latest" or a positive revision id.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "latest") {
		return Latest, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	return At(id), nil
}

func (t Target) IsLatest() bool { return t.latest }

func (t Target) String() string {
	if t.latest {
		return "latest"
	}
	return strconv.FormatInt(t.id, 10)
}

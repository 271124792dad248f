package collab

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
)

var (
	ErrOwnerCannotChange     = errors.New("owner role cannot be changed")
	ErrOwnerCannotRemove     = errors.New("owner cannot be removed")
	ErrOwnerExists           = errors.New("mindmap already has an owner")
	ErrCollaborationNotFound = errors.New("collaboration not found")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidCollaborator   = errors.New("collaborator must have an identity")
)

// Role is the access level of a collaborator on one mindmap.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// CanWrite reports whether the role may change document content.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

// Properties are per-collaborator settings that never affect the role.
type Properties struct {
	Starred           bool   `json:"starred" bson:"starred"`
	MindmapProperties string `json:"mindmapProperties,omitempty" bson:"mindmapProperties,omitempty"`
}

type Collaboration struct {
	MindmapID    int64           `json:"mindmapId" bson:"mindmapId"`
	Collaborator mindmap.Account `json:"collaborator" bson:"collaborator"`
	Role         Role            `json:"role" bson:"role"`
	Properties   Properties      `json:"properties" bson:"properties"`
	CreatedAt    time.Time       `json:"createdAt" bson:"createdAt"`
}

// Desired is one entry of a full collaborator list passed to Reconcile.
type Desired struct {
	Collaborator mindmap.Account `json:"collaborator"`
	Role         Role            `json:"role"`
}

// ReconcileResult lists the collaborator ids touched by Reconcile.
type ReconcileResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

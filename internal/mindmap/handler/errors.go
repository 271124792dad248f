package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, lock.ErrLockHeldByOther):
		return http.StatusLocked
	case errors.Is(err, lock.ErrLockCapacityExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, collab.ErrOwnerExists),
		errors.Is(err, service.ErrLockLost):
		return http.StatusConflict
	case errors.Is(err, collab.ErrOwnerCannotChange),
		errors.Is(err, collab.ErrOwnerCannotRemove),
		errors.Is(err, collab.ErrInvalidRole),
		errors.Is(err, collab.ErrInvalidCollaborator),
		errors.Is(err, history.ErrInvalidTarget),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientPermission):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, history.ErrRevisionNotFound),
		errors.Is(err, collab.ErrCollaborationNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSpamContent):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	var held *lock.HeldError
	if errors.As(err, &held) {
		body["lockedBy"] = held.Holder
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

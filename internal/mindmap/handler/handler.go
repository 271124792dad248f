package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"
	"github.com/gogotex/mindmaps/backend/go-services/internal/sessions"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/middleware"
)

// Limits are optional per-route middlewares, typically rate limiters.
type Limits struct {
	Create gin.HandlerFunc
	Edit   gin.HandlerFunc
}

func chain(mw gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if mw == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{mw, h}
}

// documentView renders content as text; mindmap documents are XML.
type documentView struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Content         *string         `json:"content,omitempty"`
	Public          bool            `json:"public"`
	SpamDetected    bool            `json:"spamDetected"`
	SpamDescription string          `json:"spamDescription,omitempty"`
	Creator         mindmap.Account `json:"creator"`
	LastEditor      mindmap.Account `json:"lastEditor"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastModified    time.Time       `json:"lastModified"`
}

func viewOf(d *mindmap.Document, withContent bool) documentView {
	v := documentView{
		ID:              d.ID,
		Title:           d.Title,
		Description:     d.Description,
		Public:          d.Public,
		SpamDetected:    d.SpamDetected,
		SpamDescription: d.SpamDescription,
		Creator:         d.Creator,
		LastEditor:      d.LastEditor,
		CreatedAt:       d.CreatedAt,
		LastModified:    d.LastModified,
	}
	if withContent {
		s := string(d.Content)
		v.Content = &s
	}
	return v
}

type revisionView struct {
	ID        int64           `json:"id"`
	Editor    mindmap.Account `json:"editor"`
	CreatedAt time.Time       `json:"createdAt"`
	Content   *string         `json:"content,omitempty"`
}

func revisionOf(r history.Revision, withContent bool) revisionView {
	v := revisionView{ID: r.ID, Editor: r.Editor, CreatedAt: r.CreatedAt}
	if withContent {
		s := string(r.Content)
		v.Content = &s
	}
	return v
}

type collaboratorRequest struct {
	Collaborator mindmap.Account `json:"collaborator"`
	Role         string          `json:"role"`
	Message      string          `json:"message"`
}

func mindmapID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid mindmap id")
		return 0, false
	}
	return id, true
}

// readBool accepts a bare true/false body, as sent by the editor client.
func readBool(c *gin.Context) (bool, bool) {
	b, err := io.ReadAll(io.LimitReader(c.Request.Body, 16))
	if err != nil {
		badRequest(c, err.Error())
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(string(b)))
	if err != nil {
		badRequest(c, "body must be true or false")
		return false, false
	}
	return v, true
}

// RegisterMindmapRoutes mounts the mindmap API on r. r is expected to run
// AuthMiddleware already.
func RegisterMindmapRoutes(r gin.IRouter, svc *service.Service, limits Limits) {
	r.GET("/api/maps", func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]documentView, 0, len(list))
		for _, d := range list {
			out = append(out, viewOf(d, false))
		}
		c.JSON(http.StatusOK, out)
	})

	r.POST("/api/maps", chain(limits.Create, func(c *gin.Context) {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Content     string `json:"content"`
			Public      bool   `json:"public"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := svc.Create(c.Request.Context(), middleware.AccountFrom(c), service.NewDocument{
			Title:       req.Title,
			Description: req.Description,
			Content:     []byte(req.Content),
			Public:      req.Public,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/api/maps/"+strconv.FormatInt(d.ID, 10))
		c.JSON(http.StatusCreated, viewOf(d, false))
	})...)

	// delete several mindmaps at once: ?ids=1,2,3
	r.DELETE("/api/maps", func(c *gin.Context) {
		raw := strings.TrimSpace(c.Query("ids"))
		if raw == "" {
			badRequest(c, "ids is required")
			return
		}
		var ids []int64
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				badRequest(c, "invalid mindmap id "+strconv.Quote(part))
				return
			}
			ids = append(ids, id)
		}
		res, err := svc.DeleteMany(c.Request.Context(), middleware.AccountFrom(c), ids)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// duplicate a mindmap under a new title
	r.POST("/api/maps/:id", chain(limits.Create, func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := svc.Duplicate(c.Request.Context(), id, middleware.AccountFrom(c), req.Title, req.Description)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/api/maps/"+strconv.FormatInt(d.ID, 10))
		c.JSON(http.StatusCreated, viewOf(d, false))
	})...)

	r.GET("/api/maps/:id", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		d, err := svc.Get(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(d, true))
	})

	r.DELETE("/api/maps/:id", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		if err := svc.Delete(c.Request.Context(), id, middleware.AccountFrom(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.PUT("/api/maps/:id/document", chain(limits.Edit, func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req struct {
			Content    *string `json:"content"`
			Properties *string `json:"properties,omitempty"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Content == nil {
			badRequest(c, "content is required")
			return
		}
		minor, _ := strconv.ParseBool(c.DefaultQuery("minor", "false"))
		d, err := svc.ApplyEdit(c.Request.Context(), id, middleware.AccountFrom(c), []byte(*req.Content), service.EditOptions{
			Minor:      minor,
			Properties: req.Properties,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(d, false))
	})...)

	r.PUT("/api/maps/:id/title", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := svc.UpdateTitle(c.Request.Context(), id, middleware.AccountFrom(c), req.Title)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(d, false))
	})

	r.PUT("/api/maps/:id/description", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req struct {
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := svc.UpdateDescription(c.Request.Context(), id, middleware.AccountFrom(c), req.Description)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(d, false))
	})

	r.PUT("/api/maps/:id/publish", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		public, ok := readBool(c)
		if !ok {
			return
		}
		d, err := svc.SetPublic(c.Request.Context(), id, middleware.AccountFrom(c), public)
		if errors.Is(err, service.ErrSpamContent) && d != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "mindmap": viewOf(d, false)})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(d, false))
	})

	r.GET("/api/maps/:id/lock", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		st, err := svc.LockStatus(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	r.PUT("/api/maps/:id/lock", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		lockIt, ok := readBool(c)
		if !ok {
			return
		}
		user := middleware.AccountFrom(c)
		if !lockIt {
			if err := svc.Unlock(c.Request.Context(), id, user); err != nil {
				writeError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
		info, err := svc.Lock(c.Request.Context(), id, user)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	// take over editing from whoever holds the lock
	r.DELETE("/api/maps/:id/lock", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		info, err := svc.TakeOver(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	r.GET("/api/maps/:id/history", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		revs, err := svc.Revisions(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]revisionView, 0, len(revs))
		for _, r := range revs {
			out = append(out, revisionOf(r, false))
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/api/maps/:id/history/:hid", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		hid, err := strconv.ParseInt(c.Param("hid"), 10, 64)
		if err != nil || hid <= 0 {
			badRequest(c, "invalid revision id")
			return
		}
		rev, err := svc.Revision(c.Request.Context(), id, hid, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, revisionOf(rev, true))
	})

	r.POST("/api/maps/:id/history/:hid", chain(limits.Edit, func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		target, err := history.ParseTarget(c.Param("hid"))
		if err != nil {
			writeError(c, err)
			return
		}
		rev, err := svc.Revert(c.Request.Context(), id, middleware.AccountFrom(c), target)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, revisionOf(rev, false))
	})...)

	r.GET("/api/maps/:id/collabs", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		cs, err := svc.Collaborators(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cs)
	})

	// replace the whole non-owner list
	r.PUT("/api/maps/:id/collabs", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req []collaboratorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		desired := make([]collab.Desired, 0, len(req))
		for _, e := range req {
			role, err := collab.ParseRole(e.Role)
			if err != nil {
				writeError(c, err)
				return
			}
			desired = append(desired, collab.Desired{Collaborator: e.Collaborator, Role: role})
		}
		res, err := svc.ReplaceCollaborators(c.Request.Context(), id, middleware.AccountFrom(c), desired)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// add one collaborator or change their role
	r.POST("/api/maps/:id/collabs", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		var req collaboratorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		role, err := collab.ParseRole(req.Role)
		if err != nil {
			writeError(c, err)
			return
		}
		co, err := svc.ShareWith(c.Request.Context(), id, middleware.AccountFrom(c), req.Collaborator, role, req.Message)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, co)
	})

	r.DELETE("/api/maps/:id/collabs", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		who := strings.TrimSpace(c.Query("id"))
		if who == "" {
			badRequest(c, "collaborator id is required")
			return
		}
		if err := svc.Unshare(c.Request.Context(), id, middleware.AccountFrom(c), who); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/api/maps/:id/starred", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		starred, err := svc.Starred(c.Request.Context(), id, middleware.AccountFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, starred)
	})

	r.PUT("/api/maps/:id/starred", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		starred, ok := readBool(c)
		if !ok {
			return
		}
		if err := svc.SetStarred(c.Request.Context(), id, middleware.AccountFrom(c), starred); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// release every lock of the caller, e.g. when the editor tab closes
	r.DELETE("/api/locks", func(c *gin.Context) {
		n := svc.ReleaseLocks(middleware.AccountFrom(c))
		c.JSON(http.StatusOK, gin.H{"released": n})
	})
}

// RegisterSessionRoutes mounts logout. The access token is revoked until it
// expires and every edit lock of the user is released.
func RegisterSessionRoutes(r gin.IRouter, svc *service.Service, bl sessions.Blacklist, fallbackTTL time.Duration) {
	r.POST("/api/logout", func(c *gin.Context) {
		user := middleware.AccountFrom(c)
		if bl != nil {
			ttl := sessions.RemainingTTL(middleware.ClaimsFrom(c)["exp"], time.Now(), fallbackTTL)
			if err := bl.Revoke(c.Request.Context(), middleware.TokenFrom(c), ttl); err != nil {
				logger.Errorf("revoke token of %s: %v", user.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
				return
			}
		}
		n := svc.ReleaseLocks(user)
		c.JSON(http.StatusOK, gin.H{"released": n})
	})
}

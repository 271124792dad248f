package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/repository"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"
	"github.com/gogotex/mindmaps/backend/go-services/internal/sessions"
	"github.com/gogotex/mindmaps/backend/go-services/internal/storage"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/middleware"
)

// subjectToken treats the raw bearer token as the subject.
type subjectToken struct{ sub string }

func (t subjectToken) Claims(v interface{}) error {
	m := v.(*map[string]interface{})
	*m = map[string]interface{}{"sub": t.sub, "name": strings.ToUpper(t.sub), "exp": float64(time.Now().Add(time.Hour).Unix())}
	return nil
}

type subjectVerifier struct{}

func (subjectVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	return subjectToken{sub: raw}, nil
}

type api struct {
	t     *testing.T
	g     *gin.Engine
	locks *lock.Manager
}

func newAPI(t *testing.T, opts ...lock.Option) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &events.Recorder{}
	locks := lock.NewManager(append([]lock.Option{lock.WithSink(rec)}, opts...)...)
	svc := service.New(service.Deps{
		Repo:          repository.NewMemoryRepo(),
		Content:       storage.NewMemoryStore(),
		Locks:         locks,
		Collaborators: collab.NewRegistry(collab.NewMemoryStore(), rec),
		History:       history.NewStore(history.NewMemoryBackend(), nil, rec),
	})
	bl := sessions.NewMemoryBlacklist()
	g := gin.New()
	authed := g.Group("/", middleware.AuthMiddleware(subjectVerifier{}, bl))
	RegisterMindmapRoutes(authed, svc, Limits{})
	RegisterSessionRoutes(authed, svc, bl, time.Hour)
	return &api{t: t, g: g, locks: locks}
}

func (a *api) do(user, method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	a.g.ServeHTTP(w, req)
	return w
}

func (a *api) create(user string) string {
	a.t.Helper()
	w := a.do(user, http.MethodPost, "/api/maps", `{"title":"Plan","content":"<map/>"}`)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var d documentView
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &d))
	return strconv.FormatInt(d.ID, 10)
}

func (a *api) share(owner, id, user, role string) {
	a.t.Helper()
	w := a.do(owner, http.MethodPost, "/api/maps/"+id+"/collabs",
		`{"collaborator":{"id":"`+user+`"},"role":"`+role+`"}`)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
}

func TestMapsCRUD(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusUnauthorized, a.do("", http.MethodGet, "/api/maps", "").Code)

	id := a.create("ada")

	w := a.do("ada", http.MethodGet, "/api/maps/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var d documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, "<map/>", *d.Content)
	require.Equal(t, "ADA", d.Creator.FullName)

	w = a.do("ada", http.MethodGet, "/api/maps", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Nil(t, list[0].Content)

	require.Equal(t, http.StatusBadRequest, a.do("ada", http.MethodPost, "/api/maps", `{"title":""}`).Code)
	require.Equal(t, http.StatusBadRequest, a.do("ada", http.MethodGet, "/api/maps/abc", "").Code)
	require.Equal(t, http.StatusNotFound, a.do("ada", http.MethodGet, "/api/maps/999", "").Code)
	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodGet, "/api/maps/"+id, "").Code)
	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodDelete, "/api/maps/"+id, "").Code)

	require.Equal(t, http.StatusNoContent, a.do("ada", http.MethodDelete, "/api/maps/"+id, "").Code)
	require.Equal(t, http.StatusNotFound, a.do("ada", http.MethodGet, "/api/maps/"+id, "").Code)
}

func TestEditLockedAndViewer(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")
	a.share("ada", id, "bob", "EDITOR")
	a.share("ada", id, "vic", "viewer")

	w := a.do("ada", http.MethodPut, "/api/maps/"+id+"/document", `{"content":"v1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("bob", http.MethodPut, "/api/maps/"+id+"/document", `{"content":"v2"}`)
	require.Equal(t, http.StatusLocked, w.Code)
	var body struct {
		LockedBy struct {
			ID string `json:"id"`
		} `json:"lockedBy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ada", body.LockedBy.ID)

	w = a.do("bob", http.MethodGet, "/api/maps/"+id+"/lock", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"locked":true,"lockedBy":{"id":"ada","fullName":"ADA"}}`, w.Body.String())

	require.Equal(t, http.StatusNoContent, a.do("ada", http.MethodPut, "/api/maps/"+id+"/lock", "false").Code)
	require.Equal(t, http.StatusForbidden, a.do("vic", http.MethodPut, "/api/maps/"+id+"/document", `{"content":"x"}`).Code)
	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodPut, "/api/maps/"+id+"/document", `{}`).Code)

	w = a.do("bob", http.MethodPut, "/api/maps/"+id+"/document?minor=true", `{"content":"draft","properties":"{}"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("vic", http.MethodGet, "/api/maps/"+id+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var revs []revisionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revs))
	require.Len(t, revs, 1, "the minor edit adds no revision")
}

func TestTakeOverAndRevert(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")
	a.share("ada", id, "bob", "editor")
	for _, c := range []string{"r1", "r2"} {
		require.Equal(t, http.StatusOK, a.do("ada", http.MethodPut, "/api/maps/"+id+"/document", `{"content":"`+c+`"}`).Code)
	}

	w := a.do("bob", http.MethodDelete, "/api/maps/"+id+"/lock", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, http.StatusLocked, a.do("ada", http.MethodPut, "/api/maps/"+id+"/document", `{"content":"late"}`).Code)

	w = a.do("bob", http.MethodPost, "/api/maps/"+id+"/history/1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rev revisionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rev))
	require.Equal(t, int64(3), rev.ID)

	w = a.do("bob", http.MethodGet, "/api/maps/"+id+"/history/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rev))
	require.Equal(t, "r1", *rev.Content)

	require.Equal(t, http.StatusOK, a.do("bob", http.MethodPost, "/api/maps/"+id+"/history/latest", "").Code)
	require.Equal(t, http.StatusNotFound, a.do("bob", http.MethodPost, "/api/maps/"+id+"/history/42", "").Code)
	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodPost, "/api/maps/"+id+"/history/first", "").Code)
	require.Equal(t, http.StatusNotFound, a.do("bob", http.MethodGet, "/api/maps/"+id+"/history/42", "").Code)
}

func TestCapacityIsServiceUnavailable(t *testing.T) {
	a := newAPI(t, lock.WithCapacity(1))
	first := a.create("ada")
	second := a.create("bob")
	require.Equal(t, http.StatusOK, a.do("ada", http.MethodPut, "/api/maps/"+first+"/lock", "true").Code)
	require.Equal(t, http.StatusServiceUnavailable, a.do("bob", http.MethodPut, "/api/maps/"+second+"/lock", "true").Code)

	w := a.do("ada", http.MethodDelete, "/api/locks", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"released":1}`, w.Body.String())
	require.Equal(t, http.StatusOK, a.do("bob", http.MethodPut, "/api/maps/"+second+"/lock", "true").Code)
}

func TestCollaborators(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")

	w := a.do("ada", http.MethodPost, "/api/maps/"+id+"/collabs", `{"collaborator":{"id":"bob"},"role":"owner"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do("ada", http.MethodPost, "/api/maps/"+id+"/collabs", `{"collaborator":{"id":"bob"},"role":"admin"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do("ada", http.MethodPut, "/api/maps/"+id+"/collabs",
		`[{"collaborator":{"id":"bob"},"role":"editor"},{"collaborator":{"id":"vic"},"role":"viewer"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res collab.ReconcileResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.ElementsMatch(t, []string{"bob", "vic"}, res.Added)

	w = a.do("vic", http.MethodGet, "/api/maps/"+id+"/collabs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cs []collab.Collaboration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cs))
	require.Len(t, cs, 3)

	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodDelete, "/api/maps/"+id+"/collabs?id=ada", "").Code)
	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodDelete, "/api/maps/"+id+"/collabs", "").Code)
	require.Equal(t, http.StatusNoContent, a.do("bob", http.MethodDelete, "/api/maps/"+id+"/collabs?id=vic", "").Code)
	require.Equal(t, http.StatusNotFound, a.do("bob", http.MethodDelete, "/api/maps/"+id+"/collabs?id=vic", "").Code)
}

func TestMetadataAndStarred(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")
	a.share("ada", id, "bob", "viewer")

	require.Equal(t, http.StatusOK, a.do("ada", http.MethodPut, "/api/maps/"+id+"/title", `{"title":"Roadmap"}`).Code)
	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodPut, "/api/maps/"+id+"/title", `{"title":"x"}`).Code)
	require.Equal(t, http.StatusOK, a.do("ada", http.MethodPut, "/api/maps/"+id+"/description", `{"description":"q3"}`).Code)

	require.Equal(t, http.StatusBadRequest, a.do("ada", http.MethodPut, "/api/maps/"+id+"/publish", "maybe").Code)
	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodPut, "/api/maps/"+id+"/publish", "true").Code)
	w := a.do("ada", http.MethodPut, "/api/maps/"+id+"/publish", "true")
	require.Equal(t, http.StatusOK, w.Code)
	var d documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.True(t, d.Public)
	require.Equal(t, "Roadmap", d.Title)
	require.Equal(t, http.StatusOK, a.do("stranger", http.MethodGet, "/api/maps/"+id, "").Code)

	require.Equal(t, http.StatusNoContent, a.do("bob", http.MethodPut, "/api/maps/"+id+"/starred", "true").Code)
	w = a.do("bob", http.MethodGet, "/api/maps/"+id+"/starred", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "true", w.Body.String())
	require.Equal(t, http.StatusForbidden, a.do("stranger", http.MethodPut, "/api/maps/"+id+"/starred", "true").Code)
}

func TestLogoutRevokesTokenAndReleasesLocks(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")
	require.Equal(t, http.StatusOK, a.do("ada", http.MethodPut, "/api/maps/"+id+"/lock", "true").Code)
	require.True(t, a.locks.IsLocked(mustID(t, id)))

	w := a.do("ada", http.MethodPost, "/api/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"released":1}`, w.Body.String())
	require.False(t, a.locks.IsLocked(mustID(t, id)))

	require.Equal(t, http.StatusUnauthorized, a.do("ada", http.MethodGet, "/api/maps", "").Code)
}

func TestDuplicateAndDeleteMany(t *testing.T) {
	a := newAPI(t)
	id := a.create("ada")

	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodPost, "/api/maps/"+id, `{"title":"Copy"}`).Code)
	require.Equal(t, http.StatusBadRequest, a.do("ada", http.MethodPost, "/api/maps/"+id, `{"title":""}`).Code)
	require.Equal(t, http.StatusNotFound, a.do("ada", http.MethodPost, "/api/maps/999", `{"title":"Copy"}`).Code)

	a.share("ada", id, "bob", "viewer")
	w := a.do("bob", http.MethodPost, "/api/maps/"+id, `{"title":"Copy"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	copyID := strconv.FormatInt(d.ID, 10)
	require.Equal(t, "/api/maps/"+copyID, w.Header().Get("Location"))
	require.Equal(t, "bob", d.Creator.ID)

	w = a.do("bob", http.MethodGet, "/api/maps/"+copyID, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, "<map/>", *d.Content)

	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodDelete, "/api/maps", "").Code)
	require.Equal(t, http.StatusBadRequest, a.do("bob", http.MethodDelete, "/api/maps?ids=1,x", "").Code)
	require.Equal(t, http.StatusNotFound, a.do("bob", http.MethodDelete, "/api/maps?ids="+copyID+",999", "").Code)
	require.Equal(t, http.StatusForbidden, a.do("cy", http.MethodDelete, "/api/maps?ids="+copyID, "").Code)

	w = a.do("bob", http.MethodDelete, "/api/maps?ids="+copyID+","+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.DeleteManyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, []int64{d.ID}, res.Deleted)
	require.Equal(t, []int64{mustID(t, id)}, res.Left)

	require.Equal(t, http.StatusNotFound, a.do("bob", http.MethodGet, "/api/maps/"+copyID, "").Code)
	require.Equal(t, http.StatusForbidden, a.do("bob", http.MethodGet, "/api/maps/"+id, "").Code)
	require.Equal(t, http.StatusOK, a.do("ada", http.MethodGet, "/api/maps/"+id, "").Code)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusLocked, statusOf(&lock.HeldError{MindmapID: 1}))
	require.Equal(t, http.StatusConflict, statusOf(collab.ErrOwnerExists))
	require.Equal(t, http.StatusConflict, statusOf(service.ErrLockLost))
	require.Equal(t, http.StatusUnprocessableEntity, statusOf(service.ErrSpamContent))
	require.Equal(t, http.StatusNotFound, statusOf(history.ErrRevisionNotFound))
	require.Equal(t, http.StatusInternalServerError, statusOf(context.DeadlineExceeded))
}

func mustID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}

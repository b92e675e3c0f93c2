package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjlee/actual-landg-pension/internal/api/handlers"
	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/jobs"
	"github.com/rjlee/actual-landg-pension/internal/jobs/inmemory"
	mock_ledger "github.com/rjlee/actual-landg-pension/internal/ledger/mocks"
	"github.com/rjlee/actual-landg-pension/internal/login"
	"github.com/rjlee/actual-landg-pension/internal/mapping"
)

type countingSync struct{ calls int }

func (c *countingSync) RunSyncE(context.Context) (int, error) {
	c.calls++
	return 1, nil
}

func newTestRouter(t *testing.T, sessions *middleware.Sessions) (http.Handler, *countingSync) {
	t.Helper()
	log := zerolog.Nop()
	coord := login.NewCoordinator()
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(4, 1, store)
	t.Cleanup(func() { _ = queue.Close() })

	gw := mock_ledger.NewMockGateway(gomock.NewController(t))
	data := handlers.NewDataHandler(gw, mapping.NewFileStore(filepath.Join(t.TempDir(), "mapping.json")), coord, log)
	sync := &countingSync{}

	router := NewRouter(Handlers{
		Pages:   handlers.NewPagesHandler(sessions, coord, data.Ready, log),
		Landg:   handlers.NewLandgHandler(coord, queue, log),
		Data:    data,
		Sync:    handlers.NewSyncHandler(sync, log),
		Jobs:    handlers.NewJobsHandler(store, log),
		History: handlers.NewHistoryHandler(nil, log),
	}, sessions, log)
	return router, sync
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_OpenAccess(t *testing.T) {
	router, sync := newTestRouter(t, nil)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
	assert.Equal(t, 1, sync.calls)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_LoginJobIsQueued(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/api/landg/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/jobs?type="+string(jobs.JobTypeLogin), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/jobs/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_SessionFlow(t *testing.T) {
	sessions := middleware.NewSessions("secret", "actual-auth", time.Hour)
	router, sync := newTestRouter(t, sessions)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, sync.calls)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	form := url.Values{"password": {"secret"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = serve(router, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.AddCookie(cookies[0])
	rec = serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sync.calls)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Log out")

	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookies[0])
	rec = serve(router, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.AddCookie(cookies[0])
	rec = serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

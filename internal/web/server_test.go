package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/punch-scheduler/internal/auth"
	"github.com/example/punch-scheduler/internal/checkin"
	"github.com/example/punch-scheduler/internal/store"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	key := []byte("0123456789abcdef0123456789abcdef")
	authStore := auth.NewStore(st, key, key)
	require.NoError(t, authStore.CreateUser(context.Background(), "admin", "hunter2"))

	engine := &checkin.Engine{
		Source:    st,
		Notifier:  noopNotifier{},
		NewClient: func(string, string) (checkin.Client, error) { panic("no accounts configured") },
		Log:       testLog(),
	}
	return &Server{Auth: authStore, Engine: engine, Log: testLog()}
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, store.Settings, string) {}

func login(t *testing.T, h http.Handler, username, password string) *http.Cookie {
	t.Helper()
	body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
	r := httptest.NewRequest(http.MethodPost, "/login", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok\n", w.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()

	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsNonPost(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusAfterLogin(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()
	cookie := login(t, h, "admin", "hunter2")

	r := httptest.NewRequest(http.MethodGet, "/status", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State   string          `json:"state"`
		LastRun json.RawMessage `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(checkin.StateIdle), body.State)
	assert.Equal(t, "null", string(body.LastRun))
}

func TestRunTriggersEngine(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()
	cookie := login(t, h, "admin", "hunter2")

	r := httptest.NewRequest(http.MethodPost, "/run", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Empty store: the async run completes with no bindings processed.
	require.Eventually(t, func() bool {
		state, last := srv.Engine.Snapshot()
		return state == checkin.StateIdle && last != nil && !last.FinishedAt.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	_, last := srv.Engine.Snapshot()
	assert.Equal(t, 1, last.Passes)
	assert.Zero(t, last.ReportLines)
}

func TestRunRejectsNonPost(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()
	cookie := login(t, h, "admin", "hunter2")

	r := httptest.NewRequest(http.MethodGet, "/run", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()
	cookie := login(t, h, "admin", "hunter2")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cleared := w.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Equal(t, cookie.Name, cleared[0].Name)
	assert.Less(t, cleared[0].MaxAge, 0)
}

package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCookie = "username=zhangsan; remember_student_ab12=secret-token"

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := NewClient(base, "9527", testCookie)
	require.NoError(t, err)
	return c
}

func TestDiscoverPending(t *testing.T) {
	var gotUA, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/student/course/9527/punchs", r.URL.Path)
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		fmt.Fprint(w, `<html><body>
<div class="card-body"><h5>第一次点名</h5><a href="#" onclick="punchcard_101"></a></div>
<div class="card-body"><h5>第二次点名</h5><span>已签</span><a onclick="punchcard_102"></a></div>
<div class="card-body"><form id="punch_pwd_frm_103"></form></div>
</body></html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	targets, err := c.DiscoverPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "103"}, targets)
	assert.Equal(t, userAgent, gotUA)
	assert.Equal(t, "remember_student_ab12=secret-token", gotCookie)
}

func TestDiscoverPendingNothingOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="card-body">已签</div></body></html>`)
	}))
	defer srv.Close()

	targets, err := newTestClient(t, srv.URL).DiscoverPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestDiscoverPendingSessionInvalid(t *testing.T) {
	pages := []string{
		`<html><body><h1>出错</h1></body></html>`,
		`<html><body><h1>登录</h1><p>输入密码</p></body></html>`,
	}
	for _, page := range pages {
		page := page
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, page)
		}))
		_, err := newTestClient(t, srv.URL).DiscoverPending(context.Background())
		assert.ErrorIs(t, err, ErrSessionInvalid)
		srv.Close()
	}
}

func TestDiscoverPendingPasswordPromptIsNotInvalid(t *testing.T) {
	// 输入密码 on its own is a password-protected card, not a dead session.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="card-body">输入密码<form id="punch_pwd_frm_55"></form></div></body></html>`)
	}))
	defer srv.Close()

	targets, err := newTestClient(t, srv.URL).DiscoverPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"55"}, targets)
}

func TestDiscoverPendingHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).DiscoverPending(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionInvalid)
}

func TestDiscoverPendingTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	targets, err := newTestClient(t, srv.URL).DiscoverPending(context.Background())
	require.Error(t, err)
	assert.Nil(t, targets)
}

func TestSubmit(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/student/punchs/course/9527/101", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		fmt.Fprint(w, `<html><body><div id="title"><h1>签到成功</h1></div></body></html>`)
	}))
	defer srv.Close()

	outcome := newTestClient(t, srv.URL).Submit(context.Background(), "101", 39.90469, 116.40717, 10, "1234")
	assert.Equal(t, SuccessPhrase, outcome)
	assert.Equal(t, map[string]string{
		"id":       "101",
		"lat":      "39.90469",
		"lng":      "116.40717",
		"acc":      "10",
		"res":      "",
		"gps_addr": "",
		"pwd":      "1234",
	}, form)
}

func TestSubmitFailureOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>签到失败，不在签到范围内</h1></body></html>`)
	}))
	defer srv.Close()

	outcome := newTestClient(t, srv.URL).Submit(context.Background(), "101", 1, 2, 3, "")
	assert.Equal(t, "签到失败，不在签到范围内", outcome)
}

func TestSubmitTitleDivFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="title">已经签过到了</div></body></html>`)
	}))
	defer srv.Close()

	outcome := newTestClient(t, srv.URL).Submit(context.Background(), "101", 1, 2, 3, "")
	assert.Equal(t, "已经签过到了", outcome)
}

func TestSubmitUnrecognizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>nothing useful</p></body></html>`)
	}))
	defer srv.Close()

	outcome := newTestClient(t, srv.URL).Submit(context.Background(), "101", 1, 2, 3, "")
	assert.Equal(t, "unrecognized response", outcome)
}

func TestSubmitTransportErrorBecomesOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	outcome := newTestClient(t, srv.URL).Submit(context.Background(), "101", 1, 2, 3, "")
	assert.NotContains(t, outcome, SuccessPhrase)
	assert.NotEmpty(t, outcome)
}

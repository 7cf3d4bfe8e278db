package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/punch-scheduler/internal/portal"
	"github.com/example/punch-scheduler/internal/store"
)

type fakeSource struct {
	accounts  []store.Account
	locations []store.Location
	bindings  []store.TaskBinding
	settings  store.Settings
}

func (s *fakeSource) Accounts(context.Context) ([]store.Account, error)         { return s.accounts, nil }
func (s *fakeSource) Locations(context.Context) ([]store.Location, error)       { return s.locations, nil }
func (s *fakeSource) TaskBindings(context.Context) ([]store.TaskBinding, error) { return s.bindings, nil }
func (s *fakeSource) Settings(context.Context) (store.Settings, error)          { return s.settings, nil }

type submitCall struct {
	target string
	pwd    string
}

// fakeClient scripts DiscoverPending and Submit per call. The last entry of
// each script repeats once exhausted.
type fakeClient struct {
	display string

	discoverTargets [][]string
	discoverErrs    []error
	discoverCalls   int

	outcomes []string
	submits  []submitCall
}

func (c *fakeClient) DisplayName() string { return c.display }

func (c *fakeClient) DiscoverPending(context.Context) ([]string, error) {
	i := c.discoverCalls
	c.discoverCalls++
	if i >= len(c.discoverTargets) {
		i = len(c.discoverTargets) - 1
	}
	var err error
	if len(c.discoverErrs) > 0 {
		j := i
		if j >= len(c.discoverErrs) {
			j = len(c.discoverErrs) - 1
		}
		err = c.discoverErrs[j]
	}
	return c.discoverTargets[i], err
}

func (c *fakeClient) Submit(_ context.Context, target string, _, _, _ float64, pwd string) string {
	i := len(c.submits)
	c.submits = append(c.submits, submitCall{target: target, pwd: pwd})
	if i >= len(c.outcomes) {
		i = len(c.outcomes) - 1
	}
	return c.outcomes[i]
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []string
}

func (n *fakeNotifier) Dispatch(_ context.Context, _ store.Settings, content string) {
	n.mu.Lock()
	n.reports = append(n.reports, content)
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reports)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestEngine(src ConfigSource, n Notifier, factory ClientFactory) (*Engine, *[]time.Duration) {
	waits := &[]time.Duration{}
	e := &Engine{
		Source:    src,
		Notifier:  n,
		NewClient: factory,
		Log:       testLog(),
	}
	e.wait = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return e, waits
}

func oneBindingSource() *fakeSource {
	return &fakeSource{
		accounts:  []store.Account{{Name: "alice", Cookie: "remember_student_aa=tok", CourseID: "77"}},
		locations: []store.Location{{Name: "library", Lat: 39.9, Lng: 116.4, Acc: 10}},
		bindings:  []store.TaskBinding{{AccountName: "alice", LocationName: "library", Enabled: true}},
	}
}

func TestRunSinglePassSuccess(t *testing.T) {
	fc := &fakeClient{discoverTargets: [][]string{{"501"}}, outcomes: []string{"签到成功"}}
	var factoryCalls int
	n := &fakeNotifier{}
	e, waits := newTestEngine(oneBindingSource(), n, func(courseID, cookie string) (Client, error) {
		factoryCalls++
		assert.Equal(t, "77", courseID)
		return fc, nil
	})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 1, fc.discoverCalls)
	assert.Equal(t, []submitCall{{target: "501"}}, fc.submits)
	assert.Empty(t, *waits)
	require.Equal(t, 1, n.count())
	assert.Contains(t, n.reports[0], "✅")
	assert.Contains(t, n.reports[0], "alice")
	assert.Contains(t, n.reports[0], "[501]")

	state, last := e.Snapshot()
	assert.Equal(t, StateIdle, state)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Passes)
	assert.Equal(t, 1, last.ReportLines)
	assert.False(t, last.NeedsRetry)
	assert.False(t, last.FinishedAt.IsZero())
}

func TestRunNothingPendingSendsNoReport(t *testing.T) {
	fc := &fakeClient{discoverTargets: [][]string{nil}}
	n := &fakeNotifier{}
	e, waits := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))

	assert.Zero(t, n.count())
	assert.Empty(t, *waits)
	assert.Empty(t, fc.submits)
	_, last := e.Snapshot()
	assert.Equal(t, 1, last.Passes)
	assert.Zero(t, last.ReportLines)
}

func TestRunRetriesFailedSubmission(t *testing.T) {
	fc := &fakeClient{
		discoverTargets: [][]string{{"501"}, {"501"}},
		outcomes:        []string{"签到失败，不在签到范围内", "签到成功"},
	}
	var factoryCalls int
	n := &fakeNotifier{}
	e, waits := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) {
		factoryCalls++
		return fc, nil
	})

	require.NoError(t, e.Run(context.Background()))

	// Same session across passes, discovery re-queried each pass.
	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 2, fc.discoverCalls)
	assert.Len(t, fc.submits, 2)
	assert.Equal(t, []time.Duration{5 * time.Minute}, *waits)
	require.Equal(t, 2, n.count())
	assert.Contains(t, n.reports[0], "❌")
	assert.Contains(t, n.reports[1], "✅")

	_, last := e.Snapshot()
	assert.Equal(t, 2, last.Passes)
	assert.False(t, last.NeedsRetry)
}

func TestRunGivesUpAfterFinalRetry(t *testing.T) {
	fc := &fakeClient{
		discoverTargets: [][]string{{"501"}},
		outcomes:        []string{"签到失败"},
	}
	n := &fakeNotifier{}
	e, waits := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 3, fc.discoverCalls)
	assert.Len(t, fc.submits, 3)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute}, *waits)
	assert.Equal(t, 3, n.count())

	state, last := e.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 3, last.Passes)
	assert.True(t, last.NeedsRetry)
}

func TestRunSessionInvalidReportedOnceAndRetried(t *testing.T) {
	src := oneBindingSource()
	// Second binding on the same account must not duplicate the invalid line.
	src.locations = append(src.locations, store.Location{Name: "gym", Lat: 1, Lng: 2, Acc: 3})
	src.bindings = append(src.bindings, store.TaskBinding{AccountName: "alice", LocationName: "gym", Enabled: true})

	fc := &fakeClient{
		discoverTargets: [][]string{nil},
		discoverErrs:    []error{portal.ErrSessionInvalid},
	}
	n := &fakeNotifier{}
	e, waits := newTestEngine(src, n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))

	assert.Empty(t, fc.submits)
	assert.Len(t, *waits, 2)
	require.Equal(t, 3, n.count())
	for _, rep := range n.reports {
		assert.Equal(t, 1, strings.Count(rep, "登录失效"), "one invalid line per pass, not per binding")
	}
	// One discovery per account per pass.
	assert.Equal(t, 3, fc.discoverCalls)
}

func TestRunDiscoveryErrorIsReportedAndRetried(t *testing.T) {
	fc := &fakeClient{
		discoverTargets: [][]string{nil, {"501"}},
		discoverErrs:    []error{errors.New("connection reset"), nil},
		outcomes:        []string{"签到成功"},
	}
	n := &fakeNotifier{}
	e, waits := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []time.Duration{5 * time.Minute}, *waits)
	require.Equal(t, 2, n.count())
	assert.Contains(t, n.reports[0], "获取签到列表失败")
	assert.Contains(t, n.reports[0], "connection reset")
	assert.Contains(t, n.reports[1], "✅")
}

func TestRunSharedAccountDiscoversOnce(t *testing.T) {
	src := &fakeSource{
		accounts: []store.Account{{Name: "alice", Cookie: "remember_student_aa=tok", CourseID: "77"}},
		locations: []store.Location{
			{Name: "library", Lat: 39.9, Lng: 116.4, Acc: 10},
			{Name: "gym", Lat: 31.2, Lng: 121.5, Acc: 8},
		},
		bindings: []store.TaskBinding{
			{AccountName: "alice", LocationName: "library", Enabled: true},
			{AccountName: "alice", LocationName: "gym", Enabled: true},
		},
	}
	fc := &fakeClient{discoverTargets: [][]string{{"501", "502"}}, outcomes: []string{"签到成功", "签到成功"}}
	var factoryCalls int
	n := &fakeNotifier{}
	e, _ := newTestEngine(src, n, func(string, string) (Client, error) {
		factoryCalls++
		return fc, nil
	})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 1, fc.discoverCalls)
	// First binding consumes both targets; the second finds nothing left.
	assert.Equal(t, []submitCall{{target: "501"}, {target: "502"}}, fc.submits)
	assert.Equal(t, 1, n.count())
}

func TestRunSkipsDisabledBindings(t *testing.T) {
	src := oneBindingSource()
	src.bindings[0].Enabled = false

	n := &fakeNotifier{}
	e, _ := newTestEngine(src, n, func(string, string) (Client, error) {
		t.Fatal("factory must not be called for disabled bindings")
		return nil, nil
	})

	require.NoError(t, e.Run(context.Background()))
	assert.Zero(t, n.count())
}

func TestRunReportsBrokenBinding(t *testing.T) {
	src := oneBindingSource()
	src.bindings = append(src.bindings, store.TaskBinding{AccountName: "ghost", LocationName: "library", Enabled: true})

	fc := &fakeClient{discoverTargets: [][]string{{"501"}}, outcomes: []string{"签到成功"}}
	n := &fakeNotifier{}
	e, waits := newTestEngine(src, n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))

	// A misconfigured binding is reported but does not trigger a retry pass.
	assert.Empty(t, *waits)
	require.Equal(t, 1, n.count())
	assert.Contains(t, n.reports[0], "任务配置错误")
	assert.Contains(t, n.reports[0], "ghost")
	assert.Contains(t, n.reports[0], "✅")
}

func TestRunSkipsMalformedCookieWithoutReportLine(t *testing.T) {
	src := oneBindingSource()
	n := &fakeNotifier{}
	e, waits := newTestEngine(src, n, func(string, string) (Client, error) {
		return nil, fmt.Errorf("parse: %w", portal.ErrMalformedCookie)
	})

	require.NoError(t, e.Run(context.Background()))

	assert.Zero(t, n.count())
	assert.Empty(t, *waits)
}

func TestRunUsesDisplayNameInReport(t *testing.T) {
	fc := &fakeClient{display: "张三", discoverTargets: [][]string{{"501"}}, outcomes: []string{"签到成功"}}
	n := &fakeNotifier{}
	e, _ := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, 1, n.count())
	assert.Contains(t, n.reports[0], "alice <张三>")
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeClient{discoverTargets: [][]string{{"501"}}, outcomes: []string{"签到失败"}}
	n := &fakeNotifier{}
	e, _ := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })
	e.wait = func(ctx context.Context, _ time.Duration) error {
		close(started)
		<-release
		return nil
	}
	e.RetryWaits = []time.Duration{time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	<-started
	state, _ := e.Snapshot()
	assert.Equal(t, StateAwaitingRetry, state)
	assert.ErrorIs(t, e.Run(context.Background()), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	state, _ = e.Snapshot()
	assert.Equal(t, StateIdle, state)
}

func TestRunHonorsCancellationDuringWait(t *testing.T) {
	fc := &fakeClient{discoverTargets: [][]string{{"501"}}, outcomes: []string{"签到失败"}}
	n := &fakeNotifier{}
	e, _ := newTestEngine(oneBindingSource(), n, func(string, string) (Client, error) { return fc, nil })
	e.wait = nil
	e.RetryWaits = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		state, _ := e.Snapshot()
		return state == StateAwaitingRetry
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

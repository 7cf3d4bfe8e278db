// Package checkin is the orchestration engine: it walks the enabled task
// bindings, drives one portal session per account, classifies submission
// outcomes and re-runs failing passes on a bounded backoff schedule.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/punch-scheduler/internal/geo"
	"github.com/example/punch-scheduler/internal/portal"
	"github.com/example/punch-scheduler/internal/store"
)

// ConfigSource is the read half of the store contract. The engine never
// mutates configuration.
type ConfigSource interface {
	Accounts(ctx context.Context) ([]store.Account, error)
	Locations(ctx context.Context) ([]store.Location, error)
	TaskBindings(ctx context.Context) ([]store.TaskBinding, error)
	Settings(ctx context.Context) (store.Settings, error)
}

// Client is one authenticated portal session for one account.
type Client interface {
	DisplayName() string
	DiscoverPending(ctx context.Context) ([]string, error)
	Submit(ctx context.Context, targetID string, lat, lng, acc float64, password string) string
}

// ClientFactory builds a session for (courseID, cookie). It fails with
// portal.ErrMalformedCookie when the cookie lacks the credential fragment.
type ClientFactory func(courseID, cookie string) (Client, error)

// Notifier delivers a pass report, best-effort.
type Notifier interface {
	Dispatch(ctx context.Context, settings store.Settings, content string)
}

// State is the engine's externally visible position in the retry state
// machine.
type State string

const (
	StateIdle          State = "idle"
	StateRunningPass   State = "running_pass"
	StateAwaitingRetry State = "awaiting_retry"
)

// ErrBusy is returned when Run is invoked while a run is already in flight.
// Bindings are processed strictly sequentially; there is never a second
// concurrent run.
var ErrBusy = errors.New("checkin: a run is already in progress")

// RunSummary describes the most recent run for the status surface.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Passes      int       `json:"passes"`
	ReportLines int       `json:"report_lines"`
	NeedsRetry  bool      `json:"needs_retry"`
}

// Engine runs check-in passes. Zero value is not usable; fill the exported
// fields and leave the rest alone.
type Engine struct {
	Source    ConfigSource
	Notifier  Notifier
	NewClient ClientFactory
	Log       *logrus.Entry

	// RetryWaits are the pauses before each retry pass. Defaults to
	// 5 minutes then 15 minutes; a run is therefore at most three passes.
	RetryWaits []time.Duration

	// wait is swapped out by tests.
	wait func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
	last  *RunSummary
}

var defaultRetryWaits = []time.Duration{5 * time.Minute, 15 * time.Minute}

type clientKey struct {
	cookie   string
	courseID string
}

type clientEntry struct {
	client Client
	err    error
}

type discovery struct {
	targets []string
	err     error
}

// Run executes one full check-in job: a pass over all enabled bindings,
// plus up to two retry passes while failures remain. It blocks for the
// duration, honoring ctx between bindings and during retry waits. The only
// errors it returns are a broken config source and cancellation; per-binding
// failures surface through the report.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != "" && e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = StateRunningPass
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}
	e.last = summary
	e.mu.Unlock()

	defer e.setState(StateIdle)

	log := e.Log.WithField("run_id", summary.RunID)
	log.Info("check-in run started")

	waits := e.RetryWaits
	if waits == nil {
		waits = defaultRetryWaits
	}
	waitFn := e.wait
	if waitFn == nil {
		waitFn = sleepCtx
	}

	// Sessions are cached for the whole run: a retry pass reuses the same
	// authenticated client, but re-queries discovery from scratch.
	clients := make(map[clientKey]clientEntry)

	for pass := 1; ; pass++ {
		passLog := log.WithField("pass", pass)
		rep, needsRetry, err := e.runPass(ctx, passLog, clients)

		e.mu.Lock()
		summary.Passes = pass
		summary.ReportLines += len(rep.Lines())
		summary.NeedsRetry = needsRetry
		e.mu.Unlock()

		if err != nil {
			e.finish(summary)
			return err
		}

		if !rep.Empty() {
			settings, serr := e.Source.Settings(ctx)
			if serr != nil {
				passLog.WithError(serr).Warn("cannot load notification settings, report not sent")
			} else {
				e.Notifier.Dispatch(ctx, settings, rep.String())
			}
		}

		if !needsRetry {
			passLog.Info("pass completed without failures")
			e.finish(summary)
			return nil
		}
		if pass > len(waits) {
			log.Warn("gave up after final retry pass, some check-ins still failing")
			e.finish(summary)
			return nil
		}

		d := waits[pass-1]
		passLog.WithField("wait", d.String()).Info("failures detected, scheduling retry pass")
		e.setState(StateAwaitingRetry)
		if werr := waitFn(ctx, d); werr != nil {
			e.finish(summary)
			return werr
		}
		e.setState(StateRunningPass)
	}
}

// runPass iterates all enabled bindings once, in order.
func (e *Engine) runPass(ctx context.Context, log *logrus.Entry, clients map[clientKey]clientEntry) (*Report, bool, error) {
	rep := &Report{}
	needsRetry := false

	accounts, err := e.Source.Accounts(ctx)
	if err != nil {
		return rep, false, fmt.Errorf("load accounts: %w", err)
	}
	locations, err := e.Source.Locations(ctx)
	if err != nil {
		return rep, false, fmt.Errorf("load locations: %w", err)
	}
	bindings, err := e.Source.TaskBindings(ctx)
	if err != nil {
		return rep, false, fmt.Errorf("load task bindings: %w", err)
	}

	accByName := make(map[string]store.Account, len(accounts))
	for _, a := range accounts {
		accByName[a.Name] = a
	}
	locByName := make(map[string]store.Location, len(locations))
	for _, l := range locations {
		locByName[l.Name] = l
	}

	// Discovery is performed at most once per account per pass; later
	// bindings sharing the account see the already-consumed result.
	discovered := make(map[clientKey]*discovery)
	invalidReported := make(map[clientKey]bool)

	for _, t := range bindings {
		if err := ctx.Err(); err != nil {
			return rep, needsRetry, err
		}
		if !t.Enabled {
			continue
		}

		acct, okA := accByName[t.AccountName]
		loc, okL := locByName[t.LocationName]
		if !okA || !okL {
			log.WithFields(logrus.Fields{"account": t.AccountName, "location": t.LocationName}).
				Warn("binding references unknown account or location")
			rep.Add(fmt.Sprintf("⚠️ 任务配置错误: 账号[%s] 或 地点[%s] 不存在", t.AccountName, t.LocationName))
			continue
		}

		key := clientKey{cookie: acct.Cookie, courseID: acct.CourseID}
		entry, ok := clients[key]
		if !ok {
			c, cerr := e.NewClient(acct.CourseID, acct.Cookie)
			entry = clientEntry{client: c, err: cerr}
			clients[key] = entry
		}
		if entry.err != nil {
			if errors.Is(entry.err, portal.ErrMalformedCookie) {
				log.WithField("account", acct.Name).Warn("cookie malformed, account skipped")
			} else {
				log.WithField("account", acct.Name).WithError(entry.err).Warn("cannot build portal session, account skipped")
			}
			continue
		}
		label := accountLabel(acct, entry.client)

		disc, ok := discovered[key]
		if !ok {
			targets, derr := entry.client.DiscoverPending(ctx)
			disc = &discovery{targets: targets, err: derr}
			discovered[key] = disc

			switch {
			case errors.Is(derr, portal.ErrSessionInvalid):
				log.WithField("account", acct.Name).Warn("session invalid")
				if !invalidReported[key] {
					invalidReported[key] = true
					rep.Add(fmt.Sprintf("❌ %s: 登录失效，请重新获取Cookie", label))
				}
				// A stale session will not heal on its own, but retrying is
				// the lesser evil versus silently dropping the account.
				needsRetry = true
			case derr != nil:
				log.WithField("account", acct.Name).WithError(derr).Warn("discovery failed")
				rep.Add(fmt.Sprintf("❌ %s: 获取签到列表失败: %v", label, derr))
				needsRetry = true
			case len(disc.targets) == 0:
				log.WithField("account", acct.Name).Debug("no pending check-ins")
			}
		}
		if disc.err != nil {
			continue
		}

		targets := disc.targets
		disc.targets = nil // consumed by this binding
		for _, target := range targets {
			lat, lng, acc := geo.Jitter(float64(loc.Lat), float64(loc.Lng), float64(loc.Acc))
			outcome := entry.client.Submit(ctx, target, lat, lng, acc, acct.Password)

			ok := strings.Contains(outcome, portal.SuccessPhrase)
			marker := "✅"
			if !ok {
				marker = "❌"
				needsRetry = true
			}
			log.WithFields(logrus.Fields{
				"account": acct.Name,
				"target":  target,
				"outcome": outcome,
			}).Info("check-in submitted")
			rep.Add(fmt.Sprintf("%s %s [%s]: %s", marker, label, target, outcome))
		}
	}

	return rep, needsRetry, nil
}

// Snapshot returns the current state and a copy of the latest run summary.
func (e *Engine) Snapshot() (State, *RunSummary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	if st == "" {
		st = StateIdle
	}
	if e.last == nil {
		return st, nil
	}
	cp := *e.last
	return st, &cp
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) finish(s *RunSummary) {
	e.mu.Lock()
	s.FinishedAt = time.Now()
	e.mu.Unlock()
}

func accountLabel(a store.Account, c Client) string {
	if dn := c.DisplayName(); dn != "" {
		return fmt.Sprintf("%s <%s>", a.Name, dn)
	}
	return a.Name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

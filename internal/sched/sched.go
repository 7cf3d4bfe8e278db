// Package sched hosts the daily check-in trigger on a cron engine. One run
// can legitimately occupy ~20 minutes of wall clock (two retry waits), so
// overlapping firings are skipped rather than queued.
package sched

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/example/punch-scheduler/internal/checkin"
)

var hhmmRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// CronSpec converts a "HH:MM" daily schedule into a standard cron spec.
func CronSpec(hhmm string) (string, error) {
	m := hhmmRe.FindStringSubmatch(hhmm)
	if m == nil {
		return "", fmt.Errorf("invalid schedule time %q (want HH:MM)", hhmm)
	}
	return fmt.Sprintf("%s %s * * *", trimZero(m[2]), trimZero(m[1])), nil
}

func trimZero(s string) string {
	if len(s) == 2 && s[0] == '0' {
		return s[1:]
	}
	return s
}

// Daily fires the engine every day at the configured time until ctx ends.
type Daily struct {
	engine *checkin.Engine
	log    *logrus.Entry
	cron   *cron.Cron
}

func NewDaily(engine *checkin.Engine, log *logrus.Entry) *Daily {
	return &Daily{
		engine: engine,
		log:    log,
		cron:   cron.New(cron.WithLocation(time.Local)),
	}
}

// Start registers the daily job and starts the cron engine. An empty hhmm
// means manual mode: nothing is scheduled, which is not an error.
func (d *Daily) Start(ctx context.Context, hhmm string) error {
	if hhmm == "" {
		d.log.Info("no schedule time configured, manual mode")
		return nil
	}
	spec, err := CronSpec(hhmm)
	if err != nil {
		return err
	}

	job := cron.FuncJob(func() {
		d.log.Info("scheduled check-in firing")
		if err := d.engine.Run(ctx); err != nil {
			d.log.WithError(err).Error("scheduled run failed")
		}
	})
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job)

	if _, err := d.cron.AddJob(spec, wrapped); err != nil {
		return err
	}
	d.cron.Start()
	d.log.WithField("at", hhmm).Info("daily check-in scheduled")
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (d *Daily) Stop() {
	<-d.cron.Stop().Done()
}

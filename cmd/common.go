package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/example/punch-scheduler/internal/checkin"
	"github.com/example/punch-scheduler/internal/config"
	"github.com/example/punch-scheduler/internal/crypto"
	"github.com/example/punch-scheduler/internal/notify"
	"github.com/example/punch-scheduler/internal/portal"
	"github.com/example/punch-scheduler/internal/store"
)

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Environment == "production" || cfg.Environment == "staging" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	var aead *crypto.AEAD
	if len(cfg.CredEncKey) > 0 {
		var err error
		if aead, err = crypto.New(cfg.CredEncKey); err != nil {
			return nil, err
		}
	}

	if cfg.StoreDriver == config.DriverPostgres {
		return store.OpenPostgres(ctx, cfg.DatabaseURL, aead)
	}
	return store.OpenFile(cfg.ConfigPath, aead)
}

func newEngine(cfg config.Config, st store.Store, log *logrus.Logger) *checkin.Engine {
	return &checkin.Engine{
		Source:   st,
		Notifier: notify.NewDispatcher(log.WithField("component", "notify")),
		NewClient: func(courseID, cookie string) (checkin.Client, error) {
			c, err := portal.NewClient(cfg.PortalBaseURL, courseID, cookie)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Log: log.WithField("component", "checkin"),
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

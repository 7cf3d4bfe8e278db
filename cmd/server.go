package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/auth"
	"github.com/example/punch-scheduler/internal/config"
	"github.com/example/punch-scheduler/internal/sched"
	"github.com/example/punch-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the daily scheduler + JSON admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.RequireSessionKeys(); err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			engine := newEngine(cfg, st, log)

			settings, err := st.Settings(ctx)
			if err != nil {
				return err
			}
			daily := sched.NewDaily(engine, log.WithField("component", "sched"))
			if err := daily.Start(ctx, settings.ScheduleTime); err != nil {
				return err
			}
			defer daily.Stop()

			ws := &web.Server{
				Auth:       auth.NewStore(st, cfg.SessionHashKey, cfg.SessionBlockKey),
				Engine:     engine,
				Log:        log.WithField("component", "web"),
				RunContext: ctx,
			}
			log.WithField("addr", cfg.HTTPAddr).Info("admin API listening")
			return web.Start(ctx, cfg.HTTPAddr, ws.Routes())
		},
	}
}

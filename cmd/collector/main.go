package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tg-collector/internal/infra/config"
	applog "tg-collector/internal/infra/log"
	"tg-collector/internal/infra/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	a := &app{}
	defer a.close()
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "collector:", err)
		a.close()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Сбор сообщений Telegram в документ Google Docs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = applog.NewLogger(applog.Options{AppEnv: cfg.AppEnv, Level: cfg.LogLevel, File: cfg.LogFile})
			return nil
		},
	}
	root.AddCommand(
		newRunCmd(a),
		newScheduleCmd(a),
		newHistoryCmd(a),
		newLoginCmd(a),
		newChatsCmd(a),
		newImportSessionCmd(a),
		newGoogleAuthCmd(a),
		newCheckCmd(a),
	)
	return root
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tg-collector/internal/domain"
	apphttp "tg-collector/internal/infra/http"
	"tg-collector/internal/usecase/pipeline"
	"tg-collector/internal/usecase/schedule"
)

func newRunCmd(a *app) *cobra.Command {
	var mode pipelineMode
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Однократный сбор, обработка и публикация",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := a.buildPipeline(cmd.Context(), mode)
			if err != nil {
				return err
			}
			report, err := svc.Run(cmd.Context(), runOptions(a, mode))
			printReport(cmd.OutOrStdout(), report, err)
			return err
		},
	}
	cmd.Flags().BoolVar(&mode.dryRun, "dry-run", false, "без вызова ИИ, публикации и изменения состояния")
	cmd.Flags().BoolVar(&mode.testMode, "test", false, "вызов ИИ без публикации и журнала")
	return cmd
}

func runOptions(a *app, mode pipelineMode) pipeline.Options {
	return pipeline.Options{
		RunID:    uuid.NewString(),
		DryRun:   mode.dryRun,
		TestMode: mode.testMode,
		Validate: a.cfg.Validate,
	}
}

func printReport(w io.Writer, report pipeline.Report, err error) {
	fmt.Fprintf(w, "Запуск %s: %s за %s\n", report.RunID, report.State, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Сообщений: %d, после фильтра: %d (короткие %d, по шаблону %d, без текста %d)\n",
		report.Total, report.Filtered, report.FilterStats.TooShort, report.FilterStats.PatternMatch, report.FilterStats.NoText)
	if len(report.SourceErrors) > 0 {
		ids := make([]string, 0, len(report.SourceErrors))
		for id := range report.SourceErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "Источник %s пропущен: %v\n", id, report.SourceErrors[id])
		}
	}
	if report.BackupPath != "" {
		fmt.Fprintf(w, "Локальная копия: %s\n", report.BackupPath)
	}
	if report.Document != nil {
		fmt.Fprintf(w, "Документ: %s\n", report.Document.URL)
	}
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		fmt.Fprintln(w, "Дневной лимит вызовов ИИ исчерпан, запуск пропущен")
	case err != nil:
		fmt.Fprintf(w, "Ошибка: %v\n", err)
	}
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Ежедневный запуск в EXECUTION_TIME по TIMEZONE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			at, err := schedule.ParseClock(a.cfg.ExecutionTime)
			if err != nil {
				return fmt.Errorf("%w: EXECUTION_TIME: %v", domain.ErrConfig, err)
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			svc, store, err := a.buildPipeline(ctx, pipelineMode{})
			if err != nil {
				return err
			}

			srv := apphttp.NewServer(a.log.With().Str("component", "http").Logger(), store.Ping)
			go func() {
				if err := srv.Start(a.cfg.MetricsAddr); err != nil {
					a.log.Error().Err(err).Msg("collector: HTTP сервер остановлен")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			run := func(ctx context.Context) error {
				report, err := svc.Run(ctx, runOptions(a, pipelineMode{}))
				printReport(os.Stdout, report, err)
				return err
			}
			return schedule.NewDaemon(at, loc, run, a.log.With().Str("component", "schedule").Logger()).Start(ctx)
		},
	}
}

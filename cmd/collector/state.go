package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tg-collector/internal/adapters/backup"
	"tg-collector/internal/domain"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		days    int
		backups int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Журнал запусков и курсоры источников",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			since := domain.DateOnly(time.Now().In(loc)).AddDate(0, 0, -days)
			runs, err := store.ListRecentRuns(ctx, since)
			if err != nil {
				return fmt.Errorf("чтение журнала: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Запуски за %d дн.\n", days)
			fmt.Fprintln(w, "ID\tДАТА\tСТАТУС\tВСЕГО\tПОСЛЕ ФИЛЬТРА\tТЕМЫ\tМС\tДОКУМЕНТ/ОШИБКА")
			for _, r := range runs {
				themes := "-"
				if r.ThemesExtracted != nil {
					themes = fmt.Sprint(*r.ThemesExtracted)
				}
				detail := r.DocumentURL
				if r.ErrorMessage != "" {
					detail = r.ErrorMessage
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
					r.ID, r.ExecutionDate.Format("2006-01-02"), r.Status, r.TotalMessages, r.FilteredMessages, themes, r.ProcessingTimeMS, detail)
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "(нет записей)")
			}

			cursors, err := store.ListCursors(ctx)
			if err != nil {
				return fmt.Errorf("чтение курсоров: %w", err)
			}
			fmt.Fprintln(w, "\nКурсоры")
			fmt.Fprintln(w, "ИСТОЧНИК\tИМЯ\tПОСЛЕДНИЙ ID\tОБНОВЛЁН")
			for _, c := range cursors {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.SourceID, c.DisplayName, c.LastSeenMessageID, c.UpdatedAt.In(loc).Format("2006-01-02 15:04"))
			}

			if backups > 0 {
				writer, err := backup.NewWriter(a.cfg.Backup.Dir, 0, a.log)
				if err != nil {
					return err
				}
				paths, err := writer.Recent(backups)
				if err != nil {
					return fmt.Errorf("чтение локальных копий: %w", err)
				}
				fmt.Fprintf(w, "\nЛокальные копии (%s)\n", a.cfg.Backup.Dir)
				for _, p := range paths {
					fmt.Fprintln(w, p)
				}
				if len(paths) == 0 {
					fmt.Fprintln(w, "(нет файлов)")
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "глубина журнала в днях")
	cmd.Flags().IntVar(&backups, "backups", 5, "сколько последних локальных копий показать")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tg-collector/internal/adapters/gdocs"
)

// checkTimeout предел одной проверки.
const checkTimeout = 30 * time.Second

type checkStep struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type checkResult struct {
	name   string
	detail string
	err    error
}

// runChecks выполняет проверки по очереди. Ошибка одной не останавливает остальные.
func runChecks(ctx context.Context, steps []checkStep) []checkResult {
	out := make([]checkResult, 0, len(steps))
	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		detail, err := step.run(stepCtx)
		cancel()
		out = append(out, checkResult{name: step.name, detail: detail, err: err})
	}
	return out
}

// printChecks печатает итог и возвращает число неудачных проверок.
func printChecks(w io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			fmt.Fprintf(w, "✗ %s: %v\n", r.name, r.err)
		case r.detail != "":
			fmt.Fprintf(w, "✓ %s: %s\n", r.name, r.detail)
		default:
			fmt.Fprintf(w, "✓ %s\n", r.name)
		}
	}
	fmt.Fprintf(w, "Пройдено %d из %d\n", len(results)-failed, len(results))
	return failed
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Проверка подключения к хранилищу, Telegram, модели и Google Docs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			results := runChecks(ctx, a.checkSteps())
			if failed := printChecks(cmd.OutOrStdout(), results); failed > 0 {
				return fmt.Errorf("не пройдено проверок: %d", failed)
			}
			return nil
		},
	}
}

func (a *app) checkSteps() []checkStep {
	var store stateStore
	return []checkStep{
		{name: "Хранилище состояния", run: func(ctx context.Context) (string, error) {
			s, err := a.openStore(ctx)
			if err != nil {
				return "", err
			}
			store = s
			return "", s.Ping(ctx)
		}},
		{name: "Telegram", run: func(ctx context.Context) (string, error) {
			if store == nil {
				return "", errors.New("нет хранилища сессии")
			}
			platform := a.platform(store, nil)
			if err := platform.Connect(ctx); err != nil {
				return "", err
			}
			if err := platform.Disconnect(); err != nil {
				return "", err
			}
			return "сессия " + a.cfg.Telegram.SessionName, nil
		}},
		{name: "Генеративная модель", run: func(ctx context.Context) (string, error) {
			t, err := a.transformer(ctx)
			if err != nil {
				return "", err
			}
			p, ok := t.(pinger)
			if !ok {
				return "клиент создан", nil
			}
			return a.cfg.AI.Provider, p.Ping(ctx)
		}},
		{name: "Google Docs", run: func(ctx context.Context) (string, error) {
			client, err := gdocs.HTTPClient(ctx, a.cfg.Google.CredentialsPath, a.cfg.Google.TokenPath)
			if err != nil {
				return "", err
			}
			host, err := gdocs.NewHost(ctx, client, a.log.With().Str("component", "gdocs").Logger())
			if err != nil {
				return "", err
			}
			if a.cfg.Google.DocumentID == "" {
				return "токен загружен", nil
			}
			title, err := host.Check(ctx, a.cfg.Google.DocumentID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("документ %q доступен", title), nil
		}},
	}
}

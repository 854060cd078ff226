package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tg-collector/internal/adapters/gdocs"
	"tg-collector/internal/adapters/mtproto"
	"tg-collector/internal/domain"
	"tg-collector/internal/infra/config"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Интерактивный вход в Telegram и сохранение сессии",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.Telegram.APIID == 0 || a.cfg.Telegram.APIHash == "" {
				return fmt.Errorf("%w: нужны TELEGRAM_API_ID и TELEGRAM_API_HASH", domain.ErrConfig)
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			platform := a.platform(store, nil)
			who, err := platform.Login(ctx, a.cfg.Telegram.Phone, linePrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Вход выполнен: %s, сессия %q сохранена\n", who, a.cfg.Telegram.SessionName)
			return nil
		},
	}
}

// sourceKeys приводит chat_id включённых источников к виду для сравнения с диалогами.
func sourceKeys(sources []domain.Source) map[string]bool {
	out := make(map[string]bool, len(sources))
	for _, src := range sources {
		out[sourceKey(src.ID)] = true
	}
	return out
}

func sourceKey(id string) string {
	id = strings.TrimSpace(id)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		id = strings.TrimPrefix(id, prefix)
	}
	return strings.ToLower(id)
}

func isConfigured(keys map[string]bool, p mtproto.Peer) bool {
	if keys[strconv.FormatInt(p.MarkedID(), 10)] {
		return true
	}
	return p.Username != "" && keys[strings.ToLower(p.Username)]
}

// linePrompter печатает вопрос и читает одну строку ответа.
func linePrompter(in io.Reader, out io.Writer) mtproto.Prompter {
	reader := bufio.NewReader(in)
	return mtproto.PrompterFunc(func(ctx context.Context, question string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(out, question)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	})
}

func newChatsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Список диалогов аккаунта с идентификаторами для target_chats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			platform := a.platform(store, a.openCache(ctx))
			if err := platform.Connect(ctx); err != nil {
				return err
			}
			defer func() {
				if err := platform.Disconnect(); err != nil {
					a.log.Warn().Err(err).Msg("collector: ошибка отключения")
				}
			}()

			dialogs, err := platform.Dialogs(ctx, limit)
			if err != nil {
				return err
			}
			var configured map[string]bool
			if file, err := config.LoadSources(a.cfg.SourcesFile); err != nil {
				a.log.Debug().Err(err).Msg("collector: файл источников не прочитан")
			} else {
				configured = sourceKeys(file.Enabled())
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT_ID\tТИП\tНАЗВАНИЕ\tИМЯ\tНЕПРОЧИТАНО\tСОБИРАЕТСЯ")
			for _, d := range dialogs {
				username := ""
				if d.Username != "" {
					username = "@" + d.Username
				}
				mark := ""
				if isConfigured(configured, d.Peer) {
					mark = "да"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", d.MarkedID(), d.Kind, d.Title, username, d.Unread, mark)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "сколько диалогов показать")
	return cmd
}

func newImportSessionCmd(a *app) *cobra.Command {
	var (
		file string
		name string
	)
	cmd := &cobra.Command{
		Use:   "import-session",
		Short: "Импорт готовой MTProto-сессии (gotd JSON или Telethon)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if file == "" {
				return fmt.Errorf("%w: укажите --file", domain.ErrConfig)
			}
			if name == "" {
				name = a.cfg.Telegram.SessionName
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("чтение файла сессии: %w", err)
			}
			data, converted, err := mtproto.NormalizeSession(raw)
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.StoreMTProtoSession(ctx, name, data); err != nil {
				return fmt.Errorf("сохранение сессии: %w", err)
			}
			if converted {
				fmt.Fprintln(cmd.OutOrStdout(), "Сессия сконвертирована в формат gotd")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Сессия %q сохранена (%d байт)\n", name, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "путь к файлу сессии")
	cmd.Flags().StringVar(&name, "name", "", "имя сессии (по умолчанию TELEGRAM_SESSION_NAME)")
	return cmd
}

func newGoogleAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "google-auth",
		Short: "Авторизация OAuth-клиента Google и сохранение токена",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := gdocs.Authorize(cmd.Context(), a.cfg.Google.CredentialsPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := gdocs.SaveToken(a.cfg.Google.TokenPath, tok); err != nil {
				return fmt.Errorf("сохранение токена: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Токен сохранён в %s\n", a.cfg.Google.TokenPath)
			return nil
		},
	}
}

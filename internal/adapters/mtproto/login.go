package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// Prompter запрашивает у оператора код и пароль.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// PrompterFunc адаптер функции к Prompter.
type PrompterFunc func(ctx context.Context, question string) (string, error)

// Ask реализует Prompter.
func (f PrompterFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// userAuth интерактивная авторизация по номеру телефона.
type userAuth struct {
	phone  string
	prompt Prompter
}

var _ auth.UserAuthenticator = userAuth{}

func (a userAuth) Phone(context.Context) (string, error) {
	if a.phone == "" {
		return "", errors.New("не задан TELEGRAM_PHONE_NUMBER")
	}
	return a.phone, nil
}

func (a userAuth) Password(ctx context.Context) (string, error) {
	pwd, err := a.prompt.Ask(ctx, "Пароль двухфакторной авторизации: ")
	return strings.TrimSpace(pwd), err
}

func (a userAuth) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	code, err := a.prompt.Ask(ctx, "Код из Telegram: ")
	return strings.TrimSpace(code), err
}

func (a userAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a userAuth) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("регистрация новых аккаунтов не поддерживается")
}

// Login проводит интерактивный вход и сохраняет сессию в StateStore.
// Возвращает имя авторизованного пользователя.
func (p *Platform) Login(ctx context.Context, phone string, prompt Prompter) (string, error) {
	client := p.newClient()
	var who string
	err := client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(userAuth{phone: phone, prompt: prompt}, auth.SendCodeOptions{})
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return err
		}
		self, err := client.Self(ctx)
		if err != nil {
			return err
		}
		who = userName(self)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("mtproto: вход: %w", err)
	}
	p.log.Info().Str("user", who).Msg("mtproto: сессия сохранена")
	return who, nil
}

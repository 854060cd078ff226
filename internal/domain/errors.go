package domain

import "errors"

var (
	// ErrConfig возвращается при неполной конфигурации.
	ErrConfig = errors.New("некорректная конфигурация")
	// ErrQuotaExceeded исчерпан дневной лимит вызовов ИИ.
	ErrQuotaExceeded = errors.New("дневной лимит вызовов ИИ исчерпан")
	// ErrConnection не удалось подключиться к платформе сообщений.
	ErrConnection = errors.New("нет подключения к платформе сообщений")
	// ErrNotAuthorized сессия платформы не авторизована.
	ErrNotAuthorized = errors.New("сессия не авторизована")
	// ErrTransformQuota модель отказала по квоте.
	ErrTransformQuota = errors.New("превышена квота генеративной модели")
	// ErrTransformAuth модель отказала в авторизации.
	ErrTransformAuth = errors.New("ошибка авторизации генеративной модели")
	// ErrCursorRegression попытка сдвинуть курсор назад.
	ErrCursorRegression = errors.New("курсор не может уменьшаться")
	// ErrSourceNotFound источник не найден на платформе.
	ErrSourceNotFound = errors.New("источник не найден")
)

package notify

import (
	"context"
	"errors"

	"tg-collector/internal/domain"
)

// Multi рассылает событие всем уведомителям и собирает ошибки.
type Multi []domain.RunNotifier

// NotifyRun реализует domain.RunNotifier.
func (m Multi) NotifyRun(ctx context.Context, entry domain.RunLogEntry) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyRun(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy описывает повтор операций с экспоненциальной задержкой.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Retryable решает, стоит ли повторять ошибку. если nil, повторяется любая.
	Retryable func(error) bool
}

// Default возвращает политику по умолчанию: 3 попытки, 1s, x2.
func Default(retryable func(error) bool) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, Retryable: retryable}
}

// Do выполняет op, повторяя её согласно политике. notify вызывается перед каждой паузой.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(attempt int, err error, wait time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Millisecond
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
}

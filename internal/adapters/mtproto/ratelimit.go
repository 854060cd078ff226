package mtproto

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-collector/internal/infra/metrics"
)

// maxFloodWait дольше этого FLOOD_WAIT не ждём и возвращаем ошибку.
const maxFloodWait = 5 * time.Minute

// rateLimiter ограничивает частоту всех RPC-вызовов клиента и переживает FLOOD_WAIT.
type rateLimiter struct {
	limiter *rate.Limiter
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(rps float64, log zerolog.Logger) *rateLimiter {
	if rps <= 0 {
		rps = 5
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
		sleep:   sleepCtx,
	}
}

var _ telegram.Middleware = (*rateLimiter)(nil)

// Handle реализует telegram.Middleware.
func (r *rateLimiter) Handle(next tg.Invoker) telegram.InvokeFunc {
	return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
		op := fmt.Sprintf("%T", input)
		for {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			start := time.Now()
			err := next.Invoke(ctx, input, output)
			metrics.ObserveNetworkRequest("mtproto", op, "telegram", start, err)
			d, ok := tgerr.AsFloodWait(err)
			if !ok {
				return err
			}
			if d > maxFloodWait {
				return err
			}
			r.log.Warn().Str("op", op).Dur("wait", d).Msg("mtproto: FLOOD_WAIT, ждём")
			if err := r.sleep(ctx, d+time.Second); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

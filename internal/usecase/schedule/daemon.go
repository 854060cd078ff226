package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidTime время запуска не в формате ЧЧ:ММ.
var ErrInvalidTime = errors.New("время запуска должно быть в формате ЧЧ:ММ")

// Clock время суток.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock разбирает "09:00".
func ParseClock(raw string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Clock{}, ErrInvalidTime
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, ErrInvalidTime
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, ErrInvalidTime
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Next возвращает ближайший момент строго после after в поясе loc.
func (c Clock) Next(after time.Time, loc *time.Location) time.Time {
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, c.Hour, c.Minute, 0, 0, loc)
	}
	return next
}

// Runner выполняет один запуск сбора.
type Runner func(ctx context.Context) error

// Daemon запускает Runner ежедневно в заданное время.
type Daemon struct {
	at    Clock
	loc   *time.Location
	run   Runner
	log   zerolog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDaemon создаёт планировщик.
func NewDaemon(at Clock, loc *time.Location, run Runner, log zerolog.Logger) *Daemon {
	return &Daemon{at: at, loc: loc, run: run, log: log, now: time.Now, sleep: sleep}
}

// Start ждёт ближайшего времени запуска и выполняет Runner, пока ctx не отменён.
// Запуски идут строго друг за другом, следующий слот считается от момента
// окончания предыдущего. Ошибки запуска логируются и не останавливают планировщик.
func (d *Daemon) Start(ctx context.Context) error {
	d.log.Info().Str("at", d.at.String()).Str("tz", d.loc.String()).Msg("schedule: планировщик запущен")
	for {
		next := d.at.Next(d.now(), d.loc)
		d.log.Info().Time("next", next).Msg("schedule: следующий запуск")
		if err := d.sleep(ctx, next.Sub(d.now())); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.log.Info().Msg("schedule: остановлен")
				return nil
			}
			return err
		}

		if err := d.run(ctx); err != nil {
			d.log.Error().Err(err).Time("slot", next).Msg("schedule: запуск завершился ошибкой")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

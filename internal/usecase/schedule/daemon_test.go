package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock(" 09:05 ")
	if err != nil || c != (Clock{Hour: 9, Minute: 5}) || c.String() != "09:05" {
		t.Fatalf("неожиданный разбор: %+v %v", c, err)
	}
	for _, raw := range []string{"", "9", "24:00", "12:60", "aa:bb", "-1:10"} {
		if _, err := ParseClock(raw); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("%q: ожидали ErrInvalidTime, получили %v", raw, err)
		}
	}
}

func TestClockNext(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("нет базы часовых поясов: %v", err)
	}
	at := Clock{Hour: 9}

	// 23:30 UTC = 08:30 следующего дня в Токио.
	before := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	if got, want := at.Next(before, tokyo), time.Date(2026, 10, 19, 9, 0, 0, 0, tokyo); !got.Equal(want) {
		t.Fatalf("ожидали %s, получили %s", want, got)
	}

	exact := time.Date(2026, 10, 19, 9, 0, 0, 0, tokyo)
	if got, want := at.Next(exact, tokyo), time.Date(2026, 10, 20, 9, 0, 0, 0, tokyo); !got.Equal(want) {
		t.Fatalf("ровно в момент запуска следующий через сутки: %s", got)
	}
}

type fakeTime struct {
	now time.Time
}

func TestDaemonRunsDailyUntilCancelled(t *testing.T) {
	clock := &fakeTime{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	run := func(context.Context) error {
		runs = append(runs, clock.now)
		if len(runs) == 1 {
			return errors.New("сбой первого запуска")
		}
		if len(runs) == 3 {
			cancel()
		}
		return nil
	}

	d := NewDaemon(Clock{Hour: 9}, time.UTC, run, zerolog.Nop())
	d.now = func() time.Time { return clock.now }
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.now = clock.now.Add(dur)
		return nil
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC),
	}
	if len(runs) != len(want) {
		t.Fatalf("ожидали %d запуска, получили %d", len(want), len(runs))
	}
	for i := range want {
		if !runs[i].Equal(want[i]) {
			t.Fatalf("запуск %d: ожидали %s, получили %s", i, want[i], runs[i])
		}
	}
}

func TestDaemonLongRunSkipsMissedSlot(t *testing.T) {
	clock := &fakeTime{now: time.Date(2026, 10, 19, 8, 59, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	run := func(context.Context) error {
		runs = append(runs, clock.now)
		if len(runs) == 2 {
			cancel()
			return nil
		}
		// Первый запуск затягивается дольше суток.
		clock.now = clock.now.Add(25 * time.Hour)
		return nil
	}

	d := NewDaemon(Clock{Hour: 9}, time.UTC, run, zerolog.Nop())
	d.now = func() time.Time { return clock.now }
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.now = clock.now.Add(dur)
		return nil
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC),
	}
	if len(runs) != len(want) {
		t.Fatalf("ожидали %d запуска, получили %d", len(want), len(runs))
	}
	for i := range want {
		if !runs[i].Equal(want[i]) {
			t.Fatalf("запуск %d: ожидали %s, получили %s", i, want[i], runs[i])
		}
	}
}

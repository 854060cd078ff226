package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
)

type scriptedInvoker struct {
	errs  []error
	calls int
}

func (s *scriptedInvoker) Invoke(context.Context, bin.Encoder, bin.Decoder) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestLimiter(slept *[]time.Duration) *rateLimiter {
	r := newRateLimiter(1000, zerolog.Nop())
	r.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return r
}

func TestRateLimiterWaitsOnFloodWait(t *testing.T) {
	var slept []time.Duration
	next := &scriptedInvoker{errs: []error{tgerr.New(420, "FLOOD_WAIT_3")}}

	err := newTestLimiter(&slept).Handle(next)(context.Background(), &tg.HelpGetConfigRequest{}, &tg.Config{})
	if err != nil {
		t.Fatalf("ожидали успех после ожидания, получили %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("ожидали повтор вызова, вызовов: %d", next.calls)
	}
	if len(slept) != 1 || slept[0] != 4*time.Second {
		t.Fatalf("неожиданные паузы: %v", slept)
	}
}

func TestRateLimiterGivesUpOnLongFloodWait(t *testing.T) {
	var slept []time.Duration
	next := &scriptedInvoker{errs: []error{tgerr.New(420, "FLOOD_WAIT_3600")}}

	err := newTestLimiter(&slept).Handle(next)(context.Background(), &tg.HelpGetConfigRequest{}, &tg.Config{})
	if _, ok := tgerr.AsFloodWait(err); !ok {
		t.Fatalf("ожидали FLOOD_WAIT, получили %v", err)
	}
	if len(slept) != 0 || next.calls != 1 {
		t.Fatalf("длинное ожидание не должно выполняться: паузы %v, вызовы %d", slept, next.calls)
	}
}

func TestRateLimiterPassesOtherErrors(t *testing.T) {
	var slept []time.Duration
	boom := errors.New("boom")
	next := &scriptedInvoker{errs: []error{boom}}

	err := newTestLimiter(&slept).Handle(next)(context.Background(), &tg.HelpGetConfigRequest{}, &tg.Config{})
	if !errors.Is(err, boom) || next.calls != 1 {
		t.Fatalf("ожидали исходную ошибку без повтора: %v, вызовов %d", err, next.calls)
	}
}

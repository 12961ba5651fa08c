package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ch3fx/internal/exchange"
)

type fakeEngine struct {
	last      string
	ticks     int
	dividends int
	decays    int
	fail      error
}

func (f *fakeEngine) Tick(context.Context, time.Time) (exchange.TickReport, error) {
	f.ticks++
	return exchange.TickReport{}, f.fail
}

func (f *fakeEngine) DistributeDividends(_ context.Context, now time.Time) (exchange.DividendReport, error) {
	f.dividends++
	f.last = f.Today(now)
	return exchange.DividendReport{Date: f.last, Totals: map[string]decimal.Decimal{}}, f.fail
}

func (f *fakeEngine) LastDividendDate(context.Context) (string, error) { return f.last, nil }

func (f *fakeEngine) ApplyDecay(context.Context, time.Time) ([]exchange.DecayChange, error) {
	f.decays++
	return nil, f.fail
}

func (f *fakeEngine) Today(now time.Time) string { return now.UTC().Format("2006-01-02") }

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(&fakeEngine{}, time.UTC, Schedules{Tick: "every now and then"}, nil)
	if err == nil {
		t.Fatalf("expected invalid cron spec to fail")
	}
	if _, err := New(&fakeEngine{}, time.UTC, Schedules{Tick: "@every 45m", Dividends: "5 0 * * *", Decay: "@every 6h"}, nil); err != nil {
		t.Fatalf("default specs must parse: %v", err)
	}
}

func TestDividendsRunOncePerDay(t *testing.T) {
	eng := &fakeEngine{}
	s, err := New(eng, time.UTC, Schedules{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day }

	ran, err := s.RunDividends(context.Background())
	if err != nil || !ran {
		t.Fatalf("first run: %v %v", ran, err)
	}
	ran, err = s.RunDividends(context.Background())
	if err != nil || ran {
		t.Fatalf("second run on the same day must skip: %v %v", ran, err)
	}
	s.now = func() time.Time { return day.Add(24 * time.Hour) }
	if ran, _ := s.RunDividends(context.Background()); !ran {
		t.Fatalf("next day must run")
	}
	if eng.dividends != 2 {
		t.Fatalf("expected two distributions, got %d", eng.dividends)
	}
}

func TestTickAndDecayPropagateErrors(t *testing.T) {
	eng := &fakeEngine{fail: errors.New("store down")}
	s, err := New(eng, time.UTC, Schedules{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.RunTick(context.Background()); err == nil {
		t.Fatalf("expected tick error")
	}
	if err := s.RunDecay(context.Background()); err == nil {
		t.Fatalf("expected decay error")
	}
	if eng.ticks != 1 || eng.decays != 1 {
		t.Fatalf("jobs not invoked: %+v", eng)
	}
}

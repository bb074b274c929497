package scheduler

import (
	"testing"
	"time"
)

func TestOnceNextRunAlwaysReturnsAt(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Once(at)

	for _, base := range []time.Time{
		at.Add(-time.Hour),
		at,
		at.Add(time.Hour),
	} {
		got, err := s.NextRun(base)
		if err != nil {
			t.Fatalf("NextRun(%v): %v", base, err)
		}
		if !got.Equal(at) {
			t.Errorf("NextRun(%v) = %v, want %v", base, got, at)
		}
	}
}

func TestOnceValidateRejectsZeroTime(t *testing.T) {
	if err := (Schedule{Kind: ScheduleOnce}).Validate(); err == nil {
		t.Fatal("expected error for zero 'at' time")
	}
}

func TestIntervalNextRunIsAlwaysStrictlyAfterBase(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 10 * time.Second
	s := Interval(period, start)

	cases := []time.Time{
		start.Add(-time.Second), // before start
		start,                   // exactly at start
		start.Add(3 * time.Second),
		start.Add(10 * time.Second), // exact multiple
		start.Add(23 * time.Second),
	}

	for _, base := range cases {
		next, err := s.NextRun(base)
		if err != nil {
			t.Fatalf("NextRun(%v): %v", base, err)
		}
		if !next.After(base) {
			t.Errorf("NextRun(%v) = %v, want strictly after base", base, next)
		}
		if d := next.Sub(start); d%period != 0 {
			t.Errorf("NextRun(%v) = %v is not start+k*period (offset %v)", base, next, d)
		}
	}
}

func TestIntervalNextRunBeforeStartReturnsStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Interval(time.Minute, start)

	got, err := s.NextRun(start.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(start) {
		t.Errorf("NextRun before start = %v, want %v", got, start)
	}
}

func TestIntervalValidateRejectsNonPositivePeriod(t *testing.T) {
	if err := Interval(0, time.Now()).Validate(); err == nil {
		t.Fatal("expected error for zero period")
	}
	if err := Interval(-time.Second, time.Now()).Validate(); err == nil {
		t.Fatal("expected error for negative period")
	}
}

func TestCronNextRunMatchesEveryMinuteBoundary(t *testing.T) {
	s := Cron("0 * * * * *") // fire every minute on the :00 second

	base := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next, err := s.NextRun(base)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestCronValidateRejectsMalformedExpression(t *testing.T) {
	if err := Cron("not a cron expression").Validate(); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestUnknownScheduleKindIsRejected(t *testing.T) {
	s := Schedule{Kind: "bogus"}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for unknown schedule kind")
	}
	if _, err := s.NextRun(time.Now()); err == nil {
		t.Fatal("expected error for unknown schedule kind")
	}
}

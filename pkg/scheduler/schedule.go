package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"vkteamsbot/internal/coreerr"
)

// ScheduleKind discriminates a Schedule's variant.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
)

// cronParser parses the 6-field (seconds, minutes, hours, day-of-month,
// month, day-of-week) cron expressions spec §3 requires. robfig/cron/v3 is
// the cron package the wider example corpus (compozy, alekspetrov-pilot)
// reaches for; the teacher itself carries no cron dependency.
//
//nolint:gochecknoglobals // stateless, safe for concurrent Parse calls
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is the tagged union of ScheduleType (spec §3): exactly one of
// Once(at), Cron(expression), or Interval{period, start}.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At is populated when Kind == ScheduleOnce.
	At time.Time `json:"at,omitempty"`

	// Expr is populated when Kind == ScheduleCron.
	Expr string `json:"expr,omitempty"`

	// Period and Start are populated when Kind == ScheduleInterval.
	Period time.Duration `json:"period,omitempty"`
	Start  time.Time     `json:"start,omitempty"`
}

// Once builds a one-shot schedule firing at t.
func Once(t time.Time) Schedule {
	return Schedule{Kind: ScheduleOnce, At: t}
}

// Cron builds a schedule firing at each match of a 6-field cron expression.
func Cron(expr string) Schedule {
	return Schedule{Kind: ScheduleCron, Expr: expr}
}

// Interval builds a schedule firing every period starting at start.
func Interval(period time.Duration, start time.Time) Schedule {
	return Schedule{Kind: ScheduleInterval, Period: period, Start: start}
}

// Validate parses/checks the schedule eagerly, so Store.Add can fail fast
// with InvalidSchedule (spec §4.3) rather than at first NextRun call.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleOnce:
		if s.At.IsZero() {
			return coreerr.Wrap(coreerr.InvalidInput, "once schedule requires a non-zero 'at' time", coreerr.ErrInvalidSchedule)
		}
		return nil
	case ScheduleCron:
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return coreerr.Wrap(coreerr.InvalidInput, fmt.Sprintf("invalid cron expression %q: %v", s.Expr, err), coreerr.ErrInvalidSchedule)
		}
		return nil
	case ScheduleInterval:
		if s.Period <= 0 {
			return coreerr.Wrap(coreerr.InvalidInput, "interval schedule requires a positive period", coreerr.ErrInvalidSchedule)
		}
		return nil
	default:
		return coreerr.Wrap(coreerr.InvalidInput, fmt.Sprintf("unknown schedule kind %q", s.Kind), coreerr.ErrInvalidSchedule)
	}
}

// NextRun computes the schedule's next-fire time strictly after base (spec §4.3):
//   - Once(t)            -> t
//   - Cron(expr)          -> first match strictly greater than base
//   - Interval{p, s}      -> s + ceil(max(0, base-s)/p + 1) * p  when base >= s; else s
//
// For Once, NextRun always returns At regardless of base: a one-shot task
// fires exactly once at its configured instant, then the store disables it.
func (s Schedule) NextRun(base time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleOnce:
		return s.At, nil

	case ScheduleCron:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, coreerr.Wrap(coreerr.InvalidInput, fmt.Sprintf("invalid cron expression %q: %v", s.Expr, err), coreerr.ErrInvalidSchedule)
		}
		return sched.Next(base), nil

	case ScheduleInterval:
		if s.Period <= 0 {
			return time.Time{}, coreerr.Wrap(coreerr.InvalidInput, "interval schedule requires a positive period", coreerr.ErrInvalidSchedule)
		}
		if base.Before(s.Start) {
			return s.Start, nil
		}
		elapsed := base.Sub(s.Start)
		q := int64(elapsed / s.Period)
		if elapsed%s.Period != 0 {
			q++ // ceil(elapsed/period)
		}
		n := q + 1 // spec §4.3: s + ceil(max(0,now-s)/p + 1)*p
		return s.Start.Add(time.Duration(n) * s.Period), nil

	default:
		return time.Time{}, coreerr.Wrap(coreerr.InvalidInput, fmt.Sprintf("unknown schedule kind %q", s.Kind), coreerr.ErrInvalidSchedule)
	}
}

// Package schedule is the store of due work: one row per "run job J once
// timestamp T has passed", consumed by the dispatch loop.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/dispatchd/errors"
)

// Entry is one schedule row.
type Entry struct {
	ID     int64
	JobRef int64
	After  time.Time
}

// Interval codes as stored on run templates.
const (
	IntervalYearly   = "y"
	IntervalMonthly  = "m"
	IntervalWeekly   = "w"
	IntervalDaily    = "d"
	IntervalHourly   = "h"
	IntervalMinutely = "i"
	IntervalDisabled = "n"
)

// IntervalCron maps interval codes to five-field cron expressions.
// Disabled maps to the empty expression.
var IntervalCron = map[string]string{
	IntervalYearly:   "0 0 1 1 *",
	IntervalMonthly:  "0 0 1 * *",
	IntervalWeekly:   "0 0 * * 0",
	IntervalDaily:    "0 0 * * *",
	IntervalHourly:   "0 * * * *",
	IntervalMinutely: "* * * * *",
	IntervalDisabled: "",
}

// ErrIntervalDisabled is returned by NextRun for the disabled code.
var ErrIntervalDisabled = errors.New("interval disabled")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the first fire time of an interval code strictly after from.
func NextRun(code string, from time.Time) (time.Time, error) {
	expr, ok := IntervalCron[code]
	if !ok {
		return time.Time{}, errors.Newf("unknown interval code %q", code)
	}
	if expr == "" {
		return time.Time{}, ErrIntervalDisabled
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse cron %q", expr)
	}
	return sched.Next(from), nil
}

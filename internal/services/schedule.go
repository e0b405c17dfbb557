// Package services holds the scheduling, synchronization, savings and
// reconciliation logic. Everything in this package is a pure function over
// its inputs except ObligationService, which orchestrates the repository.
package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"scadenze/internal/core"
)

// BusinessDayProvider answers whether a date is a business day. The default
// implementation only knows about weekends; hosts with a holiday calendar
// supply their own.
type BusinessDayProvider interface {
	IsBusinessDay(d core.Date) bool
}

// WeekendCalendar treats Monday through Friday as business days.
type WeekendCalendar struct{}

func (WeekendCalendar) IsBusinessDay(d core.Date) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AdjustmentFunc rolls a date onto a business day according to one policy.
type AdjustmentFunc func(d core.Date, cal BusinessDayProvider) core.Date

// adjustmentStrategies maps each policy to its roll direction. New policies
// can be registered without touching the generator.
var adjustmentStrategies = map[core.AdjustmentPolicy]AdjustmentFunc{
	core.AdjustNone: func(d core.Date, _ BusinessDayProvider) core.Date { return d },
	core.AdjustPreviousBusinessDay: func(d core.Date, cal BusinessDayProvider) core.Date {
		for !cal.IsBusinessDay(d) {
			d = core.Date{Time: d.AddDate(0, 0, -1)}
		}
		return d
	},
	core.AdjustNextBusinessDay: func(d core.Date, cal BusinessDayProvider) core.Date {
		for !cal.IsBusinessDay(d) {
			d = core.Date{Time: d.AddDate(0, 0, 1)}
		}
		return d
	},
}

// RegisterAdjustment registers a custom date-adjustment policy.
func RegisterAdjustment(policy core.AdjustmentPolicy, fn AdjustmentFunc) {
	adjustmentStrategies[policy] = fn
}

const dayPatternPrefix = "day:"

// applyDayPattern replaces the day component of d according to the
// definition's override pattern. "day:<n>" pins a fixed day (clamped to the
// month length), "lastBusinessDay" picks the final business day of the month.
func applyDayPattern(d core.Date, pattern string, cal BusinessDayProvider) (core.Date, error) {
	switch {
	case pattern == "":
		return d, nil
	case pattern == "lastBusinessDay":
		last := d.AddMonths(1)
		last = core.NewDate(last.Year(), int(last.Month()), 1)
		last = core.Date{Time: last.AddDate(0, 0, -1)}
		for !cal.IsBusinessDay(last) {
			last = core.Date{Time: last.AddDate(0, 0, -1)}
		}
		return last, nil
	case strings.HasPrefix(pattern, dayPatternPrefix):
		day, err := strconv.Atoi(strings.TrimPrefix(pattern, dayPatternPrefix))
		if err != nil || day < 1 || day > 31 {
			return d, fmt.Errorf("invalid day pattern %q", pattern)
		}
		lastDay := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		if day > lastDay {
			day = lastDay
		}
		return core.NewDate(d.Year(), int(d.Month()), day), nil
	default:
		return d, fmt.Errorf("unknown day pattern %q", pattern)
	}
}

// GenerateSchedule forecasts the (date, amount) targets of def from seed up
// to reference plus horizonMonths. Dates are stepped by the recurrence
// interval from the seed, then the day-of-month pattern and the business-day
// policy are applied, in that order. The expected amount never escalates.
func GenerateSchedule(def core.Definition, seed, reference core.Date, horizonMonths int, cal BusinessDayProvider) ([]core.ScheduleTarget, error) {
	if def.IntervalMonths <= 0 {
		return nil, core.ErrInvalidRecurrence
	}
	if horizonMonths < 0 {
		return nil, core.ErrInvalidHorizon
	}
	if cal == nil {
		cal = WeekendCalendar{}
	}

	policy := def.Adjustment
	if policy == "" {
		policy = core.AdjustNone
	}
	adjust, ok := adjustmentStrategies[policy]
	if !ok {
		return nil, fmt.Errorf("unknown date adjustment policy %q", policy)
	}

	limit := reference.AddMonths(horizonMonths)

	var targets []core.ScheduleTarget
	// Step k*interval from the seed instead of re-adding the interval to
	// the previous (possibly clamped) date, so a Jan 31 anchor does not
	// drift to the 28th forever after one February.
	for k := 0; ; k++ {
		d := seed.AddMonths(k * def.IntervalMonths)
		if d.After(limit.Time) {
			break
		}
		patterned, err := applyDayPattern(d, def.DayPattern, cal)
		if err != nil {
			return nil, fmt.Errorf("apply day pattern: %w", err)
		}
		targets = append(targets, core.ScheduleTarget{
			ScheduledDate:  adjust(patterned, cal),
			ExpectedAmount: def.Amount,
		})
	}

	return targets, nil
}

// ResolveStatus computes the default lifecycle status of a target date: a
// date on or before reference plus the lead time resolves to saving,
// anything further out is planned. Compared at day granularity in UTC.
// Completed and cancelled are never produced here; those are entered only
// through explicit reconciliation actions.
func ResolveStatus(scheduled, reference core.Date, leadTimeMonths int) core.OccurrenceStatus {
	boundary := reference.AddMonths(leadTimeMonths)
	if scheduled.SameDay(boundary) || scheduled.Before(boundary.Time) {
		return core.StatusSaving
	}
	return core.StatusPlanned
}

// SeedDate selects the anchor for schedule generation: the date of the most
// recently completed occurrence advanced by one interval, or the
// definition's first occurrence date when nothing completed yet. A completed
// occurrence counts by its actual date when recorded, its scheduled date
// otherwise; ties go to the later insert.
func SeedDate(def core.Definition, occurrences []core.Occurrence) core.Date {
	var (
		found  bool
		latest core.Date
		id     int64
	)
	for _, o := range occurrences {
		if o.Status != core.StatusCompleted {
			continue
		}
		d := o.ScheduledDate
		if o.ActualDate != nil {
			d = *o.ActualDate
		}
		if !found || d.After(latest.Time) || (d.SameDay(latest) && o.ID > id) {
			found, latest, id = true, d, o.ID
		}
	}
	if !found {
		return def.FirstOccurrence
	}
	return latest.AddMonths(def.IntervalMonths)
}

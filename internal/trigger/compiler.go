// Package trigger compiles workflow recurrence rules into cron-style trigger
// expressions with an optional year field.
package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"content-pipeline-scheduler/internal/models"
)

// ErrInvalidRecurrence is returned for recurrence rules that cannot be scheduled.
var ErrInvalidRecurrence = errors.New("invalid recurrence rule")

var weekdayCodes = map[int]string{
	1: "MON",
	2: "TUE",
	3: "WED",
	4: "THU",
	5: "FRI",
	6: "SAT",
	7: "SUN",
}

// Compile turns a recurrence rule into one or more trigger expressions.
func Compile(rule models.RecurrenceRule) ([]Expression, error) {
	return compile(rule, 0)
}

// CompileWithOffset compiles the rule with every firing shifted by offset.
// Recurring rules shift only the time of day; ONCE shifts the full instant.
func CompileWithOffset(rule models.RecurrenceRule, offset time.Duration) ([]Expression, error) {
	return compile(rule, offset)
}

func compile(rule models.RecurrenceRule, offset time.Duration) ([]Expression, error) {
	repeat := rule.RepeatType
	if repeat == "" {
		repeat = models.RepeatDaily
	}
	startAt := rule.StartAt

	base := Expression{
		Second:     "0",
		DayOfMonth: "*",
		Month:      "*",
		DayOfWeek:  NoSpecificValue,
	}

	var err error
	switch repeat {
	case models.RepeatOnce:
		if startAt == nil {
			return nil, errors.Wrap(ErrInvalidRecurrence, "ONCE requires start_at")
		}
		at := startAt.Add(offset)
		base.DayOfMonth = strconv.Itoa(at.Day())
		base.Month = strconv.Itoa(int(at.Month()))
		base.Year = strconv.Itoa(at.Year())
		base.Minute = pad(at.Minute())
		base.Hour = pad(at.Hour())
		return []Expression{base}, nil
	case models.RepeatDaily:
		base.DayOfMonth = everyNDays(rule.RepeatInterval, startAt)
	case models.RepeatWeekly:
		base.DayOfMonth = NoSpecificValue
		if base.DayOfWeek, err = formatDaysOfWeek(rule.DaysOfWeek, startAt); err != nil {
			return nil, err
		}
	case models.RepeatMonthly:
		if base.DayOfMonth, err = formatDaysOfMonth(rule.DaysOfMonth, startAt); err != nil {
			return nil, err
		}
		base.Month = everyNMonths(rule.RepeatInterval, startAt)
	case models.RepeatCustom:
		switch {
		case len(rule.DaysOfMonth) > 0:
			if base.DayOfMonth, err = formatDaysOfMonth(rule.DaysOfMonth, startAt); err != nil {
				return nil, err
			}
		case len(rule.DaysOfWeek) > 0:
			base.DayOfMonth = NoSpecificValue
			if base.DayOfWeek, err = formatDaysOfWeek(rule.DaysOfWeek, startAt); err != nil {
				return nil, err
			}
		default:
			base.DayOfMonth = everyNDays(rule.RepeatInterval, startAt)
		}
	default:
		return nil, errors.Wrapf(ErrInvalidRecurrence, "unknown repeat type %q", rule.RepeatType)
	}

	times, err := resolveTimes(rule.TimesOfDay, startAt)
	if err != nil {
		return nil, err
	}
	if offset != 0 {
		for i, t := range times {
			times[i] = t.add(offset)
		}
	}

	exprs := build(base, times)
	if len(exprs) == 0 {
		return nil, errors.Wrap(ErrInvalidRecurrence, "rule compiled to no trigger expressions")
	}
	return exprs, nil
}

func build(base Expression, times []clock) []Expression {
	if minute, hour, ok := combineTimes(times); ok {
		e := base
		e.Minute, e.Hour = minute, hour
		return []Expression{e}
	}
	out := make([]Expression, 0, len(times))
	for _, t := range times {
		e := base
		e.Minute, e.Hour = pad(t.minute), pad(t.hour)
		out = append(out, e)
	}
	return out
}

func resolveTimes(timesOfDay []string, startAt *time.Time) ([]clock, error) {
	seen := make(map[clock]bool, len(timesOfDay))
	out := make([]clock, 0, len(timesOfDay))
	for _, raw := range timesOfDay {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := parseClock(raw)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) > 0 {
		return out, nil
	}
	if startAt != nil {
		return []clock{{hour: startAt.Hour(), minute: startAt.Minute()}}, nil
	}
	return []clock{{}}, nil
}

var clockLayouts = []string{"15:04", "15:04:05", "15:04:05.999999999"}

func parseClock(raw string) (clock, error) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return clock{hour: t.Hour(), minute: t.Minute()}, nil
		}
	}
	return parseClockLenient(raw)
}

func parseClockLenient(raw string) (clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return clock{}, errors.Wrapf(ErrInvalidRecurrence, "unsupported time of day %q", raw)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return clock{}, errors.Wrapf(ErrInvalidRecurrence, "invalid hour in time of day %q", raw)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute < 0 || minute > 59 {
		return clock{}, errors.Wrapf(ErrInvalidRecurrence, "invalid minute in time of day %q", raw)
	}
	return clock{hour: hour, minute: minute}, nil
}

func everyNDays(interval int, startAt *time.Time) string {
	if interval <= 1 {
		return "*"
	}
	day := 1
	if startAt != nil {
		day = startAt.Day()
	}
	return fmt.Sprintf("%d/%d", day, interval)
}

func everyNMonths(interval int, startAt *time.Time) string {
	if interval <= 1 {
		return "*"
	}
	month := 1
	if startAt != nil {
		month = int(startAt.Month())
	}
	return fmt.Sprintf("%d/%d", month, interval)
}

func formatDaysOfMonth(days []int, startAt *time.Time) (string, error) {
	if len(days) == 0 {
		if startAt != nil {
			return strconv.Itoa(startAt.Day()), nil
		}
		return "*", nil
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		if d < 1 || d > 31 {
			return "", errors.Wrapf(ErrInvalidRecurrence, "day of month must be within 1-31, got %d", d)
		}
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ","), nil
}

func formatDaysOfWeek(days []int, startAt *time.Time) (string, error) {
	if len(days) == 0 {
		if startAt == nil {
			return "*", nil
		}
		days = []int{isoWeekday(*startAt)}
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		code, ok := weekdayCodes[d]
		if !ok {
			return "", errors.Wrapf(ErrInvalidRecurrence, "day of week must be within 1-7, got %d", d)
		}
		parts = append(parts, code)
	}
	return strings.Join(parts, ","), nil
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

func pad(v int) string {
	return fmt.Sprintf("%02d", v)
}

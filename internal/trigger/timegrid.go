package trigger

import (
	"sort"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// clock is a time of day at minute resolution; seconds never reach a trigger.
type clock struct {
	hour   int
	minute int
}

func (c clock) add(d time.Duration) clock {
	total := (c.hour*60 + c.minute + int(d/time.Minute)) % minutesPerDay
	if total < 0 {
		total += minutesPerDay
	}
	return clock{hour: total / 60, minute: total % 60}
}

// combineTimes folds the times into a single minute/hour field pair when the
// cron cross product of their distinct minutes and hours yields exactly the
// same set. Irregular sets report ok=false and must be emitted one by one.
func combineTimes(times []clock) (minute, hour string, ok bool) {
	switch len(times) {
	case 0:
		return "", "", false
	case 1:
		return pad(times[0].minute), pad(times[0].hour), true
	}

	unique := make(map[clock]bool, len(times))
	minutes := make(map[int]bool)
	hours := make(map[int]bool)
	for _, t := range times {
		unique[t] = true
		minutes[t.minute] = true
		hours[t.hour] = true
	}
	if len(minutes)*len(hours) != len(unique) {
		return "", "", false
	}
	for h := range hours {
		for m := range minutes {
			if !unique[clock{hour: h, minute: m}] {
				return "", "", false
			}
		}
	}
	return joinSorted(minutes), joinSorted(hours), true
}

func joinSorted(set map[int]bool) string {
	values := make([]int, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Ints(values)
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, pad(v))
	}
	return strings.Join(parts, ",")
}

package assign

import "time"

// Fixed scheduling policy.
const (
	SlotInterval = 30 * time.Minute
	Buffer       = 10 * time.Minute
	RoundUpUnit  = 10 * time.Minute
)

// ReservedDuration rounds an estimate in minutes up to the next RoundUpUnit.
func ReservedDuration(estimatedMinutes int) time.Duration {
	if estimatedMinutes <= 0 {
		return 0
	}
	unit := int(RoundUpUnit / time.Minute)
	m := (estimatedMinutes + unit - 1) / unit * unit
	return time.Duration(m) * time.Minute
}

// Day is one local calendar day in the organization's timezone.
type Day struct {
	Key   string // 2006-01-02
	Start time.Time
	End   time.Time
}

// DayOf returns the local day containing t.
func DayOf(t time.Time, loc *time.Location) Day {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return Day{Key: start.Format("2006-01-02"), Start: start, End: start.AddDate(0, 0, 1)}
}

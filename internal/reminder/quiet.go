package reminder

import "time"

// QuietHours is a local-time window [Start, End) in which reminders are held
// back. A window with Start > End wraps past midnight.
type QuietHours struct {
	Start int
	End   int
	Loc   *time.Location
}

// NewQuietHours loads tz, falling back to a fixed UTC+1 zone when the tz
// database is unavailable.
func NewQuietHours(start, end int, tz string) QuietHours {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.FixedZone("WAT", 60*60)
	}
	return QuietHours{Start: start, End: end, Loc: loc}
}

func (q QuietHours) location() *time.Location {
	if q.Loc == nil {
		return time.UTC
	}
	return q.Loc
}

// Active reports whether t falls inside the window.
func (q QuietHours) Active(t time.Time) bool {
	if q.Start == q.End {
		return false
	}
	h := t.In(q.location()).Hour()
	if q.Start > q.End {
		return h >= q.Start || h < q.End
	}
	return h >= q.Start && h < q.End
}

// Resume returns the next time the window closes after t.
func (q QuietHours) Resume(t time.Time) time.Time {
	local := t.In(q.location())
	end := time.Date(local.Year(), local.Month(), local.Day(), q.End, 0, 0, 0, q.location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end.UTC()
}

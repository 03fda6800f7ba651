package reminder

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
)

const (
	PresetStandard   = "standard"
	PresetGentle     = "gentle"
	PresetAggressive = "aggressive"

	day = 24 * time.Hour

	// Triggers outside [now-lookback, due+lookahead] are dropped.
	lookback  = 30 * day
	lookahead = 7 * day
)

// presetOffsets are day offsets relative to the due date.
var presetOffsets = map[string][]int{
	PresetStandard:   {-3, -1, 0, 1},
	PresetGentle:     {-3},
	PresetAggressive: {-4, -3, -2, -1, 0},
}

var manualLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ComputeTriggers returns the ascending, de-duplicated trigger times for a
// policy. Manual dates take precedence over presets. Entries that cannot be
// used are returned in skipped with the reason, they never fail the call.
func ComputeTriggers(due, now time.Time, policy domain.ReminderPolicy) (triggers []time.Time, skipped []string) {
	due = due.UTC()
	var candidates []time.Time

	if len(policy.ManualDates) > 0 {
		for _, raw := range policy.ManualDates {
			t, err := parseManualDate(raw)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%q: %v", raw, err))
				continue
			}
			candidates = append(candidates, t)
		}
	} else {
		preset := strings.ToLower(strings.TrimSpace(policy.Preset))
		if preset == "" {
			preset = PresetStandard
		}
		offsets, ok := presetOffsets[preset]
		if !ok {
			skipped = append(skipped, fmt.Sprintf("unknown preset %q, using %s", policy.Preset, PresetStandard))
			offsets = presetOffsets[PresetStandard]
		}
		for _, d := range offsets {
			candidates = append(candidates, due.Add(time.Duration(d)*day))
		}
	}

	earliest := now.Add(-lookback)
	latest := due.Add(lookahead)
	for _, t := range candidates {
		if t.Before(earliest) || t.After(latest) {
			skipped = append(skipped, fmt.Sprintf("%s: outside reminder window", t.Format(time.RFC3339)))
			continue
		}
		triggers = append(triggers, t)
	}

	slices.SortFunc(triggers, func(a, b time.Time) int { return a.Compare(b) })
	triggers = slices.CompactFunc(triggers, func(a, b time.Time) bool { return a.Equal(b) })
	return triggers, skipped
}

// parseManualDate accepts RFC 3339 or a zone-less ISO date/time, read as UTC.
func parseManualDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date: %w", domain.ErrValidation)
	}
	for _, layout := range manualLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format: %w", domain.ErrValidation)
}

// BucketFor classifies a trigger by its offset from the due date.
func BucketFor(trigger, due time.Time) domain.Bucket {
	delta := trigger.Sub(due)
	switch {
	case delta >= 3*day:
		return domain.BucketOverdueMulti
	case delta >= day:
		return domain.BucketOverdueOneDay
	case delta > -day:
		return domain.BucketDueToday
	case delta > -2*day:
		return domain.BucketDueTomorrow
	}
	return domain.BucketUpcoming
}

// Package usage gates every external entry point: API key resolution,
// per-IP rate limiting, and monthly quota accounting.
package usage

import "time"

// WindowStart computes the start of the current quota window: the most
// recent monthly anniversary of the anchor that is not after now.
//
// Anchors on days a month does not have clamp to that month's last day, so
// a January 31 anchor yields a February 28 (or 29) anniversary. A nil
// anchor falls back to the first day of the current calendar month.
func WindowStart(anchor *time.Time, now time.Time) time.Time {
	now = now.UTC()
	if anchor == nil || anchor.IsZero() {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	a := anchor.UTC()
	cand := anniversary(now.Year(), now.Month(), a)
	if cand.After(now) {
		prev := now.AddDate(0, 0, -now.Day()) // last day of the previous month
		cand = anniversary(prev.Year(), prev.Month(), a)
	}
	if cand.After(now) {
		// Anchor in the future; treat it as the window start as-is.
		return a
	}
	return cand
}

// anniversary places the anchor's day and clock time into the given month,
// clamping the day to the month's length.
func anniversary(year int, month time.Month, a time.Time) time.Time {
	day := a.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

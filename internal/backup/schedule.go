// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import (
	"path/filepath"
	"time"
)

// NextTopOfHour returns the first top-of-hour instant in loc strictly after now.
// Offsets that are not whole hours (e.g. +05:30) are honoured.
func NextTopOfHour(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	next := nextBoundary(now, loc, now)
	if next.In(loc).Minute() != 0 {
		// The zone offset changed between now and the computed boundary.
		next = nextBoundary(next, loc, now)
	}
	return next.In(loc)
}

func nextBoundary(ref time.Time, loc *time.Location, now time.Time) time.Time {
	_, off := ref.In(loc).Zone()
	shift := time.Duration(off) * time.Second
	next := now.Add(shift).Truncate(time.Hour).Add(time.Hour).Add(-shift)
	for !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}

// ArchiveName is the archive path, relative to the backup directory, for a snapshot
// taken at t: "{MM}/{DD} - {hh}{AM|PM}.zip" in loc.
func ArchiveName(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return filepath.Join(local.Format("01"), local.Format("02 - 03PM")+".zip")
}

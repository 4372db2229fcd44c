package tvexpose

import (
	"sort"

	apperrors "tvtools/internal/errors"
)

// normalizeRecords canonicizes one subject's raw exposure records: sort by
// start, drop inverted and fully out-of-window episodes, clamp the rest to
// the follow-up window. Dropped records are counted, never fatal.
func normalizeRecords(sub Subject, records []Record, warns *apperrors.WarningCollector, stats *subjectStats) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Stop <= rec.Start {
			stats.DroppedRecords++
			warns.Add(apperrors.WarningDroppedRecord, sub.ID,
				"exposure record [%d,%d) is empty or inverted", rec.Start, rec.Stop)
			continue
		}
		if rec.Start >= sub.Exit || rec.Stop <= sub.Entry {
			stats.DroppedRecords++
			warns.Add(apperrors.WarningOutOfWindow, sub.ID,
				"exposure record [%d,%d) lies outside follow-up [%d,%d)", rec.Start, rec.Stop, sub.Entry, sub.Exit)
			continue
		}
		if rec.Start < sub.Entry {
			rec.Start = sub.Entry
		}
		if rec.Stop > sub.Exit {
			rec.Stop = sub.Exit
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Stop < out[j].Stop
	})
	return out
}

package errors

import (
	"fmt"
	"sort"
	"sync"
)

// WarningKind classifies non-fatal data-quality findings
type WarningKind string

const (
	WarningDroppedRecord     WarningKind = "dropped_record"
	WarningOutOfWindow       WarningKind = "out_of_window"
	WarningUnknownSubject    WarningKind = "unknown_subject"
	WarningZeroFollowUp      WarningKind = "zero_follow_up"
	WarningGapDetected       WarningKind = "gap_detected"
	WarningOverlapDetected   WarningKind = "overlap_detected"
	WarningPersonTimeMisfit  WarningKind = "person_time_misfit"
	WarningMissingSourceTime WarningKind = "missing_source_time"
)

// Warning records one data-quality issue. Warnings never interrupt the
// per-subject pipeline; one subject's malformed input must not block others.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	SubjectID string      `json:"subject_id,omitempty"`
	Message   string      `json:"message"`
}

func (w Warning) String() string {
	if w.SubjectID != "" {
		return fmt.Sprintf("%s (subject %s): %s", w.Kind, w.SubjectID, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// WarningCollector accumulates warnings from concurrent per-subject work.
// Aggregation is deterministic: List sorts by subject id then message, so the
// report does not depend on worker scheduling.
type WarningCollector struct {
	mu       sync.Mutex
	warnings []Warning
	counts   map[WarningKind]int
}

// NewWarningCollector returns an empty collector
func NewWarningCollector() *WarningCollector {
	return &WarningCollector{counts: make(map[WarningKind]int)}
}

// Add records one warning
func (c *WarningCollector) Add(kind WarningKind, subjectID, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, Warning{
		Kind:      kind,
		SubjectID: subjectID,
		Message:   fmt.Sprintf(format, args...),
	})
	c.counts[kind]++
}

// Count returns the number of warnings of the given kind
func (c *WarningCollector) Count(kind WarningKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// Total returns the total number of warnings
func (c *WarningCollector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings)
}

// List returns all warnings in deterministic order
func (c *WarningCollector) List() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Package tvexpose converts static per-subject exposure episodes into an
// analysis-ready person-time panel: one row per contiguous exposure state,
// tiling each subject's follow-up with no gaps and no overlaps.
//
// # Pipeline
//
// Each subject flows through a sequence of pure stages:
//
//	Normalizer -> Overlap Resolver -> Temporal Transforms -> Assembler
//
// The normalizer clips episodes to follow-up and drops invalid ones. The
// resolver applies one of four overlap policies (layer, priority, split,
// combine) over a shared breakpoint sweep. The transforms close grace-period
// gaps, shift effective starts (lag), extend effective ends (washout,
// carryforward, fillgaps) and expand point-time events. The assembler fills
// the remaining follow-up with reference rows and coalesces adjacent rows
// with identical state.
//
// # Invariant
//
// For every subject the output rows exactly tile [entry, exit): the sum of
// row durations equals exit minus entry under every configuration. All
// intervals are half-open and measured in days.
//
// Subjects are independent, so the runner fans them out over a worker pool;
// diagnostic counters are plain sums and aggregate deterministically.
package tvexpose

package tvexpose

import "sort"

// Segment is one elementary time slice produced by a breakpoint sweep.
// Active holds the indices of the input spans covering the slice.
type Segment struct {
	Start  int
	Stop   int
	Active []int
}

// Sweep partitions time into elementary segments at the union of all span
// boundaries and reports which spans cover each segment. Spans are half-open
// [start, stop) pairs; empty spans are ignored. Segments covered by no span
// are omitted.
//
// Both the overlap resolver and the multi-source merger are built on this
// primitive.
func Sweep(spans [][2]int) []Segment {
	points := make([]int, 0, 2*len(spans))
	for _, sp := range spans {
		if sp[0] >= sp[1] {
			continue
		}
		points = append(points, sp[0], sp[1])
	}
	if len(points) == 0 {
		return nil
	}

	sort.Ints(points)
	points = dedupInts(points)

	var segments []Segment
	for i := 0; i+1 < len(points); i++ {
		segStart, segStop := points[i], points[i+1]
		var active []int
		for idx, sp := range spans {
			// A span covering segStart covers the whole segment, because
			// every span boundary is a breakpoint.
			if sp[0] <= segStart && sp[1] > segStart {
				active = append(active, idx)
			}
		}
		if len(active) == 0 {
			continue
		}
		segments = append(segments, Segment{Start: segStart, Stop: segStop, Active: active})
	}
	return segments
}

func dedupInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

package flyer

import "time"

// debugStats holds per-render timing and instruction counts.
// Only populated when the renderer's debug flag is set.
type debugStats struct {
	emitTime         time.Duration
	sortTime         time.Duration
	instructionCount int
	partCount        int
	markerCount      int
}

// debugLog writes render stats at debug level.
func (r *Renderer) debugLog(stats debugStats) {
	if !r.debug {
		return
	}
	r.log.Debug().
		Dur("emit", stats.emitTime).
		Dur("sort", stats.sortTime).
		Dur("total", stats.emitTime+stats.sortTime).
		Int("instructions", stats.instructionCount).
		Int("parts", stats.partCount).
		Int("markers", stats.markerCount).
		Msg("render")
}

// countParts counts parts of the given kind across instructions.
func countParts(cmds []DrawInstruction, kind PartKind) int {
	n := 0
	for i := range cmds {
		for _, p := range cmds[i].Parts {
			if p.Kind == kind {
				n++
			}
		}
	}
	return n
}

// debugMaxMarkers is the marker count above which Session warns: flyers with
// more cards than this overlap beyond legibility at the export size.
const debugMaxMarkers = 30

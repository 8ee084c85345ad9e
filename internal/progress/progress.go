// Package progress maps the number of output lines seen in a phase onto the
// progress band reserved for that phase.
package progress

import (
	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// Band is a closed progress range. Each output chunk advances progress by
// PerChunk, clamped at To.
type Band struct {
	From     int
	To       int
	PerChunk float64
}

// At returns the progress after n chunks.
func (b Band) At(n int) int {
	if n <= 0 {
		return b.From
	}
	p := b.From + int(float64(n)*b.PerChunk)
	return clamp(p, b.From, b.To)
}

// Tracker counts chunks of one phase and never goes backwards.
type Tracker struct {
	band Band
	n    int
	last int
}

func (b Band) Tracker() *Tracker {
	return &Tracker{band: b, last: b.From}
}

// Next accounts one more chunk and returns the new progress.
func (t *Tracker) Next() int {
	t.n++
	if p := t.band.At(t.n); p > t.last {
		t.last = p
	}
	return t.last
}

func (t *Tracker) Current() int {
	return t.last
}

// Plan is the progress layout of one session kind. Scan covers the tool
// run, Render the rendering of parsed results. Done is the progress of the
// terminal event.
type Plan struct {
	Scan   Band
	Render Band
	Done   int
}

// Table is a pluggable progress mapping per session kind.
type Table map[model.Kind]Plan

// Clone is the band of a clone phase, also used when a scanner materializes
// its working copy.
var Clone = Band{From: 15, To: 45, PerChunk: 0.5}

// CloneDone is the progress of a successful clone.
const CloneDone = 50

func DefaultTable() Table {
	scanner := Plan{
		Scan:   Band{From: 55, To: 90, PerChunk: 0.5},
		Render: Band{From: 90, To: 100, PerChunk: 0.5},
		Done:   100,
	}
	return Table{
		model.KindClone:      {Scan: Clone, Render: Band{From: 45, To: CloneDone}, Done: CloneDone},
		model.KindGPGVerify:  scanner,
		model.KindSecretScan: scanner,
		model.KindVulnScan:   scanner,
		model.KindSAST:       scanner,
		model.KindKeygen:     {Scan: Band{From: 10, To: 90, PerChunk: 5}, Render: Band{From: 90, To: 100, PerChunk: 5}, Done: 100},
		model.KindSign:       {Scan: Band{From: 55, To: 90, PerChunk: 5}, Render: Band{From: 90, To: 100, PerChunk: 5}, Done: 100},
	}
}

// Plan returns the plan of kind, falling back to the default table.
func (t Table) Plan(kind model.Kind) Plan {
	if p, ok := t[kind]; ok {
		return p
	}
	return DefaultTable()[kind]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

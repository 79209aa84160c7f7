package reconfig

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
)

// Slice is the footprint of a subject on a node over a time interval. A consuming slice
// covers the presence of a VM on its current host until the action ends, a demanding slice
// covers its presence on its destination from the moment the action starts.
//
// end = start + duration and 0 <= start <= end <= horizon hold for every slice.
type Slice struct {
	Subject  string
	Start    cp.IntVar
	End      cp.IntVar
	Duration cp.IntVar
	Host     cp.IntVar
}

// String renders the slice bounds.
func (s *Slice) String() string {
	return fmt.Sprintf("%s{start=%v, end=%v, duration=%v, host=%v}", s.Subject, s.Start, s.End, s.Duration, s.Host)
}

// SliceBuilder assembles a slice. Unset variables are created over the horizon.
type SliceBuilder struct {
	p       *Problem
	subject string
	prefix  string

	start, end, duration, host cp.IntVar
}

// NewSliceBuilder starts a slice for subject. prefix names the variables, typically
// "cSlice" or "dSlice".
func NewSliceBuilder(p *Problem, subject, prefix string) *SliceBuilder {
	return &SliceBuilder{p: p, subject: subject, prefix: prefix}
}

// SetStart fixes the start variable.
func (b *SliceBuilder) SetStart(v cp.IntVar) *SliceBuilder {
	b.start = v
	return b
}

// SetEnd fixes the end variable.
func (b *SliceBuilder) SetEnd(v cp.IntVar) *SliceBuilder {
	b.end = v
	return b
}

// SetDuration fixes the duration variable.
func (b *SliceBuilder) SetDuration(v cp.IntVar) *SliceBuilder {
	b.duration = v
	return b
}

// SetHost fixes the host variable.
func (b *SliceBuilder) SetHost(v cp.IntVar) *SliceBuilder {
	b.host = v
	return b
}

func (b *SliceBuilder) name(v string) string {
	return b.subject + "." + b.prefix + "." + v
}

// Build creates the missing variables and posts the time constraints of the slice.
func (b *SliceBuilder) Build() (*Slice, error) {
	s := b.p.store
	if !b.host.Valid() {
		b.host = b.p.NewHostVar(b.name("host"))
	}
	if b.host.LB() < 0 || b.host.UB() >= len(b.p.nodes) {
		return nil, fmt.Errorf("%s: host outside the node indices", b.name("host"))
	}
	if !b.start.Valid() {
		b.start = s.NewIntVar(b.name("start"), 0, b.p.maxEnd)
	}
	if !b.end.Valid() {
		b.end = s.NewIntVar(b.name("end"), 0, b.p.maxEnd)
	}
	if !b.duration.Valid() {
		b.duration = s.NewIntVar(b.name("duration"), 0, b.p.maxEnd)
	}
	if _, err := b.start.UpdateLB(0); err != nil {
		return nil, fmt.Errorf("slice %s: %w", b.subject, err)
	}
	if b.end != b.p.end {
		cp.LessEq(b.end, 0, b.p.end)
	}
	cp.Plus(b.start, b.duration, b.end)
	return &Slice{Subject: b.subject, Start: b.start, End: b.end, Duration: b.duration, Host: b.host}, nil
}

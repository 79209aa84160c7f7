package cp

import (
	"errors"
	"fmt"
)

// ErrContradiction is wrapped by every failure raised during propagation.
var ErrContradiction = errors.New("contradiction")

// Contradiction describes why a propagator failed.
type Contradiction struct {
	format string
	args   []any
}

// Error implements error.
func (c *Contradiction) Error() string {
	return "contradiction: " + fmt.Sprintf(c.format, c.args...)
}

// Unwrap exposes ErrContradiction to errors.Is.
func (c *Contradiction) Unwrap() error {
	return ErrContradiction
}

// Fail builds a contradiction error. Formatting is deferred until the message is read.
func Fail(format string, args ...any) error {
	return &Contradiction{format: format, args: args}
}

// IsContradiction reports whether err is a propagation failure.
func IsContradiction(err error) bool {
	return errors.Is(err, ErrContradiction)
}

// Propagator filters the domains of the variables it watches.
type Propagator interface {
	// Vars returns the watched variables. A change on any of them schedules the propagator.
	Vars() []IntVar

	// Propagate filters domains. It returns an error wrapping ErrContradiction on failure.
	Propagate() error
}

// VarListener is implemented by incremental propagators that need to know which of their
// variables changed. OnVarChange runs before the next Propagate call.
type VarListener interface {
	OnVarChange(pos int) error
}

// PropID identifies a posted propagator.
type PropID int

type propRecord struct {
	p        Propagator
	listener VarListener
	queued   bool
	pending  []int
}

// Post registers p, subscribes it to its variables and schedules its first run.
// Propagators must be posted before the search starts.
func (s *Store) Post(p Propagator) PropID {
	id := len(s.props)
	rec := &propRecord{p: p}
	if l, ok := p.(VarListener); ok {
		rec.listener = l
	}
	s.props = append(s.props, rec)
	for pos, v := range p.Vars() {
		if !v.Valid() {
			continue
		}
		r := &s.vars[v.id]
		r.watchers = append(r.watchers, watcher{prop: id, pos: pos})
	}
	s.schedule(id)
	return PropID(id)
}

// Schedule enqueues a propagator without any variable event.
func (s *Store) Schedule(id PropID) {
	s.schedule(int(id))
}

// NumPropagators returns the number of posted propagators.
func (s *Store) NumPropagators() int {
	return len(s.props)
}

func (s *Store) schedule(id int) {
	rec := s.props[id]
	if rec.queued {
		return
	}
	rec.queued = true
	s.queue = append(s.queue, id)
}

func (s *Store) notify(varID int) {
	for _, w := range s.vars[varID].watchers {
		rec := s.props[w.prop]
		if rec.listener != nil {
			rec.pending = append(rec.pending, w.pos)
		}
		s.schedule(w.prop)
	}
}

func (s *Store) clearQueue() {
	for _, id := range s.queue {
		rec := s.props[id]
		rec.queued = false
		rec.pending = rec.pending[:0]
	}
	s.queue = s.queue[:0]
}

// Propagate runs the scheduled propagators until no domain changes anymore.
func (s *Store) Propagate() error {
	for head := 0; head < len(s.queue); head++ {
		id := s.queue[head]
		rec := s.props[id]
		rec.queued = false
		if rec.listener != nil && len(rec.pending) > 0 {
			pending := rec.pending
			rec.pending = nil
			for _, pos := range pending {
				if err := rec.listener.OnVarChange(pos); err != nil {
					s.queue = s.queue[head+1:]
					s.clearQueue()
					return err
				}
			}
		}
		s.propagations++
		if err := rec.p.Propagate(); err != nil {
			s.queue = s.queue[head+1:]
			s.clearQueue()
			return err
		}
	}
	s.queue = s.queue[:0]
	return nil
}

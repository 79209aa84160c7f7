// Package cp implements the finite-domain constraint runtime the planner is built on.
//
// Every piece of mutable search state lives in a Store: variable domains, propagator-local
// counters and bitsets. Handles (IntVar, StoredInt, StoredBitSet) are ids into the store's
// arenas, and every write goes through a single trail so that PopWorld restores the exact
// state of the matching PushWorld.
package cp

import (
	"fmt"
	"math"
	"math/bits"
)

type trailEntry struct {
	word bool
	idx  int
	old  uint64
}

type watcher struct {
	prop int
	pos  int
}

type varRecord struct {
	name string

	// cell ids holding the bounds and, for enumerated domains, the size.
	lb, ub, size int

	// offset into Store.words, -1 for bounded domains.
	words  int
	nwords int
	base   int

	watchers []watcher
}

func (r *varRecord) enumerated() bool {
	return r.words >= 0
}

// Store owns every trailed cell of one solve.
type Store struct {
	vars  []varRecord
	cells []int
	words []uint64

	trail  []trailEntry
	worlds []int
	epoch  int

	props []*propRecord
	queue []int

	consts map[int]IntVar

	propagations int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		consts: make(map[int]IntVar),
	}
}

// PushWorld opens a new choice point.
func (s *Store) PushWorld() {
	s.worlds = append(s.worlds, len(s.trail))
}

// PopWorld undoes every modification made since the matching PushWorld.
func (s *Store) PopWorld() {
	if len(s.worlds) == 0 {
		return
	}
	mark := s.worlds[len(s.worlds)-1]
	s.worlds = s.worlds[:len(s.worlds)-1]
	for i := len(s.trail) - 1; i >= mark; i-- {
		e := s.trail[i]
		if e.word {
			s.words[e.idx] = e.old
		} else {
			s.cells[e.idx] = int(int64(e.old))
		}
	}
	s.trail = s.trail[:mark]
	s.clearQueue()
	s.epoch++
}

// WorldIndex returns the number of open choice points.
func (s *Store) WorldIndex() int {
	return len(s.worlds)
}

// Epoch returns a counter incremented on every backtrack.
func (s *Store) Epoch() int {
	return s.epoch
}

// Propagations returns the number of propagator executions so far.
func (s *Store) Propagations() int {
	return s.propagations
}

func (s *Store) newCell(v int) int {
	s.cells = append(s.cells, v)
	return len(s.cells) - 1
}

func (s *Store) setCell(id, v int) {
	old := s.cells[id]
	if old == v {
		return
	}
	s.trail = append(s.trail, trailEntry{idx: id, old: uint64(int64(old))})
	s.cells[id] = v
}

func (s *Store) newWords(n int) int {
	off := len(s.words)
	for i := 0; i < n; i++ {
		s.words = append(s.words, 0)
	}
	return off
}

func (s *Store) setWord(idx int, w uint64) {
	old := s.words[idx]
	if old == w {
		return
	}
	s.trail = append(s.trail, trailEntry{word: true, idx: idx, old: old})
	s.words[idx] = w
}

// NewIntVar creates a bounded variable over [lb, ub].
func (s *Store) NewIntVar(name string, lb, ub int) IntVar {
	if lb > ub {
		panic(fmt.Sprintf("cp: empty domain [%d, %d] for %s", lb, ub, name))
	}
	s.vars = append(s.vars, varRecord{
		name:  name,
		lb:    s.newCell(lb),
		ub:    s.newCell(ub),
		size:  -1,
		words: -1,
	})
	return IntVar{s: s, id: len(s.vars) - 1}
}

// NewEnumVar creates a variable whose domain is exactly the given values.
func (s *Store) NewEnumVar(name string, values ...int) IntVar {
	if len(values) == 0 {
		panic("cp: empty enumerated domain for " + name)
	}
	lo, hi := math.MaxInt, math.MinInt
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	n := (hi-lo)/64 + 1
	off := s.newWords(n)
	size := 0
	for _, v := range values {
		i := v - lo
		w := &s.words[off+i>>6]
		if *w&(1<<uint(i&63)) == 0 {
			*w |= 1 << uint(i&63)
			size++
		}
	}
	s.vars = append(s.vars, varRecord{
		name:   name,
		lb:     s.newCell(lo),
		ub:     s.newCell(hi),
		size:   s.newCell(size),
		words:  off,
		nwords: n,
		base:   lo,
	})
	return IntVar{s: s, id: len(s.vars) - 1}
}

// NewEnumRangeVar creates an enumerated variable over [lb, ub] so holes can be punched later.
func (s *Store) NewEnumRangeVar(name string, lb, ub int) IntVar {
	values := make([]int, 0, ub-lb+1)
	for v := lb; v <= ub; v++ {
		values = append(values, v)
	}
	return s.NewEnumVar(name, values...)
}

// NewBoolVar creates a 0/1 variable.
func (s *Store) NewBoolVar(name string) IntVar {
	return s.NewIntVar(name, 0, 1)
}

// Constant returns a shared instantiated variable.
func (s *Store) Constant(v int) IntVar {
	if c, ok := s.consts[v]; ok {
		return c
	}
	c := s.NewIntVar(fmt.Sprintf("cst(%d)", v), v, v)
	s.consts[v] = c
	return c
}

// NumVars returns the number of variables created so far.
func (s *Store) NumVars() int {
	return len(s.vars)
}

// clearRange clears the bits of values [from, to] and returns how many were set.
func (s *Store) clearRange(r *varRecord, from, to int) int {
	if from < r.base {
		from = r.base
	}
	hiIdx := to - r.base
	removed := 0
	for i := from - r.base; i <= hiIdx; {
		wi := i >> 6
		mask := ^uint64(0) << uint(i&63)
		if last := hiIdx - wi<<6; last < 63 {
			mask &= (uint64(1) << uint(last+1)) - 1
		}
		idx := r.words + wi
		old := s.words[idx]
		if cleared := old & mask; cleared != 0 {
			removed += bits.OnesCount64(cleared)
			s.setWord(idx, old&^mask)
		}
		i = (wi + 1) << 6
	}
	return removed
}

// nextSet returns the smallest value >= from whose bit is set, or false.
func (s *Store) nextSet(r *varRecord, from int) (int, bool) {
	i := from - r.base
	if i < 0 {
		i = 0
	}
	for wi := i >> 6; wi < r.nwords; wi++ {
		w := s.words[r.words+wi]
		if wi == i>>6 {
			w &= ^uint64(0) << uint(i&63)
		}
		if w != 0 {
			return r.base + wi<<6 + bits.TrailingZeros64(w), true
		}
	}
	return 0, false
}

// prevSet returns the largest value <= from whose bit is set, or false.
func (s *Store) prevSet(r *varRecord, from int) (int, bool) {
	i := from - r.base
	if i < 0 {
		return 0, false
	}
	if top := r.nwords<<6 - 1; i > top {
		i = top
	}
	for wi := i >> 6; wi >= 0; wi-- {
		w := s.words[r.words+wi]
		if wi == i>>6 {
			if b := uint(i & 63); b < 63 {
				w &= (uint64(1) << (b + 1)) - 1
			}
		}
		if w != 0 {
			return r.base + wi<<6 + 63 - bits.LeadingZeros64(w), true
		}
	}
	return 0, false
}

// StoredInt is a trailed integer cell.
type StoredInt struct {
	s  *Store
	id int
}

// NewStoredInt allocates a trailed integer initialised to v.
func (s *Store) NewStoredInt(v int) StoredInt {
	return StoredInt{s: s, id: s.newCell(v)}
}

// Get returns the current value.
func (c StoredInt) Get() int {
	return c.s.cells[c.id]
}

// Set records the previous value on the trail and stores v.
func (c StoredInt) Set(v int) {
	c.s.setCell(c.id, v)
}

// Add increments the cell by d.
func (c StoredInt) Add(d int) {
	c.s.setCell(c.id, c.s.cells[c.id]+d)
}

// StoredBitSet is a fixed-size trailed bitset.
type StoredBitSet struct {
	s   *Store
	off int
	n   int
}

// NewStoredBitSet allocates a trailed bitset of n bits, all cleared.
func (s *Store) NewStoredBitSet(n int) StoredBitSet {
	words := (n + 63) / 64
	if words == 0 {
		words = 1
	}
	return StoredBitSet{s: s, off: s.newWords(words), n: n}
}

// Len returns the number of bits.
func (b StoredBitSet) Len() int {
	return b.n
}

// Get reports whether bit i is set.
func (b StoredBitSet) Get(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.s.words[b.off+i>>6]&(1<<uint(i&63)) != 0
}

// Set sets bit i.
func (b StoredBitSet) Set(i int) {
	idx := b.off + i>>6
	b.s.setWord(idx, b.s.words[idx]|1<<uint(i&63))
}

// Clear clears bit i.
func (b StoredBitSet) Clear(i int) {
	idx := b.off + i>>6
	b.s.setWord(idx, b.s.words[idx]&^(1<<uint(i&63)))
}

// NextSet returns the index of the first set bit >= from, or -1.
func (b StoredBitSet) NextSet(from int) int {
	if from < 0 {
		from = 0
	}
	words := (b.n + 63) / 64
	for wi := from >> 6; wi < words; wi++ {
		w := b.s.words[b.off+wi]
		if wi == from>>6 {
			w &= ^uint64(0) << uint(from&63)
		}
		if w != 0 {
			i := wi<<6 + bits.TrailingZeros64(w)
			if i >= b.n {
				return -1
			}
			return i
		}
	}
	return -1
}

// Cardinality returns the number of set bits.
func (b StoredBitSet) Cardinality() int {
	c := 0
	words := (b.n + 63) / 64
	for wi := 0; wi < words; wi++ {
		c += bits.OnesCount64(b.s.words[b.off+wi])
	}
	return c
}

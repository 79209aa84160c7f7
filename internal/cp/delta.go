package cp

// DeltaMonitor reports the values removed from a variable since the last call.
// The set of already reported values is trailed with the store.
type DeltaMonitor struct {
	x    IntVar
	lo   int
	seen StoredBitSet
}

// NewDeltaMonitor snapshots the current domain of x.
func NewDeltaMonitor(x IntVar) *DeltaMonitor {
	lo, hi := x.LB(), x.UB()
	m := &DeltaMonitor{
		x:    x,
		lo:   lo,
		seen: x.s.NewStoredBitSet(hi - lo + 1),
	}
	for v := lo; v <= hi; v++ {
		if !x.Contains(v) {
			m.seen.Set(v - lo)
		}
	}
	return m
}

// ForEachRemoved calls fn on every value removed since the previous call and marks it
// as reported.
func (m *DeltaMonitor) ForEachRemoved(fn func(v int) error) error {
	n := m.seen.Len()
	for i := 0; i < n; i++ {
		if m.seen.Get(i) {
			continue
		}
		v := m.lo + i
		if m.x.Contains(v) {
			continue
		}
		m.seen.Set(i)
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Sync marks every value currently missing from the domain as reported.
func (m *DeltaMonitor) Sync() {
	n := m.seen.Len()
	for i := 0; i < n; i++ {
		if !m.seen.Get(i) && !m.x.Contains(m.lo+i) {
			m.seen.Set(i)
		}
	}
}

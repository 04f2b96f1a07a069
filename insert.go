package cuckoo

import "fmt"

// kick is one displacement: the slot that received a fingerprint during an
// eviction chain.
type kick struct {
	bucket uint64
	slot   int
}

// insert places p in the active generation, growing the chain once if the
// kick budget is exhausted. A failed insertion leaves the filter unchanged.
func (f *Filter) insert(p lookupParams) error {
	if f.insertActive(p) {
		f.numItems++
		return nil
	}
	if err := f.grow(); err != nil {
		return err
	}
	// The new generation is empty, so both candidate buckets have room.
	if !f.insertActive(p) {
		return fmt.Errorf("%w: insertion into a fresh generation failed", ErrFilterFull)
	}
	f.numItems++
	return nil
}

// insertActive tries the candidate buckets of the last generation and then a
// chain of evictions bounded by MaxIterations.
func (f *Filter) insertActive(p lookupParams) bool {
	g := f.gens[len(f.gens)-1]
	i1, i2 := p.indices(g.numBuckets)
	if _, ok := g.tryInsert(i1, p.fp); ok {
		return true
	}
	if _, ok := g.tryInsert(i2, p.fp); ok {
		return true
	}
	return f.displace(g, i1, i2, p.fp)
}

// displace runs the eviction chain. The budget is shared by the whole chain,
// not reset per victim. On failure every swap is undone in reverse order.
func (f *Filter) displace(g *generation, i1, i2 uint64, fp Fingerprint) bool {
	idx := i1
	if f.rng.IntN(2) == 1 {
		idx = i2
	}

	path := make([]kick, 0, f.params.MaxIterations)
	cur := fp
	for range f.params.MaxIterations {
		slot, victim, ok := g.randomOccupiedSlot(idx, f.rng)
		if !ok {
			// Only reachable if the bucket is empty, which tryInsert rules out.
			if _, placed := g.tryInsert(idx, cur); placed {
				return true
			}
			break
		}
		g.bucket(idx)[slot] = cur
		path = append(path, kick{bucket: idx, slot: slot})
		cur = victim

		idx = altIndex(idx, cur, g.numBuckets)
		if _, ok := g.tryInsert(idx, cur); ok {
			return true
		}
	}

	for k := len(path) - 1; k >= 0; k-- {
		b := g.bucket(path[k].bucket)
		cur, b[path[k].slot] = b[path[k].slot], cur
	}
	return false
}

// grow appends a generation of n(last)*expansion buckets.
func (f *Filter) grow() error {
	if f.params.Expansion == 0 {
		return ErrFilterFull
	}
	if len(f.gens) >= int(f.params.MaxGenerations) {
		return fmt.Errorf("%w: %d generations", ErrMaxExpansions, len(f.gens))
	}
	last := f.gens[len(f.gens)-1]
	n, ok := generationBuckets(last.numBuckets, f.params.Expansion, 1)
	if !ok {
		return fmt.Errorf("%w: generation %d would exceed %d buckets", ErrInsufficientMemory, len(f.gens), uint64(MaxBuckets))
	}
	size, ok := mulBytes(n, uint64(f.params.BucketSize))
	if !ok || !f.guard.CanAllocate(size) {
		return fmt.Errorf("%w: cannot allocate generation of %d buckets", ErrInsufficientMemory, n)
	}
	f.gens = append(f.gens, newGeneration(n, f.params.BucketSize))
	return nil
}

package cuckoo

// Compact moves fingerprints out of newer generations into free slots of
// older ones and drops trailing generations that end up empty.
//
// Items themselves are not retained, so a fingerprint stays in the bucket
// pair it already occupies: bucket j of a generation with n buckets maps to
// j%m and its alternate in an older generation with m buckets. Since every
// size is a power of two and sizes never decrease along the chain, this is
// exactly the pair a lookup computes there. Generation sizes are never
// changed and generation 0 is never dropped.
//
// When the chain has generations of different sizes, the reduced pair can
// also be the pair of other items whose fingerprint matches, so Count of
// such items may rise after compaction. It never falls.
//
// Passes repeat until nothing moves, so calling Compact again right away is
// a no-op. It reports the number of fingerprints that were moved.
func (f *Filter) Compact() uint64 {
	var moved uint64
	for {
		n := f.compactPass()
		moved += n
		f.dropEmptyTail()
		if n == 0 {
			return moved
		}
	}
}

// compactPass walks generations from the newest down to generation 1.
func (f *Filter) compactPass() uint64 {
	var moved uint64
	for k := len(f.gens) - 1; k > 0; k-- {
		if k >= len(f.gens) {
			// Dropped together with an emptied tail.
			continue
		}
		src := f.gens[k]
		for s := range src.enumerate(0) {
			if f.relocate(k, s) {
				src.bucket(s.Bucket)[s.Index] = emptySlot
				moved++
			}
		}
		if k == len(f.gens)-1 {
			f.dropEmptyTail()
		}
	}
	return moved
}

// relocate stores s in the oldest generation before k with room for it.
func (f *Filter) relocate(k int, s Slot) bool {
	for _, dst := range f.gens[:k] {
		i1 := s.Bucket & (dst.numBuckets - 1)
		i2 := altIndex(i1, s.FP, dst.numBuckets)
		if _, ok := dst.tryInsert(i1, s.FP); ok {
			return true
		}
		if _, ok := dst.tryInsert(i2, s.FP); ok {
			return true
		}
	}
	return false
}

func (f *Filter) dropEmptyTail() {
	for len(f.gens) > 1 && f.gens[len(f.gens)-1].occupied() == 0 {
		f.gens[len(f.gens)-1] = nil
		f.gens = f.gens[:len(f.gens)-1]
	}
}

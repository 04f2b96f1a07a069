package cuckoo

import (
	"iter"
	"math/rand/v2"
)

// generation is one bucket table in a filter's growth chain. Buckets are laid
// out back to back in data, bucketSize slots each, so the serialized form of
// a generation is data itself.
type generation struct {
	numBuckets uint64
	bucketSize uint16
	data       []byte
}

func newGeneration(numBuckets uint64, bucketSize uint16) *generation {
	return &generation{
		numBuckets: numBuckets,
		bucketSize: bucketSize,
		data:       make([]byte, numBuckets*uint64(bucketSize)),
	}
}

// bucket returns the slots of bucket i.
func (g *generation) bucket(i uint64) []byte {
	start := i * uint64(g.bucketSize)
	return g.data[start : start+uint64(g.bucketSize) : start+uint64(g.bucketSize)]
}

// byteLen is the payload size of the generation.
func (g *generation) byteLen() uint64 {
	return uint64(len(g.data))
}

// tryInsert stores fp in the first empty slot of bucket i.
func (g *generation) tryInsert(i uint64, fp Fingerprint) (int, bool) {
	b := g.bucket(i)
	for slot, v := range b {
		if v == emptySlot {
			b[slot] = fp
			return slot, true
		}
	}
	return 0, false
}

func (g *generation) contains(i uint64, fp Fingerprint) bool {
	for _, v := range g.bucket(i) {
		if v == fp {
			return true
		}
	}
	return false
}

// count returns the number of slots of bucket i holding fp.
func (g *generation) count(i uint64, fp Fingerprint) uint64 {
	var n uint64
	for _, v := range g.bucket(i) {
		if v == fp {
			n++
		}
	}
	return n
}

// removeOne clears a single slot of bucket i holding fp.
func (g *generation) removeOne(i uint64, fp Fingerprint) bool {
	b := g.bucket(i)
	for slot, v := range b {
		if v == fp {
			b[slot] = emptySlot
			return true
		}
	}
	return false
}

// randomOccupiedSlot picks a uniformly random occupied slot of bucket i.
func (g *generation) randomOccupiedSlot(i uint64, rng *rand.Rand) (int, Fingerprint, bool) {
	b := g.bucket(i)
	var occupied int
	for _, v := range b {
		if v != emptySlot {
			occupied++
		}
	}
	if occupied == 0 {
		return 0, emptySlot, false
	}
	pick := rng.IntN(occupied)
	for slot, v := range b {
		if v == emptySlot {
			continue
		}
		if pick == 0 {
			return slot, v, true
		}
		pick--
	}
	return 0, emptySlot, false
}

// occupied returns the number of non-empty slots.
func (g *generation) occupied() uint64 {
	var n uint64
	for _, v := range g.data {
		if v != emptySlot {
			n++
		}
	}
	return n
}

// Slot is an occupied position yielded by enumerate.
type Slot struct {
	Bucket uint64
	Index  int
	FP     Fingerprint
}

// enumerate yields every occupied slot starting at byte offset from. A caller
// can stop early and resume later from Bucket*bucketSize+Index+1.
func (g *generation) enumerate(from uint64) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for off := from; off < g.byteLen(); off++ {
			fp := g.data[off]
			if fp == emptySlot {
				continue
			}
			s := Slot{
				Bucket: off / uint64(g.bucketSize),
				Index:  int(off % uint64(g.bucketSize)),
				FP:     fp,
			}
			if !yield(s) {
				return
			}
		}
	}
}

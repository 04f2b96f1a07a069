package cuckoo

import "github.com/zeebo/xxh3"

// Fingerprint is the short hash stored in a bucket slot. Zero marks an empty slot.
type Fingerprint = uint8

const emptySlot Fingerprint = 0

// altMultiplier scatters a fingerprint before it is XORed into a bucket index.
const altMultiplier = 0x5bd1e995

// lookupParams holds the generation-independent part of an item's location.
// The bucket indices for a generation with n buckets are h1%n and h2%n.
type lookupParams struct {
	h1 uint64
	h2 uint64
	fp Fingerprint
}

// hashItem derives the lookup parameters of an item.
func hashItem(data []byte) lookupParams {
	return paramsFromHash(xxh3.Hash(data))
}

// hashItemString is hashItem for string items, without allocating.
func hashItemString(s string) lookupParams {
	return paramsFromHash(xxh3.HashString(s))
}

func paramsFromHash(h uint64) lookupParams {
	fp := Fingerprint(h%255 + 1)
	return lookupParams{
		h1: h,
		h2: h ^ altTag(fp),
		fp: fp,
	}
}

// altTag is odd, so an index and its alternate always differ in bit 0 and the
// two candidate buckets are distinct in every generation with n >= 2.
func altTag(fp Fingerprint) uint64 {
	return uint64(fp)*altMultiplier | 1
}

// altIndex returns the other candidate bucket of fp given one of them.
// numBuckets is a power of two, so altIndex(altIndex(i)) == i.
func altIndex(index uint64, fp Fingerprint, numBuckets uint64) uint64 {
	return (index ^ altTag(fp)) & (numBuckets - 1)
}

// indices reduces the lookup parameters to a generation of numBuckets buckets.
func (p lookupParams) indices(numBuckets uint64) (i1, i2 uint64) {
	mask := numBuckets - 1
	return p.h1 & mask, p.h2 & mask
}

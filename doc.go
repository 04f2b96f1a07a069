// Package cuckoo provides a scalable cuckoo filter for Go.
//
// A cuckoo filter is a space-efficient probabilistic data structure that
// tests whether an element is a member of a set. Like a bloom filter it can
// report false positives but never false negatives. Unlike a bloom filter it
// supports deleting items and counting how many times an item was added.
//
// # Architecture
//
// Items are never stored. Each item is hashed once with xxh3 and reduced to a
// one-byte fingerprint and two candidate buckets. A bucket holds a fixed
// number of fingerprint slots (the bucket size). Inserting an item places its
// fingerprint in a free slot of either candidate bucket; when both are full a
// random occupant is evicted ("kicked") to its own alternate bucket, and so
// on, up to a fixed number of iterations. A kick chain that does not find a
// free slot is rolled back, so a failed insertion leaves the filter as it was.
//
// The alternate bucket is derived from the current bucket and the
// fingerprint alone:
//
//	alt(i, fp) = (i ^ (fp*0x5bd1e995 | 1)) mod n
//
// Every bucket count n is a power of two, which makes alt an involution and
// lets the same item hash be reduced to any generation size.
//
// # Growth
//
// A [Filter] is a chain of bucket tables called generations. Insertions only
// go to the newest generation. When its kick budget is exhausted a new
// generation with expansion times as many buckets is appended and the item
// is placed there. A non-zero expansion is rounded up to a power of two, so
// an expansion of 3 grows like 4. Lookups, counts and deletions visit every generation. An
// expansion of zero creates a non-scaling filter that fails with
// [ErrFilterFull] instead of growing, and a scaling filter fails with
// [ErrMaxExpansions] once it has MaxGenerations generations.
//
// [Filter.Compact] repacks fingerprints from newer generations into free
// slots of older ones and drops trailing generations that become empty.
//
// # Serialization
//
// [Filter.ScanDump] emits a filter as a header chunk followed by bounded data
// chunks, each addressed by a resumable cursor, and [LoadHeader] plus
// [Filter.LoadChunk] rebuild it. Chunks are treated as untrusted: every
// declared length and size is validated before it is used to allocate or
// copy, and invalid chunks fail with [ErrCorruptData].
//
//	f, _ := cuckoo.New(1000)
//	_ = f.AddString("apple")
//	for cursor, chunk := range f.Chunks() {
//		// persist cursor and chunk
//	}
//
// # Choosing Parameters
//
// The false positive rate grows with the bucket size and the number of
// generations: a lookup compares the fingerprint against 2*b slots in each of
// g generations, so the rate is roughly 2*b*g/255. Larger buckets reach a
// higher fill ratio before growing. More iterations make insertions slower
// but postpone growth.
//
// # Thread Safety
//
// [Filter] is NOT thread-safe. The commands package serializes access per
// store for hosts that call it concurrently.
package cuckoo

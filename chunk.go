package cuckoo

import (
	"encoding/binary"
	"fmt"
	"iter"
)

// Chunk format constants.
const (
	// chunkVersion is the current serialization format version.
	chunkVersion byte = 1

	chunkKindHeader byte = 1
	chunkKindData   byte = 2

	// headerChunkSize is the exact size of the header chunk:
	// Version (1) + Kind (1) + BucketSize (2) + MaxIterations (2) +
	// Expansion (2) + NumGenerations (2) + MaxGenerations (2) +
	// NumBuckets (8) + Capacity (8) + NumItems (8) + NumDeletes (8) = 44 bytes
	headerChunkSize = 44

	// dataChunkHeaderSize prefixes every data chunk:
	// Version (1) + Kind (1) + Generation (2) + Offset (8) + Length (4) = 16 bytes
	dataChunkHeaderSize = 16
)

// ScanDump returns the chunk following cursor and the cursor to pass to the
// next call. Cursor 0 starts a scan and yields the header chunk; a returned
// cursor of 0 ends it. A filter without items dumps nothing.
//
// Data cursors are one past the absolute byte offset, across the whole
// chain, of the last payload byte emitted. They are resolved against the
// chain on every call.
//
// The filter must not be modified while a scan is in progress.
func (f *Filter) ScanDump(cursor int64) (int64, []byte, error) {
	if cursor < 0 {
		return 0, nil, fmt.Errorf("%w: negative cursor %d", ErrInvalidArgument, cursor)
	}
	if cursor == 0 {
		if f.numItems == 0 {
			return 0, nil, nil
		}
		return 1, f.encodeHeader(), nil
	}

	k, off, ok := f.resolve(uint64(cursor - 1))
	if !ok {
		return 0, nil, nil
	}
	g := f.gens[k]
	n := min(g.byteLen()-off, uint64(f.chunkSize))

	buf := make([]byte, dataChunkHeaderSize+n)
	buf[0] = chunkVersion
	buf[1] = chunkKindData
	binary.LittleEndian.PutUint16(buf[2:4], uint16(k))
	binary.LittleEndian.PutUint64(buf[4:12], off)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n))
	copy(buf[dataChunkHeaderSize:], g.data[off:off+n])

	return cursor + int64(n), buf, nil
}

// Chunks iterates over a complete dump of the filter as (cursor, chunk)
// pairs, in the order LoadHeader and LoadChunk expect them.
func (f *Filter) Chunks() iter.Seq2[int64, []byte] {
	return func(yield func(int64, []byte) bool) {
		var cursor int64
		for {
			next, chunk, err := f.ScanDump(cursor)
			if err != nil || next == 0 {
				return
			}
			if !yield(next, chunk) {
				return
			}
			cursor = next
		}
	}
}

// resolve maps an absolute byte offset to a generation and an offset in it.
func (f *Filter) resolve(abs uint64) (int, uint64, bool) {
	for k, g := range f.gens {
		if abs < g.byteLen() {
			return k, abs, true
		}
		abs -= g.byteLen()
	}
	return 0, 0, false
}

// absOffset is the inverse of resolve.
func (f *Filter) absOffset(k int, off uint64) uint64 {
	for _, g := range f.gens[:k] {
		off += g.byteLen()
	}
	return off
}

// Header returns the header chunk of the filter, even when it holds no items.
// Stores that must keep empty filters write it at cursor 1 and follow it with
// the data chunks of ScanDump(1) onwards.
func (f *Filter) Header() []byte {
	return f.encodeHeader()
}

func (f *Filter) encodeHeader() []byte {
	buf := make([]byte, headerChunkSize)
	buf[0] = chunkVersion
	buf[1] = chunkKindHeader
	binary.LittleEndian.PutUint16(buf[2:4], f.params.BucketSize)
	binary.LittleEndian.PutUint16(buf[4:6], f.params.MaxIterations)
	binary.LittleEndian.PutUint16(buf[6:8], f.params.Expansion)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(f.gens)))
	binary.LittleEndian.PutUint16(buf[10:12], f.params.MaxGenerations)
	binary.LittleEndian.PutUint64(buf[12:20], f.gens[0].numBuckets)
	binary.LittleEndian.PutUint64(buf[20:28], f.capacity)
	binary.LittleEndian.PutUint64(buf[28:36], f.numItems)
	binary.LittleEndian.PutUint64(buf[36:44], f.numDeletes)
	return buf
}

// LoadHeader creates an empty filter from a header chunk produced by
// ScanDump. Every field is validated, and the memory guard consulted, before
// any allocation sized from the header takes place.
func LoadHeader(chunk []byte, opts ...Option) (*Filter, error) {
	if len(chunk) != headerChunkSize {
		return nil, fmt.Errorf("%w: header length %d, expected %d", ErrCorruptData, len(chunk), headerChunkSize)
	}
	if chunk[0] != chunkVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptData, chunk[0])
	}
	if chunk[1] != chunkKindHeader {
		return nil, fmt.Errorf("%w: not a header chunk", ErrCorruptData)
	}

	p := Params{
		BucketSize:     binary.LittleEndian.Uint16(chunk[2:4]),
		MaxIterations:  binary.LittleEndian.Uint16(chunk[4:6]),
		Expansion:      binary.LittleEndian.Uint16(chunk[6:8]),
		MaxGenerations: binary.LittleEndian.Uint16(chunk[10:12]),
	}
	numGens := int(binary.LittleEndian.Uint16(chunk[8:10]))
	n0 := binary.LittleEndian.Uint64(chunk[12:20])
	capacity := binary.LittleEndian.Uint64(chunk[20:28])
	numItems := binary.LittleEndian.Uint64(chunk[28:36])
	numDeletes := binary.LittleEndian.Uint64(chunk[36:44])

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	p.Expansion = roundExpansion(p.Expansion)
	if numGens == 0 || numGens > int(p.MaxGenerations) {
		return nil, fmt.Errorf("%w: %d generations, limit %d", ErrCorruptData, numGens, p.MaxGenerations)
	}
	if p.Expansion == 0 && numGens != 1 {
		return nil, fmt.Errorf("%w: non scaling filter with %d generations", ErrCorruptData, numGens)
	}
	if !isPowerOf2(n0) || n0 > MaxBuckets {
		return nil, fmt.Errorf("%w: invalid bucket count %d", ErrCorruptData, n0)
	}
	if capacity < minCapacityRatio*uint64(p.BucketSize) || capacity/uint64(p.BucketSize) > MaxBuckets ||
		initialBuckets(capacity, p.BucketSize) != n0 {
		return nil, fmt.Errorf("%w: capacity %d does not match %d buckets", ErrCorruptData, capacity, n0)
	}

	sizes := make([]uint64, numGens)
	var total uint64
	for k := range sizes {
		n, ok := generationBuckets(n0, p.Expansion, k)
		if !ok {
			return nil, fmt.Errorf("%w: generation %d overflows", ErrCorruptData, k)
		}
		bytes, ok := mulBytes(n, uint64(p.BucketSize))
		if !ok || total+bytes < total {
			return nil, fmt.Errorf("%w: generation %d overflows", ErrCorruptData, k)
		}
		sizes[k] = n
		total += bytes
	}
	if numItems > total {
		return nil, fmt.Errorf("%w: %d items exceed %d slots", ErrCorruptData, numItems, total)
	}

	f := newFilter(capacity, p, opts...)
	if !f.guard.CanAllocate(total) {
		return nil, fmt.Errorf("%w: cannot allocate %d bytes", ErrInsufficientMemory, total)
	}
	f.numItems = numItems
	f.numDeletes = numDeletes
	f.gens = make([]*generation, 0, numGens)
	for _, n := range sizes {
		f.gens = append(f.gens, newGeneration(n, p.BucketSize))
	}
	return f, nil
}

// LoadChunk copies a data chunk produced by ScanDump into the filter. cursor
// is the value ScanDump returned together with the chunk. A chunk that fails
// validation is rejected with ErrCorruptData and the filter is left as it was.
func (f *Filter) LoadChunk(cursor int64, chunk []byte) error {
	if cursor <= 1 {
		return fmt.Errorf("%w: cursor %d out of range", ErrInvalidArgument, cursor)
	}
	if len(chunk) <= dataChunkHeaderSize {
		return fmt.Errorf("%w: chunk length %d", ErrCorruptData, len(chunk))
	}
	if chunk[0] != chunkVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptData, chunk[0])
	}
	if chunk[1] != chunkKindData {
		return fmt.Errorf("%w: not a data chunk", ErrCorruptData)
	}

	k := int(binary.LittleEndian.Uint16(chunk[2:4]))
	off := binary.LittleEndian.Uint64(chunk[4:12])
	n := uint64(binary.LittleEndian.Uint32(chunk[12:16]))
	payload := chunk[dataChunkHeaderSize:]

	if k >= len(f.gens) {
		return fmt.Errorf("%w: generation %d of %d", ErrCorruptData, k, len(f.gens))
	}
	g := f.gens[k]
	if n == 0 || n != uint64(len(payload)) {
		return fmt.Errorf("%w: declared length %d, payload %d", ErrCorruptData, n, len(payload))
	}
	if off > g.byteLen() || n > g.byteLen()-off {
		return fmt.Errorf("%w: range [%d, %d) outside generation %d of %d bytes",
			ErrCorruptData, off, off+n, k, g.byteLen())
	}
	if uint64(cursor) != 1+f.absOffset(k, off)+n {
		return fmt.Errorf("%w: cursor %d does not match chunk position", ErrCorruptData, cursor)
	}

	copy(g.data[off:off+n], payload)
	return nil
}

// Load rebuilds a filter from a complete sequence of chunks, such as the one
// produced by Chunks.
func Load(chunks iter.Seq2[int64, []byte], opts ...Option) (*Filter, error) {
	var f *Filter
	for cursor, chunk := range chunks {
		if f == nil {
			if cursor != 1 {
				return nil, fmt.Errorf("%w: first chunk has cursor %d", ErrCorruptData, cursor)
			}
			var err error
			if f, err = LoadHeader(chunk, opts...); err != nil {
				return nil, err
			}
			continue
		}
		if err := f.LoadChunk(cursor, chunk); err != nil {
			return nil, err
		}
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no header chunk", ErrCorruptData)
	}
	return f, nil
}

package cuckoo

import (
	"fmt"
	"math/rand/v2"
)

// Fixed overheads counted by Info on top of the bucket bytes.
const (
	filterStructBytes     = 40
	generationStructBytes = 16
)

// Params are the per-filter tuning values fixed at creation.
type Params struct {
	// BucketSize is the number of slots per bucket, in [1, 255].
	BucketSize uint16
	// MaxIterations is the kick budget of one insertion, in [1, 65535].
	MaxIterations uint16
	// Expansion is the growth factor between generations, in [0, 32768].
	// Zero makes the filter non-scaling. Other values are rounded up to a
	// power of two when the filter is created.
	Expansion uint16
	// MaxGenerations caps the length of the growth chain, in [1, 65535].
	MaxGenerations uint16
}

// DefaultParams returns the stock tuning values.
func DefaultParams() Params {
	return DefaultConfig().Params()
}

// Params snapshots the per-filter tuning values of the configuration.
func (c Config) Params() Params {
	return Params{
		BucketSize:     c.BucketSize,
		MaxIterations:  c.MaxIterations,
		Expansion:      c.Expansion,
		MaxGenerations: c.MaxExpansions,
	}
}

// Validate checks every field against its allowed range.
func (p Params) Validate() error {
	if err := validateBucketSize(uint64(p.BucketSize)); err != nil {
		return err
	}
	if err := validateMaxIterations(uint64(p.MaxIterations)); err != nil {
		return err
	}
	if err := validateExpansion(uint64(p.Expansion)); err != nil {
		return err
	}
	if p.MaxGenerations == 0 {
		return fmt.Errorf("%w: max generations must be in [1, %d]", ErrInvalidArgument, MaxGenerations)
	}
	return nil
}

// Option customizes a filter at construction.
type Option func(*Filter)

// WithRand sets the source of randomness used to pick eviction victims.
func WithRand(rng *rand.Rand) Option {
	return func(f *Filter) { f.rng = rng }
}

// WithSeed seeds the eviction RNG so kick sequences are reproducible.
func WithSeed(seed uint64) Option {
	return WithRand(newRand(seed))
}

// WithMemoryGuard sets the guard consulted before every generation allocation.
func WithMemoryGuard(g MemoryGuard) Option {
	return func(f *Filter) { f.guard = g }
}

// WithChunkSize bounds the payload size of ScanDump chunks.
func WithChunkSize(n uint32) Option {
	return func(f *Filter) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithConfig applies the non-tuning settings of a Config: chunk size, memory
// limit and seed.
func WithConfig(c Config) Option {
	return func(f *Filter) {
		WithChunkSize(c.ChunkSize)(f)
		WithMemoryGuard(LimitGuard(c.MaxMemory))(f)
		if c.Seed != 0 {
			WithSeed(c.Seed)(f)
		}
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Filter is a scalable cuckoo filter: a chain of bucket tables ("generations")
// holding one-byte fingerprints. New generations are appended when the active
// one cannot absorb an insertion. A Filter is not safe for concurrent use.
type Filter struct {
	capacity   uint64
	params     Params
	gens       []*generation
	numItems   uint64 // fingerprints currently stored
	numDeletes uint64

	rng       *rand.Rand
	guard     MemoryGuard
	chunkSize uint32
}

// New creates a filter for capacity items with the default parameters.
func New(capacity uint64, opts ...Option) (*Filter, error) {
	return NewWithParams(capacity, DefaultParams(), opts...)
}

// NewWithParams creates a filter for capacity items. All arguments are
// validated and the memory guard consulted before anything is allocated.
func NewWithParams(capacity uint64, p Params, opts ...Option) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Expansion = roundExpansion(p.Expansion)
	if capacity < minCapacityRatio*uint64(p.BucketSize) {
		return nil, fmt.Errorf("%w: capacity must be at least %d (bucket size * %d)",
			ErrInvalidArgument, minCapacityRatio*uint64(p.BucketSize), minCapacityRatio)
	}
	if capacity/uint64(p.BucketSize) > MaxBuckets {
		return nil, fmt.Errorf("%w: capacity %d is too large", ErrInvalidArgument, capacity)
	}
	n0 := initialBuckets(capacity, p.BucketSize)
	if n0 > MaxBuckets {
		return nil, fmt.Errorf("%w: capacity %d is too large", ErrInvalidArgument, capacity)
	}

	f := newFilter(capacity, p, opts...)
	size, ok := mulBytes(n0, uint64(p.BucketSize))
	if !ok || !f.guard.CanAllocate(size) {
		return nil, fmt.Errorf("%w: cannot allocate %d buckets of %d slots", ErrInsufficientMemory, n0, p.BucketSize)
	}
	f.gens = append(f.gens, newGeneration(n0, p.BucketSize))
	return f, nil
}

// newFilter builds a filter without generations.
func newFilter(capacity uint64, p Params, opts ...Option) *Filter {
	f := &Filter{
		capacity:  capacity,
		params:    p,
		guard:     LimitGuard(DefaultMaxMemory),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return f
}

// Add inserts data, allowing duplicates.
func (f *Filter) Add(data []byte) error {
	return f.insert(hashItem(data))
}

// AddString inserts a string without allocating.
func (f *Filter) AddString(s string) error {
	return f.insert(hashItemString(s))
}

// AddNX inserts data unless it (or a colliding fingerprint) is already
// present. It reports whether the item was inserted.
func (f *Filter) AddNX(data []byte) (bool, error) {
	return f.insertUnique(hashItem(data))
}

// AddNXString is AddNX for string items.
func (f *Filter) AddNXString(s string) (bool, error) {
	return f.insertUnique(hashItemString(s))
}

func (f *Filter) insertUnique(p lookupParams) (bool, error) {
	if f.exists(p) {
		return false, nil
	}
	if err := f.insert(p); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether data might be in the filter. False negatives only
// happen for items deleted at least as many times as they were added.
func (f *Filter) Exists(data []byte) bool {
	return f.exists(hashItem(data))
}

// ExistsString is Exists for string items.
func (f *Filter) ExistsString(s string) bool {
	return f.exists(hashItemString(s))
}

func (f *Filter) exists(p lookupParams) bool {
	for _, g := range f.gens {
		i1, i2 := p.indices(g.numBuckets)
		if g.contains(i1, p.fp) || g.contains(i2, p.fp) {
			return true
		}
	}
	return false
}

// Count returns an upper estimate of how many times data was added and not
// deleted. Fingerprint collisions can only make it larger.
func (f *Filter) Count(data []byte) uint64 {
	return f.count(hashItem(data))
}

// CountString is Count for string items.
func (f *Filter) CountString(s string) uint64 {
	return f.count(hashItemString(s))
}

func (f *Filter) count(p lookupParams) uint64 {
	var n uint64
	for _, g := range f.gens {
		i1, i2 := p.indices(g.numBuckets)
		n += g.count(i1, p.fp) + g.count(i2, p.fp)
	}
	return n
}

// Delete removes one occurrence of data and reports whether one was found.
func (f *Filter) Delete(data []byte) bool {
	return f.delete(hashItem(data))
}

// DeleteString is Delete for string items.
func (f *Filter) DeleteString(s string) bool {
	return f.delete(hashItemString(s))
}

func (f *Filter) delete(p lookupParams) bool {
	// Newest first: generation sizes differ, so indices are per generation.
	for k := len(f.gens) - 1; k >= 0; k-- {
		g := f.gens[k]
		i1, i2 := p.indices(g.numBuckets)
		if g.removeOne(i1, p.fp) || g.removeOne(i2, p.fp) {
			f.numItems--
			f.numDeletes++
			return true
		}
	}
	return false
}

// Capacity returns the capacity hint given at creation.
func (f *Filter) Capacity() uint64 {
	return f.capacity
}

// Params returns the tuning values of the filter.
func (f *Filter) Params() Params {
	return f.params
}

// NumItems returns the number of fingerprints currently stored.
func (f *Filter) NumItems() uint64 {
	return f.numItems
}

// NumDeletes returns the number of successful deletions.
func (f *Filter) NumDeletes() uint64 {
	return f.numDeletes
}

// NumGenerations returns the length of the growth chain.
func (f *Filter) NumGenerations() int {
	return len(f.gens)
}

// GenerationBuckets returns the bucket count of every generation, oldest first.
func (f *Filter) GenerationBuckets() []uint64 {
	out := make([]uint64, len(f.gens))
	for k, g := range f.gens {
		out[k] = g.numBuckets
	}
	return out
}

// Slots returns the total number of fingerprint slots across all generations.
func (f *Filter) Slots() uint64 {
	var n uint64
	for _, g := range f.gens {
		n += g.byteLen()
	}
	return n
}

// FillRatio returns the proportion of occupied slots.
func (f *Filter) FillRatio() float64 {
	slots := f.Slots()
	if slots == 0 {
		return 0
	}
	var used uint64
	for _, g := range f.gens {
		used += g.occupied()
	}
	return float64(used) / float64(slots)
}

// Info is a snapshot of a filter's size and counters.
type Info struct {
	Size          uint64
	NumBuckets    uint64
	NumFilters    int
	NumItems      uint64
	NumDeletes    uint64
	BucketSize    uint16
	Expansion     uint16
	MaxIterations uint16
}

// Info returns the filter's size and counters.
func (f *Filter) Info() Info {
	return Info{
		Size:          filterStructBytes + generationStructBytes*uint64(len(f.gens)) + f.Slots(),
		NumBuckets:    f.gens[0].numBuckets,
		NumFilters:    len(f.gens),
		NumItems:      f.numItems,
		NumDeletes:    f.numDeletes,
		BucketSize:    f.params.BucketSize,
		Expansion:     f.params.Expansion,
		MaxIterations: f.params.MaxIterations,
	}
}

// Debug returns the one-line diagnostic summary of the filter.
func (f *Filter) Debug() string {
	return fmt.Sprintf("bktsize:%d buckets:%d items:%d deletes:%d filters:%d max_iterations:%d expansion:%d",
		f.params.BucketSize, f.gens[0].numBuckets, f.numItems, f.numDeletes,
		len(f.gens), f.params.MaxIterations, f.params.Expansion)
}

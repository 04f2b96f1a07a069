package cuckoo

import (
	"fmt"
	"io"
	"math/bits"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBucketSize is the number of fingerprint slots per bucket.
	DefaultBucketSize = 2
	// DefaultCapacity is the capacity used when a filter is created implicitly.
	DefaultCapacity = 1024
	// DefaultMaxIterations is the default kick budget of one insertion.
	DefaultMaxIterations = 20
	// DefaultExpansion is the default growth factor between generations.
	DefaultExpansion = 1
	// DefaultMaxExpansions is the default limit on the number of generations.
	DefaultMaxExpansions = 32
	// DefaultChunkSize bounds the payload of a single ScanDump chunk (10 MiB).
	DefaultChunkSize = 10 << 20
	// DefaultMaxMemory is the default allocation limit of a single filter (4 GiB).
	DefaultMaxMemory = 4 << 30

	MaxBucketSize    = 255
	MaxIterations    = 65535
	MaxExpansion     = 32768
	MaxGenerations   = 65535
	MaxInitialSize   = 1 << 30
	MaxBuckets       = 1<<56 - 1
	minChunkSize     = 1
	maxChunkSize     = 512 << 20
	minCapacityRatio = 2 // capacity must be at least minCapacityRatio*bucketSize
)

// Config holds the process-wide default tuning parameters. Each filter takes
// a snapshot of the values it needs when it is created, so changing a Config
// afterwards never affects existing filters.
type Config struct {
	BucketSize    uint16 `yaml:"bucket_size"`
	InitialSize   uint64 `yaml:"initial_size"`
	MaxIterations uint16 `yaml:"max_iterations"`
	Expansion     uint16 `yaml:"expansion"`
	MaxExpansions uint16 `yaml:"max_expansions"`

	// ChunkSize is the maximum number of payload bytes per ScanDump chunk.
	ChunkSize uint32 `yaml:"chunk_size"`
	// MaxMemory is the byte limit consulted by the default memory guard.
	MaxMemory uint64 `yaml:"max_memory"`
	// Seed seeds the eviction RNG. Zero means a random seed.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		BucketSize:    DefaultBucketSize,
		InitialSize:   DefaultCapacity,
		MaxIterations: DefaultMaxIterations,
		Expansion:     DefaultExpansion,
		MaxExpansions: DefaultMaxExpansions,
		ChunkSize:     DefaultChunkSize,
		MaxMemory:     DefaultMaxMemory,
	}
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	if err := validateBucketSize(uint64(c.BucketSize)); err != nil {
		return err
	}
	if err := validateMaxIterations(uint64(c.MaxIterations)); err != nil {
		return err
	}
	if err := validateExpansion(uint64(c.Expansion)); err != nil {
		return err
	}
	if c.MaxExpansions == 0 {
		return fmt.Errorf("%w: max expansions must be in [1, %d]", ErrInvalidArgument, MaxGenerations)
	}
	// The initial size and bucket size constrain each other.
	if c.InitialSize < minCapacityRatio*uint64(c.BucketSize) || c.InitialSize > MaxInitialSize {
		return fmt.Errorf("%w: initial size must be in [%d, %d]",
			ErrInvalidArgument, minCapacityRatio*uint64(c.BucketSize), MaxInitialSize)
	}
	if c.ChunkSize < minChunkSize || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("%w: chunk size must be in [%d, %d]", ErrInvalidArgument, minChunkSize, maxChunkSize)
	}
	if c.MaxMemory == 0 {
		return fmt.Errorf("%w: max memory must be positive", ErrInvalidArgument)
	}
	return nil
}

// LoadConfig decodes a YAML document on top of DefaultConfig and validates
// the result. Fields missing from the document keep their default values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateBucketSize(b uint64) error {
	if b < 1 || b > MaxBucketSize {
		return fmt.Errorf("%w: bucket size must be in [1, %d]", ErrInvalidArgument, MaxBucketSize)
	}
	return nil
}

func validateMaxIterations(i uint64) error {
	if i < 1 || i > MaxIterations {
		return fmt.Errorf("%w: max iterations must be in [1, %d]", ErrInvalidArgument, MaxIterations)
	}
	return nil
}

func validateExpansion(e uint64) error {
	if e > MaxExpansion {
		return fmt.Errorf("%w: expansion must be in [0, %d]", ErrInvalidArgument, MaxExpansion)
	}
	return nil
}

// MemoryGuard decides whether a filter may allocate the given number of bytes.
// Hosts that track their own memory budget plug in here.
type MemoryGuard interface {
	CanAllocate(bytes uint64) bool
}

// LimitGuard allows any single allocation up to a fixed number of bytes.
type LimitGuard uint64

// CanAllocate implements MemoryGuard.
func (l LimitGuard) CanAllocate(bytes uint64) bool {
	return bytes <= uint64(l)
}

// initialBuckets computes the bucket count of generation 0.
func initialBuckets(capacity uint64, bucketSize uint16) uint64 {
	n := capacity / uint64(bucketSize)
	if capacity%uint64(bucketSize) != 0 {
		n++
	}
	return nextPowerOf2(n)
}

// roundExpansion rounds a non-zero expansion up to a power of two, which keeps
// every generation's bucket count a power of two.
func roundExpansion(e uint16) uint16 {
	if e == 0 {
		return 0
	}
	return uint16(nextPowerOf2(uint64(e)))
}

// generationBuckets returns n0 * expansion^k, or ok=false on overflow or if
// the result exceeds MaxBuckets.
func generationBuckets(n0 uint64, expansion uint16, k int) (uint64, bool) {
	e := uint64(max(expansion, 1))
	n := n0
	for range k {
		hi, lo := bits.Mul64(n, e)
		if hi != 0 || lo > MaxBuckets {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// mulBytes returns a*b, or ok=false on overflow.
func mulBytes(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func isPowerOf2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

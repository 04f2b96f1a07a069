// Package commands exposes cuckoo filters as keyed values in a host
// key-value store, with the reply semantics of the CF.* command family.
package commands

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/jcalabro/cuckoo"
)

// Per-item outcomes reported by Insert and InsertNX.
const (
	StatusFailed   = -1
	StatusExists   = 0
	StatusInserted = 1
)

// ItemResult is the outcome of inserting one item of a batch. Err is set
// when Status is StatusFailed.
type ItemResult struct {
	Status int
	Err    error
}

// InsertOptions control the auto-creation done by Insert and InsertNX.
type InsertOptions struct {
	// Capacity of a filter created by the call. Zero uses the configured
	// initial size.
	Capacity uint64
	// NoCreate makes the call fail with cuckoo.ErrNotFound instead of
	// creating a missing filter.
	NoCreate bool
}

type reserveArgs struct {
	bucketSize    uint64
	maxIterations uint64
	expansion     uint64
}

// ReserveOption overrides a tuning default for one Reserve call.
type ReserveOption func(*reserveArgs)

// BucketSize sets the number of slots per bucket.
func BucketSize(n uint64) ReserveOption {
	return func(a *reserveArgs) { a.bucketSize = n }
}

// MaxIterations sets the kick budget of one insertion.
func MaxIterations(n uint64) ReserveOption {
	return func(a *reserveArgs) { a.maxIterations = n }
}

// Expansion sets the growth factor. Zero reserves a non-scaling filter.
func Expansion(n uint64) ReserveOption {
	return func(a *reserveArgs) { a.expansion = n }
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Store runs filter commands against a Keyspace. Every call holds the store
// lock for its whole duration, so a Store may be shared between goroutines.
type Store struct {
	mu  sync.Mutex
	ks  Keyspace
	cfg cuckoo.Config
	log *zap.Logger
}

// New returns a Store over ks using cfg for the defaults of new filters.
func New(ks Keyspace, cfg cuckoo.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		ks:  ks,
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetConfig replaces the defaults used for filters created from now on.
// Existing filters keep the values they were created with.
func (s *Store) SetConfig(cfg cuckoo.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// Config returns the current defaults.
func (s *Store) Config() cuckoo.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reserve creates an empty filter for capacity items under key.
func (s *Store) Reserve(key string, capacity uint64, opts ...ReserveOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := reserveArgs{
		bucketSize:    uint64(s.cfg.BucketSize),
		maxIterations: uint64(s.cfg.MaxIterations),
		expansion:     uint64(s.cfg.Expansion),
	}
	for _, opt := range opts {
		opt(&a)
	}
	if a.bucketSize > math.MaxUint16 || a.maxIterations > math.MaxUint16 || a.expansion > math.MaxUint16 {
		return fmt.Errorf("%w: bucket size %d, max iterations %d, expansion %d",
			cuckoo.ErrInvalidArgument, a.bucketSize, a.maxIterations, a.expansion)
	}
	p := cuckoo.Params{
		BucketSize:     uint16(a.bucketSize),
		MaxIterations:  uint16(a.maxIterations),
		Expansion:      uint16(a.expansion),
		MaxGenerations: s.cfg.MaxExpansions,
	}
	if err := p.Validate(); err != nil {
		return err
	}

	f, err := s.lookup(key)
	if err != nil {
		return err
	}
	if f != nil {
		return cuckoo.ErrAlreadyExists
	}
	_, err = s.create(key, capacity, p)
	return err
}

// Add inserts item into the filter under key, creating it with the default
// parameters if needed. Duplicates are allowed.
func (s *Store) Add(key string, item []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreate(key, 0, false)
	if err != nil {
		return err
	}
	gens := f.NumGenerations()
	err = f.Add(item)
	s.logGrowth(key, f, gens)
	return err
}

// AddNX inserts item unless it may already be present and reports whether it
// was inserted.
func (s *Store) AddNX(key string, item []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreate(key, 0, false)
	if err != nil {
		return false, err
	}
	gens := f.NumGenerations()
	added, err := f.AddNX(item)
	s.logGrowth(key, f, gens)
	return added, err
}

// Insert adds every item, reporting one result per item. Per-item failures
// such as a full filter do not stop the batch.
func (s *Store) Insert(key string, opts InsertOptions, items ...[]byte) ([]ItemResult, error) {
	return s.insertMany(key, opts, false, items)
}

// InsertNX is Insert with AddNX semantics per item.
func (s *Store) InsertNX(key string, opts InsertOptions, items ...[]byte) ([]ItemResult, error) {
	return s.insertMany(key, opts, true, items)
}

func (s *Store) insertMany(key string, opts InsertOptions, nx bool, items [][]byte) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", cuckoo.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreate(key, opts.Capacity, opts.NoCreate)
	if err != nil {
		return nil, err
	}

	gens := f.NumGenerations()
	results := make([]ItemResult, len(items))
	for i, item := range items {
		added := true
		var err error
		if nx {
			added, err = f.AddNX(item)
		} else {
			err = f.Add(item)
		}
		switch {
		case err != nil:
			results[i] = ItemResult{Status: StatusFailed, Err: err}
		case !added:
			results[i] = ItemResult{Status: StatusExists}
		default:
			results[i] = ItemResult{Status: StatusInserted}
		}
	}
	s.logGrowth(key, f, gens)
	return results, nil
}

// Exists reports whether item may be in the filter under key. A missing key
// holds no items.
func (s *Store) Exists(key string, item []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.lookup(key)
	if err != nil || f == nil {
		return false, err
	}
	return f.Exists(item), nil
}

// MExists is Exists for several items at once.
func (s *Store) MExists(key string, items ...[]byte) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(items))
	if f == nil {
		return out, nil
	}
	for i, item := range items {
		out[i] = f.Exists(item)
	}
	return out, nil
}

// Count returns the approximate number of times item was added and not deleted.
func (s *Store) Count(key string, item []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.lookup(key)
	if err != nil || f == nil {
		return 0, err
	}
	return f.Count(item), nil
}

// Del removes one occurrence of item and reports whether one was found.
func (s *Store) Del(key string, item []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.lookup(key)
	if err != nil || f == nil {
		return false, err
	}
	return f.Delete(item), nil
}

// Compact repacks the filter under key into as few generations as possible.
func (s *Store) Compact(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.mustLookup(key)
	if err != nil {
		return err
	}
	before := f.NumGenerations()
	moved := f.Compact()
	s.log.Debug("compacted filter",
		zap.String("key", key),
		zap.Uint64("moved", moved),
		zap.Int("generations_before", before),
		zap.Int("generations_after", f.NumGenerations()))
	return nil
}

// Info returns the size and counters of the filter under key.
func (s *Store) Info(key string) (cuckoo.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.mustLookup(key)
	if err != nil {
		return cuckoo.Info{}, err
	}
	return f.Info(), nil
}

// Debug returns the diagnostic summary of the filter under key.
func (s *Store) Debug(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.mustLookup(key)
	if err != nil {
		return "", err
	}
	return f.Debug(), nil
}

// ScanDump returns the chunk following cursor for the filter under key. See
// cuckoo.Filter.ScanDump for the cursor protocol.
func (s *Store) ScanDump(key string, cursor int64) (int64, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.mustLookup(key)
	if err != nil {
		return 0, nil, err
	}
	return f.ScanDump(cursor)
}

// LoadChunk restores a filter under key from chunks produced by ScanDump.
// The header chunk (cursor 1) creates the filter and requires key to be
// absent; later chunks fill it in.
func (s *Store) LoadChunk(key string, cursor int64, chunk []byte) error {
	if cursor <= 0 {
		return fmt.Errorf("%w: cursor %d out of range", cuckoo.ErrInvalidArgument, cursor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.lookup(key)
	if err != nil {
		return err
	}

	if cursor == 1 {
		if f != nil {
			return cuckoo.ErrAlreadyExists
		}
		f, err = cuckoo.LoadHeader(chunk, cuckoo.WithConfig(s.cfg))
		if err != nil {
			s.warnCorrupt(key, cursor, err)
			return err
		}
		s.ks.Set(key, f)
		s.log.Debug("loaded filter header",
			zap.String("key", key),
			zap.Int("generations", f.NumGenerations()),
			zap.Uint64("items", f.NumItems()))
		return nil
	}

	if f == nil {
		return cuckoo.ErrNotFound
	}
	if err := f.LoadChunk(cursor, chunk); err != nil {
		s.warnCorrupt(key, cursor, err)
		return err
	}
	return nil
}

func (s *Store) lookup(key string) (*cuckoo.Filter, error) {
	v, ok := s.ks.Get(key)
	if !ok {
		return nil, nil
	}
	f, ok := v.(*cuckoo.Filter)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", cuckoo.ErrWrongType, key, v)
	}
	return f, nil
}

func (s *Store) mustLookup(key string) (*cuckoo.Filter, error) {
	f, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %q", cuckoo.ErrNotFound, key)
	}
	return f, nil
}

func (s *Store) getOrCreate(key string, capacity uint64, noCreate bool) (*cuckoo.Filter, error) {
	f, err := s.lookup(key)
	if err != nil || f != nil {
		return f, err
	}
	if noCreate {
		return nil, fmt.Errorf("%w: %q", cuckoo.ErrNotFound, key)
	}
	if capacity == 0 {
		capacity = s.cfg.InitialSize
	}
	return s.create(key, capacity, s.cfg.Params())
}

func (s *Store) create(key string, capacity uint64, p cuckoo.Params) (*cuckoo.Filter, error) {
	f, err := cuckoo.NewWithParams(capacity, p, cuckoo.WithConfig(s.cfg))
	if err != nil {
		return nil, err
	}
	s.ks.Set(key, f)
	s.log.Debug("created filter",
		zap.String("key", key),
		zap.Uint64("capacity", capacity),
		zap.Uint16("bucket_size", p.BucketSize),
		zap.Uint16("max_iterations", p.MaxIterations),
		zap.Uint16("expansion", p.Expansion))
	return f, nil
}

func (s *Store) logGrowth(key string, f *cuckoo.Filter, before int) {
	if n := f.NumGenerations(); n != before {
		s.log.Debug("filter grew",
			zap.String("key", key),
			zap.Int("generations", n),
			zap.Uint64("items", f.NumItems()))
	}
}

func (s *Store) warnCorrupt(key string, cursor int64, err error) {
	if errors.Is(err, cuckoo.ErrCorruptData) {
		s.log.Warn("rejected corrupt chunk",
			zap.String("key", key),
			zap.Int64("cursor", cursor),
			zap.Error(err))
	}
}

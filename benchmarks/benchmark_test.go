package benchmarks

import (
	"fmt"
	"sync"
	"testing"

	bab "github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	atomicbloom "github.com/ericvolp12/atomic-bloom"
	"github.com/greatroar/blobloom"
	lcuckoo "github.com/linvon/cuckoo-filter"
	pcuckoo "github.com/panmari/cuckoofilter"
	scuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/jcalabro/cuckoo"
	"github.com/jcalabro/cuckoo/commands"
)

const (
	benchItems  = 1_000_000
	benchFPRate = 0.01
)

// Pre-generate test data to avoid measuring string generation
var testKeys [][]byte
var testKeysStr []string

func init() {
	testKeys = make([][]byte, benchItems)
	testKeysStr = make([]string, benchItems)
	for i := range benchItems {
		s := fmt.Sprintf("key-%d", i)
		testKeys[i] = []byte(s)
		testKeysStr[i] = s
	}
}

func newCuckoo(b *testing.B, capacity uint64) *cuckoo.Filter {
	f, err := cuckoo.New(capacity, cuckoo.WithSeed(1))
	if err != nil {
		b.Fatal(err)
	}
	return f
}

// refill runs fn with the timer stopped every time the key space wraps around,
// so fixed-size filters are rebuilt before they fill up.
func refill(b *testing.B, i int, fn func()) {
	if i > 0 && i%benchItems == 0 {
		b.StopTimer()
		fn()
		b.StartTimer()
	}
}

// ============================================================================
// Sequential Add Benchmarks
// ============================================================================

func BenchmarkAddSequential_Cuckoo(b *testing.B) {
	f := newCuckoo(b, benchItems)
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = newCuckoo(b, benchItems) })
		if err := f.Add(testKeys[i%benchItems]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAddSequential_CuckooString(b *testing.B) {
	f := newCuckoo(b, benchItems)
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = newCuckoo(b, benchItems) })
		if err := f.AddString(testKeysStr[i%benchItems]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAddSequential_CuckooScaling(b *testing.B) {
	// Start small so the benchmark includes growth.
	p := cuckoo.DefaultParams()
	p.Expansion = 2
	grow := func() *cuckoo.Filter {
		f, err := cuckoo.NewWithParams(1024, p, cuckoo.WithSeed(1))
		if err != nil {
			b.Fatal(err)
		}
		return f
	}
	f := grow()
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = grow() })
		if err := f.Add(testKeys[i%benchItems]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAddSequential_Seiflotfy(b *testing.B) {
	f := scuckoo.NewFilter(benchItems)
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = scuckoo.NewFilter(benchItems) })
		f.Insert(testKeys[i%benchItems])
	}
}

func BenchmarkAddSequential_Panmari(b *testing.B) {
	f := pcuckoo.NewFilter(benchItems)
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = pcuckoo.NewFilter(benchItems) })
		f.Insert(testKeys[i%benchItems])
	}
}

func BenchmarkAddSequential_Linvon(b *testing.B) {
	f := lcuckoo.NewFilter(4, 8, benchItems, lcuckoo.TableTypeSingle)
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = lcuckoo.NewFilter(4, 8, benchItems, lcuckoo.TableTypeSingle) })
		f.Add(testKeys[i%benchItems])
	}
}

func BenchmarkAddSequential_BitsAndBlooms(b *testing.B) {
	f := bab.NewWithEstimates(benchItems, benchFPRate)
	b.ResetTimer()
	for i := range b.N {
		f.Add(testKeys[i%benchItems])
	}
}

func BenchmarkAddSequential_Blobloom(b *testing.B) {
	f := blobloom.NewOptimized(blobloom.Config{
		Capacity: benchItems,
		FPRate:   benchFPRate,
	})
	b.ResetTimer()
	for i := range b.N {
		// blobloom requires pre-hashing
		h := xxhash.Sum64(testKeys[i%benchItems])
		f.Add(h)
	}
}

// ============================================================================
// Sequential Lookup Benchmarks
// ============================================================================

func BenchmarkExistsSequential_Cuckoo(b *testing.B) {
	f := newCuckoo(b, benchItems)
	for i := range benchItems {
		if err := f.Add(testKeys[i]); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := range b.N {
		f.Exists(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_CuckooString(b *testing.B) {
	f := newCuckoo(b, benchItems)
	for i := range benchItems {
		if err := f.Add(testKeys[i]); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := range b.N {
		f.ExistsString(testKeysStr[i%benchItems])
	}
}

func BenchmarkExistsSequential_CuckooManyGenerations(b *testing.B) {
	// Every lookup visits each generation.
	f := newCuckoo(b, benchItems/16)
	for i := range benchItems {
		if err := f.Add(testKeys[i]); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(f.NumGenerations()), "generations")
	b.ResetTimer()
	for i := range b.N {
		f.Exists(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_Seiflotfy(b *testing.B) {
	f := scuckoo.NewFilter(benchItems)
	for i := range benchItems {
		f.Insert(testKeys[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Lookup(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_Panmari(b *testing.B) {
	f := pcuckoo.NewFilter(benchItems)
	for i := range benchItems {
		f.Insert(testKeys[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Lookup(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_Linvon(b *testing.B) {
	f := lcuckoo.NewFilter(4, 8, benchItems, lcuckoo.TableTypeSingle)
	for i := range benchItems {
		f.Add(testKeys[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Contain(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_BitsAndBlooms(b *testing.B) {
	f := bab.NewWithEstimates(benchItems, benchFPRate)
	for i := range benchItems {
		f.Add(testKeys[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Test(testKeys[i%benchItems])
	}
}

func BenchmarkExistsSequential_Blobloom(b *testing.B) {
	f := blobloom.NewOptimized(blobloom.Config{
		Capacity: benchItems,
		FPRate:   benchFPRate,
	})
	// Pre-hash keys for fair comparison
	hashes := make([]uint64, benchItems)
	for i := range benchItems {
		hashes[i] = xxhash.Sum64(testKeys[i])
		f.Add(hashes[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Has(hashes[i%benchItems])
	}
}

// ============================================================================
// Add/Delete Cycle Benchmarks
// ============================================================================

func BenchmarkAddDelete_Cuckoo(b *testing.B) {
	f := newCuckoo(b, benchItems)
	b.ResetTimer()
	for i := range b.N {
		k := testKeys[i%benchItems]
		if err := f.Add(k); err != nil {
			b.Fatal(err)
		}
		f.Delete(k)
	}
}

func BenchmarkAddDelete_Seiflotfy(b *testing.B) {
	f := scuckoo.NewFilter(benchItems)
	b.ResetTimer()
	for i := range b.N {
		k := testKeys[i%benchItems]
		f.Insert(k)
		f.Delete(k)
	}
}

func BenchmarkAddDelete_Panmari(b *testing.B) {
	f := pcuckoo.NewFilter(benchItems)
	b.ResetTimer()
	for i := range b.N {
		k := testKeys[i%benchItems]
		f.Insert(k)
		f.Delete(k)
	}
}

// ============================================================================
// Parallel Benchmarks (Store lock vs lock-free bloom)
// ============================================================================

func newStore(b *testing.B) *commands.Store {
	cfg := cuckoo.DefaultConfig()
	cfg.InitialSize = benchItems
	s, err := commands.New(commands.NewMapKeyspace(), cfg)
	if err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkAddParallel_Store(b *testing.B) {
	s := newStore(b)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if err := s.Add("cf", testKeys[i%benchItems]); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func BenchmarkAddParallel_AtomicBloom(b *testing.B) {
	f := atomicbloom.NewWithEstimates(benchItems, benchFPRate)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Add(testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkExistsParallel_Store(b *testing.B) {
	s := newStore(b)
	for i := range benchItems {
		if err := s.Add("cf", testKeys[i]); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = s.Exists("cf", testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkExistsParallel_AtomicBloom(b *testing.B) {
	f := atomicbloom.NewWithEstimates(benchItems, benchFPRate)
	for i := range benchItems {
		f.Add(testKeys[i])
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Test(testKeys[i%benchItems])
			i++
		}
	})
}

// ============================================================================
// Memory Allocation Benchmarks
// ============================================================================

func BenchmarkAddAlloc_Cuckoo(b *testing.B) {
	f := newCuckoo(b, benchItems)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = newCuckoo(b, benchItems) })
		if err := f.Add(testKeys[i%benchItems]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAddAlloc_CuckooString(b *testing.B) {
	f := newCuckoo(b, benchItems)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		refill(b, i, func() { f = newCuckoo(b, benchItems) })
		if err := f.AddString(testKeysStr[i%benchItems]); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Serialization and Compaction
// ============================================================================

func BenchmarkScanDump_Cuckoo(b *testing.B) {
	f := newCuckoo(b, benchItems)
	for i := range benchItems {
		if err := f.Add(testKeys[i]); err != nil {
			b.Fatal(err)
		}
	}
	b.SetBytes(int64(f.Slots()))
	b.ResetTimer()
	for range b.N {
		for range f.Chunks() {
		}
	}
}

func BenchmarkCompact_Cuckoo(b *testing.B) {
	for range b.N {
		b.StopTimer()
		f := newCuckoo(b, benchItems/8)
		for i := range benchItems / 2 {
			if err := f.Add(testKeys[i]); err != nil {
				b.Fatal(err)
			}
		}
		for i := 0; i < benchItems/2; i += 2 {
			f.Delete(testKeys[i])
		}
		b.StartTimer()
		f.Compact()
	}
}

// ============================================================================
// False Positive Rates
// ============================================================================

func TestFalsePositiveRates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	const n = 100_000
	absent := func(i int) []byte { return fmt.Appendf(nil, "absent-%d", i) }

	type tester struct {
		name   string
		add    func([]byte)
		exists func([]byte) bool
	}

	f, err := cuckoo.New(n, cuckoo.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	sf := scuckoo.NewFilter(n)
	pf := pcuckoo.NewFilter(n)
	lf := lcuckoo.NewFilter(4, 8, n, lcuckoo.TableTypeSingle)
	bf := bab.NewWithEstimates(n, benchFPRate)

	testers := []tester{
		{"cuckoo", func(k []byte) {
			if err := f.Add(k); err != nil {
				t.Error(err)
			}
		}, f.Exists},
		{"seiflotfy", func(k []byte) { sf.Insert(k) }, sf.Lookup},
		{"panmari", func(k []byte) { pf.Insert(k) }, pf.Lookup},
		{"linvon", func(k []byte) { lf.Add(k) }, lf.Contain},
		{"bits-and-blooms", func(k []byte) { bf.Add(k) }, bf.Test},
	}

	var wg sync.WaitGroup
	rates := make([]float64, len(testers))
	for ti, tt := range testers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range n {
				tt.add(testKeys[i])
			}
			var fp int
			for i := range n {
				if tt.exists(absent(i)) {
					fp++
				}
			}
			rates[ti] = float64(fp) / n
		}()
	}
	wg.Wait()

	for i, tt := range testers {
		t.Logf("%-16s fp rate %.4f%%", tt.name, rates[i]*100)
	}
	if rates[0] > 0.03 {
		t.Errorf("cuckoo fp rate %.4f exceeds 3%%", rates[0])
	}
}

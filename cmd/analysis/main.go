// Command analysis measures the false positive rate, fill ratio and growth of
// cuckoo filters across bucket sizes and expansion factors.
//
// Usage:
//
//	go run . -items 100000 -capacity 10000 -bucket-sizes 1,2,4,8 -expansions 1,2,4
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/jcalabro/cuckoo"
	"github.com/jcalabro/cuckoo/persist"
)

type result struct {
	bucketSize uint16
	expansion  uint16
	inserted   int
	failed     int
	fpRate     float64
	fill       float64
	gens       int
	size       uint64
	elapsed    time.Duration
	lastErr    error
}

func main() {
	var (
		items       = flag.Int("items", 100_000, "number of items to insert")
		queries     = flag.Int("queries", 100_000, "number of absent items to query")
		capacity    = flag.Uint64("capacity", 10_000, "initial capacity of each filter")
		bucketSizes = flag.String("bucket-sizes", "1,2,4,8", "comma separated bucket sizes")
		expansions  = flag.String("expansions", "1,2,4", "comma separated expansion factors")
		configPath  = flag.String("config", "", "optional YAML config with the remaining defaults")
		snapshotDir = flag.String("snapshot-dir", "", "write a snapshot of every filter to this directory")
		verbose     = flag.Bool("v", false, "log progress")
	)
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	defer func() { _ = log.Sync() }()

	cfg := cuckoo.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			log.Fatal("open config", zap.Error(err))
		}
		cfg, err = cuckoo.LoadConfig(f)
		f.Close()
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}

	bs, err := parseList(*bucketSizes)
	if err != nil {
		log.Fatal("parse bucket sizes", zap.Error(err))
	}
	es, err := parseList(*expansions)
	if err != nil {
		log.Fatal("parse expansions", zap.Error(err))
	}

	var results []result
	for _, b := range bs {
		for _, e := range es {
			p := cfg.Params()
			p.BucketSize = b
			p.Expansion = e

			r, f, err := run(*capacity, p, cfg, *items, *queries)
			if err != nil {
				log.Warn("skipping configuration", zap.Uint16("bucket_size", b), zap.Uint16("expansion", e), zap.Error(err))
				continue
			}
			log.Debug("finished", zap.Uint16("bucket_size", b), zap.Uint16("expansion", e), zap.Duration("elapsed", r.elapsed))
			results = append(results, r)

			if *snapshotDir != "" {
				path := filepath.Join(*snapshotDir, fmt.Sprintf("b%d-e%d.snap", b, e))
				if err := persist.WriteSnapshotFile(path, f); err != nil {
					log.Fatal("write snapshot", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}

	printResults(results)
}

func run(capacity uint64, p cuckoo.Params, cfg cuckoo.Config, items, queries int) (result, *cuckoo.Filter, error) {
	f, err := cuckoo.NewWithParams(capacity, p, cuckoo.WithConfig(cfg))
	if err != nil {
		return result{}, nil, err
	}

	r := result{bucketSize: p.BucketSize, expansion: p.Expansion}
	start := time.Now()
	for i := range items {
		if err := f.Add(fmt.Appendf(nil, "item-%d", i)); err != nil {
			r.failed++
			r.lastErr = err
			continue
		}
		r.inserted++
	}
	r.elapsed = time.Since(start)

	var fp int
	for i := range queries {
		if f.Exists(fmt.Appendf(nil, "absent-%d", i)) {
			fp++
		}
	}
	if queries > 0 {
		r.fpRate = float64(fp) / float64(queries)
	}
	r.fill = f.FillRatio()
	r.gens = f.NumGenerations()
	r.size = f.Info().Size
	return r, f, nil
}

func parseList(s string) ([]uint16, error) {
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", part, err)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

func printResults(results []result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "bucket\texpansion\tinserted\tfailed\tfp rate\tfill\tfilters\tsize\tns/add\terror\t")
	for _, r := range results {
		var nsPerAdd float64
		if n := r.inserted + r.failed; n > 0 {
			nsPerAdd = float64(r.elapsed.Nanoseconds()) / float64(n)
		}
		errText := "-"
		if r.lastErr != nil {
			errText = r.lastErr.Error()
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.4f%%\t%.1f%%\t%d\t%d\t%.0f\t%s\t\n",
			r.bucketSize, r.expansion, r.inserted, r.failed, r.fpRate*100, r.fill*100, r.gens, r.size, nsPerAdd, errText)
	}
	w.Flush()
}

// Package dataset bootstraps a blacklist store from a CSV file of malicious
// URLs.
//
// The first column of every row is taken as a URL exactly as written and
// hashed with SHA-256. The first row is a header and is skipped. Hashes are
// routed to their partition, deduplicated and sorted; every full run of
// HashesPerIndex hashes becomes an index file and the remainder becomes the
// partition's write-ahead log, so a server opening the directory sees the
// remainder in its memtable.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// ErrNotEmpty is returned when the target directory already holds a store
// and Options.Force is not set.
var ErrNotEmpty = errors.New("data directory already contains a blacklist")

// ctxCheckInterval is how many rows are read between context checks.
const ctxCheckInterval = 4096

// Options controls Seed.
type Options struct {
	Partitions     int
	HashesPerIndex int

	// Force replaces any existing index files and write-ahead logs.
	Force bool
}

// PartitionReport describes what was written for one partition.
type PartitionReport struct {
	Number     int `json:"partition"`
	Entries    int `json:"entries"`
	IndexFiles int `json:"index_files"`
	WALEntries int `json:"wal_entries"`
}

// Report summarises a Seed run.
type Report struct {
	Rows       int               `json:"rows"`
	Blank      int               `json:"blank"`
	Duplicates int               `json:"duplicates"`
	Partitions []PartitionReport `json:"partitions"`
}

// Entries returns the number of distinct hashes written.
func (r Report) Entries() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.Entries
	}
	return n
}

// Seed reads csvPath and writes a fresh store layout below dataDir.
func Seed(ctx context.Context, csvPath, dataDir string, opts Options) (Report, error) {
	if opts.Partitions < 1 || opts.Partitions > 256 {
		return Report{}, fmt.Errorf("partitions must be between 1 and 256, got %d", opts.Partitions)
	}
	if opts.HashesPerIndex < 1 {
		return Report{}, fmt.Errorf("hashes per index must be positive, got %d", opts.HashesPerIndex)
	}

	if err := prepareDir(dataDir, opts); err != nil {
		return Report{}, err
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	buckets, report, err := readBuckets(ctx, f, opts.Partitions)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read dataset %s: %w", csvPath, err)
	}

	report.Partitions = make([]PartitionReport, opts.Partitions)
	g, gctx := errgroup.WithContext(ctx)
	for i := range buckets {
		g.Go(func() error {
			pr, err := writePartition(gctx, dataDir, i+1, buckets[i], opts.HashesPerIndex)
			if err != nil {
				return err
			}
			report.Partitions[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	slog.Info("Dataset seeded",
		"rows", report.Rows,
		"entries", report.Entries(),
		"duplicates", report.Duplicates,
		"data_dir", dataDir)
	return report, nil
}

// prepareDir checks for an existing store and clears it when forced.
func prepareDir(dataDir string, opts Options) error {
	dbDir := filepath.Join(dataDir, "db")
	walDir := filepath.Dir(store.WALPath(dataDir, 1))

	existing, _ := filepath.Glob(filepath.Join(dbDir, "partition*", "idx_*.bin"))
	wals, _ := filepath.Glob(filepath.Join(walDir, "partition*.bin"))
	for _, w := range wals {
		if info, err := os.Stat(w); err == nil && info.Size() > 0 {
			existing = append(existing, w)
		}
	}

	if len(existing) > 0 {
		if !opts.Force {
			return fmt.Errorf("%w: %s (%d files)", ErrNotEmpty, dataDir, len(existing))
		}
		if err := os.RemoveAll(dbDir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dbDir, err)
		}
		if err := os.RemoveAll(walDir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", walDir, err)
		}
	}

	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", walDir, err)
	}
	for n := 1; n <= opts.Partitions; n++ {
		if err := os.MkdirAll(store.PartitionDir(dataDir, n), 0o755); err != nil {
			return fmt.Errorf("failed to create partition directory: %w", err)
		}
	}
	return nil
}

// readBuckets hashes every data row of r into per-partition sets.
func readBuckets(ctx context.Context, r io.Reader, partitions int) ([]map[model.Hash]struct{}, Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	buckets := make([]map[model.Hash]struct{}, partitions)
	for i := range buckets {
		buckets[i] = make(map[model.Hash]struct{})
	}

	var report Report
	header := true
	for line := 0; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Report{}, err
			}
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Report{}, err
		}
		if header {
			header = false
			continue
		}

		report.Rows++
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			report.Blank++
			continue
		}

		h := model.HashURL(record[0])
		bucket := buckets[model.PartitionOf(h[0], partitions)]
		if _, dup := bucket[h]; dup {
			report.Duplicates++
			continue
		}
		bucket[h] = struct{}{}
	}
	return buckets, report, nil
}

// writePartition sorts one bucket and writes its index files and WAL.
func writePartition(ctx context.Context, dataDir string, number int, bucket map[model.Hash]struct{}, perIndex int) (PartitionReport, error) {
	hashes := make([]model.Hash, 0, len(bucket))
	for h := range bucket {
		hashes = append(hashes, h)
	}
	store.SortHashes(hashes)

	pr := PartitionReport{Number: number, Entries: len(hashes)}
	dir := store.PartitionDir(dataDir, number)

	full := len(hashes) / perIndex
	for i := 0; i < full; i++ {
		if err := ctx.Err(); err != nil {
			return PartitionReport{}, err
		}
		chunk := hashes[i*perIndex : (i+1)*perIndex]
		if _, err := store.WriteIndex(filepath.Join(dir, store.IndexFileName(i+1)), chunk); err != nil {
			return PartitionReport{}, fmt.Errorf("partition %d: %w", number, err)
		}
		pr.IndexFiles++
	}

	rest := hashes[full*perIndex:]
	if err := store.WriteWAL(store.WALPath(dataDir, number), rest); err != nil {
		return PartitionReport{}, fmt.Errorf("partition %d: %w", number, err)
	}
	pr.WALEntries = len(rest)

	slog.Debug("Partition seeded",
		"partition", number,
		"entries", pr.Entries,
		"index_files", pr.IndexFiles,
		"wal_entries", pr.WALEntries)
	return pr, nil
}

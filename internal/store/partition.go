package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shinji-kodama/urlshield/internal/memtable"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// FlushFunc is called after a partition flushes its memtable. number is the
// 1-based partition number and entries the size of the new index file.
type FlushFunc func(number, entries int)

// Partition is one key range of the blacklist. All methods are safe for
// concurrent use.
type Partition struct {
	number         int
	dir            string
	hashesPerIndex int
	onFlush        FlushFunc

	mu      sync.RWMutex
	mem     *memtable.MemTable
	wal     *WAL
	indexes []*IndexFile
}

// openPartition loads the index files of partition number from dir and
// rebuilds its memtable from the write-ahead log at walPath. WAL records
// that already made it into an index file (a crash between writing the
// index and truncating the log) are dropped.
func openPartition(number int, dir, walPath string, opts Options) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory %s: %w", dir, err)
	}

	indexes, err := loadIndexDir(dir)
	if err != nil {
		return nil, err
	}

	wal, records, err := OpenWAL(walPath, opts.SyncWAL)
	if err != nil {
		return nil, err
	}

	p := &Partition{
		number:         number,
		dir:            dir,
		hashesPerIndex: opts.HashesPerIndex,
		onFlush:        opts.OnFlush,
		mem:            memtable.New(),
		wal:            wal,
		indexes:        indexes,
	}

	dropped := 0
	for _, h := range records {
		if p.inIndexes(h) {
			dropped++
			continue
		}
		p.mem.Insert(h)
	}
	if dropped > 0 {
		slog.Warn("Dropped write-ahead log records already present in index files",
			"partition", number, "records", dropped)
	}

	slog.Debug("Partition opened",
		"partition", number,
		"index_files", len(indexes),
		"memtable", p.mem.Len())
	return p, nil
}

// Number returns the 1-based partition number.
func (p *Partition) Number() int {
	return p.number
}

func (p *Partition) inIndexes(h model.Hash) bool {
	for _, f := range p.indexes {
		if f.Contains(h) {
			return true
		}
	}
	return false
}

// Contains reports whether h is blacklisted in this partition.
func (p *Partition) Contains(h model.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mem.Contains(h) || p.inIndexes(h)
}

// Submit adds h to the partition. It returns ErrAlreadyListed if h is
// already present. flushed reports whether the insert filled the memtable
// and caused it to be written out as a new index file.
func (p *Partition) Submit(h model.Hash) (flushed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inIndexes(h) || p.mem.Contains(h) {
		return false, ErrAlreadyListed
	}

	p.mem.Insert(h)

	if p.mem.Len() >= p.hashesPerIndex {
		if err := p.flushLocked(); err != nil {
			if !p.mem.Contains(h) {
				// The index file was written; only the WAL truncate failed.
				return true, err
			}
			// The index write failed. Keep the hash durable in the WAL so
			// the next submit retries the flush.
			if walErr := p.wal.Append(h); walErr != nil {
				p.mem.Remove(h)
				return false, fmt.Errorf("%w (and %v)", err, walErr)
			}
			return false, err
		}
		return true, nil
	}

	if err := p.wal.Append(h); err != nil {
		p.mem.Remove(h)
		return false, err
	}
	return false, nil
}

// flushLocked writes the memtable as the next index file, resets the
// memtable and truncates the WAL. onFlush runs once the index file is in
// place, even if the truncate then fails. The caller must hold p.mu for
// writing.
func (p *Partition) flushLocked() error {
	next := 1
	if len(p.indexes) > 0 {
		next = p.indexes[len(p.indexes)-1].Number + 1
	}
	path := filepath.Join(p.dir, IndexFileName(next))

	f, err := WriteIndex(path, p.mem.Keys())
	if err != nil {
		return fmt.Errorf("failed to flush partition %d: %w", p.number, err)
	}
	p.indexes = append(p.indexes, f)
	entries := p.mem.Len()
	p.mem.Reset()

	slog.Info("Flushed memtable to index file",
		"partition", p.number, "file", filepath.Base(path), "entries", entries)
	if p.onFlush != nil {
		p.onFlush(p.number, entries)
	}

	// Stale records left by a failed truncate are dropped on the next open.
	return p.wal.Truncate()
}

// Lookup returns every hash in the partition whose prefix equals prefix,
// packed as consecutive 32-byte records: memtable hits first, then the hits
// of each index file in sequence order.
func (p *Partition) Lookup(prefix model.Prefix) []byte {
	lo, hi := prefix.Range()

	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []byte
	for _, h := range p.mem.RangeLookup(lo, hi) {
		out = append(out, h[:]...)
	}
	for _, f := range p.indexes {
		out = append(out, f.RangeLookup(lo, hi)...)
	}
	return out
}

// MemtablePrefixes returns the prefixes of every memtable hash packed as
// consecutive PrefixSize-byte records in ascending order.
func (p *Partition) MemtablePrefixes() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]byte, 0, p.mem.Len()*model.PrefixSize)
	p.mem.Ascend(func(h model.Hash) bool {
		out = append(out, h[:model.PrefixSize]...)
		return true
	})
	return out
}

// IndexPrefixes returns the prefixes of every index file hash packed as
// consecutive PrefixSize-byte records, file by file.
func (p *Partition) IndexPrefixes() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0
	for _, f := range p.indexes {
		total += f.Len()
	}
	out := make([]byte, 0, total*model.PrefixSize)
	for _, f := range p.indexes {
		out = f.AppendPrefixes(out)
	}
	return out
}

// Len returns the number of hashes in the partition.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := p.mem.Len()
	for _, f := range p.indexes {
		n += f.Len()
	}
	return n
}

// MemtableLen returns the number of hashes waiting to be flushed.
func (p *Partition) MemtableLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mem.Len()
}

// IndexCount returns the number of index files.
func (p *Partition) IndexCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.indexes)
}

func (p *Partition) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wal.Close()
}

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// Options configures a Store.
type Options struct {
	// Partitions is the number of key-range partitions (1-256).
	Partitions int

	// HashesPerIndex is the memtable size that triggers a flush.
	HashesPerIndex int

	// SyncWAL fsyncs the write-ahead log after every append.
	SyncWAL bool

	// OnFlush, if set, is called after every memtable flush.
	OnFlush FlushFunc
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Partitions:     model.DefaultPartitions,
		HashesPerIndex: model.DefaultHashesPerIndex,
	}
}

func (o Options) validate() error {
	if o.Partitions < 1 || o.Partitions > 256 {
		return fmt.Errorf("partitions must be between 1 and 256, got %d", o.Partitions)
	}
	if o.HashesPerIndex < 1 {
		return fmt.Errorf("hashes per index must be positive, got %d", o.HashesPerIndex)
	}
	return nil
}

// PartitionDir returns the index directory of partition number below dataDir.
func PartitionDir(dataDir string, number int) string {
	return filepath.Join(dataDir, "db", fmt.Sprintf("partition%d", number))
}

// WALPath returns the write-ahead log path of partition number below dataDir.
func WALPath(dataDir string, number int) string {
	return filepath.Join(dataDir, "log", "write_ahead", fmt.Sprintf("partition%d.bin", number))
}

// Store is the partitioned blacklist.
type Store struct {
	dir        string
	partitions []*Partition

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens the store rooted at dataDir, creating the directory layout if
// it does not exist yet.
func Open(dataDir string, opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(WALPath(dataDir, 1)), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create write-ahead log directory: %w", err)
	}

	s := &Store{dir: dataDir, closed: make(chan struct{})}
	for n := 1; n <= opts.Partitions; n++ {
		p, err := openPartition(n, PartitionDir(dataDir, n), WALPath(dataDir, n), opts)
		if err != nil {
			_ = s.closePartitions()
			return nil, fmt.Errorf("failed to open partition %d: %w", n, err)
		}
		s.partitions = append(s.partitions, p)
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Partitions returns the number of partitions.
func (s *Store) Partitions() int {
	return len(s.partitions)
}

// Partition returns partition number n (1-based).
func (s *Store) Partition(n int) (*Partition, error) {
	if n < 1 || n > len(s.partitions) {
		return nil, fmt.Errorf("%w: %d (valid: 1-%d)", ErrNoSuchPartition, n, len(s.partitions))
	}
	return s.partitions[n-1], nil
}

// PartitionFor returns the partition whose key range holds h.
func (s *Store) PartitionFor(h model.Hash) *Partition {
	return s.partitions[model.PartitionOf(h[0], len(s.partitions))]
}

// PartitionForPrefix returns the partition whose key range holds prefix.
func (s *Store) PartitionForPrefix(prefix model.Prefix) *Partition {
	return s.partitions[model.PartitionOf(prefix[0], len(s.partitions))]
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Submit adds h to the blacklist. See Partition.Submit.
func (s *Store) Submit(h model.Hash) (flushed bool, err error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	return s.PartitionFor(h).Submit(h)
}

// Contains reports whether h is blacklisted.
func (s *Store) Contains(h model.Hash) bool {
	return s.PartitionFor(h).Contains(h)
}

// Lookup returns every blacklisted hash that starts with prefix, packed as
// consecutive 32-byte records.
func (s *Store) Lookup(prefix model.Prefix) []byte {
	return s.PartitionForPrefix(prefix).Lookup(prefix)
}

// Metadata returns the total number of hashes and the partition count.
func (s *Store) Metadata() model.Metadata {
	md := model.Metadata{Partitions: len(s.partitions)}
	for _, p := range s.partitions {
		md.Entries += p.Len()
	}
	return md
}

// Close closes every write-ahead log. It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.closePartitions()
	})
	return err
}

func (s *Store) closePartitions() error {
	var errs []error
	for _, p := range s.partitions {
		if err := p.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package store

import (
	"fmt"
	"io"
	"os"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// WAL is the append-only write-ahead log of one partition. Records are raw
// hashes with no framing.
type WAL struct {
	path string
	file *os.File
	sync bool
}

// OpenWAL opens (creating if needed) the log at path and returns every
// complete record it holds, in insertion order. A trailing partial record
// left by an interrupted write is cut off so later appends stay aligned.
func OpenWAL(path string, syncWrites bool) (*WAL, []model.Hash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open write-ahead log %s: %w", path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to read write-ahead log %s: %w", path, err)
	}

	complete := len(data) - len(data)%model.HashSize
	if complete != len(data) {
		if err := f.Truncate(int64(complete)); err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("failed to trim write-ahead log %s: %w", path, err)
		}
	}

	records := make([]model.Hash, 0, complete/model.HashSize)
	for off := 0; off < complete; off += model.HashSize {
		var h model.Hash
		copy(h[:], data[off:off+model.HashSize])
		records = append(records, h)
	}

	return &WAL{path: path, file: f, sync: syncWrites}, records, nil
}

// Path returns the log's file path.
func (w *WAL) Path() string {
	return w.path
}

// Append writes one record to the end of the log.
func (w *WAL) Append(h model.Hash) error {
	if _, err := w.file.Write(h[:]); err != nil {
		return fmt.Errorf("failed to append to write-ahead log %s: %w", w.path, err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync write-ahead log %s: %w", w.path, err)
		}
	}
	return nil
}

// Truncate discards every record. It is called once the memtable the log
// mirrors has been flushed to an index file.
func (w *WAL) Truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate write-ahead log %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// WriteWAL replaces the log at path with records. It is used by offline
// tooling that seeds a store; a running partition owns its log exclusively.
func WriteWAL(path string, records []model.Hash) error {
	data := make([]byte, 0, len(records)*model.HashSize)
	for _, h := range records {
		data = append(data, h[:]...)
	}
	return writeFileAtomic(path, data)
}

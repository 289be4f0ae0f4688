package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// indexFilePattern is the glob for index files inside a partition directory.
const indexFilePattern = "idx_*.bin"

// IndexFileName returns the file name of the n-th index file (1-based).
func IndexFileName(n int) string {
	return fmt.Sprintf("idx_%03d.bin", n)
}

// parseIndexNumber extracts n from "idx_NNN.bin". ok is false for any
// other name.
func parseIndexNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "idx_") || !strings.HasSuffix(name, ".bin") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "idx_"), ".bin"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IndexFile is an immutable sorted run of hashes loaded into memory.
type IndexFile struct {
	// Path is the file the run was loaded from.
	Path string

	// Number is the sequence number encoded in the file name.
	Number int

	data []byte
}

// Len returns the number of hashes in the run.
func (f *IndexFile) Len() int {
	return len(f.data) / model.HashSize
}

func (f *IndexFile) at(i int) []byte {
	off := i * model.HashSize
	return f.data[off : off+model.HashSize]
}

// Contains reports whether h is in the run using binary search.
func (f *IndexFile) Contains(h model.Hash) bool {
	n := f.Len()
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(f.at(i), h[:]) >= 0
	})
	return i < n && bytes.Equal(f.at(i), h[:])
}

// RangeLookup returns the raw bytes of every hash h with lo <= h <= hi.
// The returned slice aliases the run's memory and must not be modified.
func (f *IndexFile) RangeLookup(lo, hi model.Hash) []byte {
	n := f.Len()
	start := sort.Search(n, func(i int) bool {
		return bytes.Compare(f.at(i), lo[:]) >= 0
	})
	end := sort.Search(n, func(i int) bool {
		return bytes.Compare(f.at(i), hi[:]) > 0
	})
	if start >= end {
		return nil
	}
	return f.data[start*model.HashSize : end*model.HashSize]
}

// AppendPrefixes appends the PrefixSize leading bytes of every hash in the
// run to dst and returns the extended slice.
func (f *IndexFile) AppendPrefixes(dst []byte) []byte {
	for i := 0; i < f.Len(); i++ {
		dst = append(dst, f.at(i)[:model.PrefixSize]...)
	}
	return dst
}

// LoadIndexFile reads an index file from disk.
func LoadIndexFile(path string) (*IndexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file %s: %w", path, err)
	}
	if len(data)%model.HashSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d",
			ErrCorruptIndex, path, len(data), model.HashSize)
	}
	n, _ := parseIndexNumber(filepath.Base(path))
	return &IndexFile{Path: path, Number: n, data: data}, nil
}

// WriteIndex writes hashes, which must already be sorted, as an index file
// at path. The file is written to a temporary name in the same directory
// and renamed into place so readers never observe a partial run.
func WriteIndex(path string, hashes []model.Hash) (*IndexFile, error) {
	data := make([]byte, 0, len(hashes)*model.HashSize)
	for i, h := range hashes {
		if i > 0 && hashes[i-1].Compare(h) >= 0 {
			return nil, fmt.Errorf("index %s: hashes are not strictly ascending at position %d", path, i)
		}
		data = append(data, h[:]...)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	n, _ := parseIndexNumber(filepath.Base(path))
	return &IndexFile{Path: path, Number: n, data: data}, nil
}

// SortHashes sorts hashes in ascending byte order in place.
func SortHashes(hashes []model.Hash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Compare(hashes[j]) < 0 })
}

// loadIndexDir loads every index file in dir ordered by sequence number.
// A missing directory yields no files.
func loadIndexDir(dir string) ([]*IndexFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, indexFilePattern))
	if err != nil {
		return nil, err
	}

	var files []*IndexFile
	for _, m := range matches {
		if _, ok := parseIndexNumber(filepath.Base(m)); !ok {
			continue
		}
		f, err := LoadIndexFile(m)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}

// writeFileAtomic writes data to a temporary file next to path, syncs it,
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s into place: %w", path, err)
	}
	return nil
}

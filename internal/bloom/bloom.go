// Package bloom implements the client-side Bloom filter over hash prefixes.
//
// A negative answer from Test is definitive: the prefix was never added.
// A positive answer only means the caller must ask the server.
package bloom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"
)

// sizingSlack is added to the expected entry count so that a filter built
// for a nearly empty blacklist still has room for a few submissions.
const sizingSlack = 24

var magic = [4]byte{'U', 'B', 'F', '1'}

// ErrBadFormat is returned when decoding data that is not a saved filter.
var ErrBadFormat = errors.New("not a bloom filter file")

// Filter is a Bloom filter sized for a target false-positive rate. It is not
// safe for concurrent use.
type Filter struct {
	bits   *bitset.BitSet
	m      uint
	k      uint32
	length uint64
}

// Size returns the bit count m and hash count k for n expected entries and
// false-positive rate p. n below 1 is treated as 1.
func Size(n int, p float64) (m uint, k uint32) {
	if n < 1 {
		n = 1
	}
	bitsF := -(float64(n+sizingSlack) * math.Log(p)) / (math.Ln2 * math.Ln2)
	m = uint(bitsF)
	if m < 1 {
		m = 1
	}
	hashes := int(bitsF / float64(n) * math.Ln2)
	if hashes < 1 {
		hashes = 1
	}
	return m, uint32(hashes)
}

// New returns an empty filter sized for n entries at false-positive rate p.
func New(n int, p float64) (*Filter, error) {
	if p <= 0 || p >= 1 {
		return nil, fmt.Errorf("false positive rate must be in (0, 1), got %g", p)
	}
	m, k := Size(n, p)
	return &Filter{bits: bitset.New(m), m: m, k: k}, nil
}

func (f *Filter) index(key []byte, seed uint32) uint {
	return uint(murmur3.Sum32WithSeed(key, seed)) % f.m
}

// Add inserts key.
func (f *Filter) Add(key []byte) {
	for i := uint32(0); i < f.k; i++ {
		f.bits.Set(f.index(key, i))
	}
	f.length++
}

// Test reports whether key may have been added.
func (f *Filter) Test(key []byte) bool {
	for i := uint32(0); i < f.k; i++ {
		if !f.bits.Test(f.index(key, i)) {
			return false
		}
	}
	return true
}

// Len returns the number of Add calls.
func (f *Filter) Len() uint64 { return f.length }

// Bits returns the size of the bit array.
func (f *Filter) Bits() uint { return f.m }

// HashCount returns the number of hash functions.
func (f *Filter) HashCount() uint32 { return f.k }

// WriteTo encodes the filter as the magic "UBF1", k, m and the number of
// added keys (big-endian), followed by the bit set.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var hdr [4 + 4 + 8 + 8]byte
	copy(hdr[:4], magic[:])
	binary.BigEndian.PutUint32(hdr[4:8], f.k)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(f.m))
	binary.BigEndian.PutUint64(hdr[16:24], f.length)

	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	bn, err := f.bits.WriteTo(w)
	return int64(n) + bn, err
}

// ReadFrom decodes a filter written by WriteTo, replacing f's contents.
func (f *Filter) ReadFrom(r io.Reader) (int64, error) {
	var hdr [4 + 4 + 8 + 8]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return int64(n), fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return int64(n), ErrBadFormat
	}

	k := binary.BigEndian.Uint32(hdr[4:8])
	m := uint(binary.BigEndian.Uint64(hdr[8:16]))
	if k == 0 || m == 0 {
		return int64(n), fmt.Errorf("%w: zero size", ErrBadFormat)
	}

	bits := new(bitset.BitSet)
	bn, err := bits.ReadFrom(r)
	if err != nil {
		return int64(n) + bn, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if bits.Len() != m {
		return int64(n) + bn, fmt.Errorf("%w: bit set holds %d bits, header says %d", ErrBadFormat, bits.Len(), m)
	}

	f.bits, f.m, f.k = bits, m, k
	f.length = binary.BigEndian.Uint64(hdr[16:24])
	return int64(n) + bn, nil
}

// Save writes the filter to path, replacing any existing file atomically.
func (f *Filter) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode bloom filter: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to save bloom filter to %s: %w", path, err)
	}
	return nil
}

// Load reads a filter saved with Save.
func Load(path string) (*Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f := new(Filter)
	if _, err := f.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("failed to load bloom filter %s: %w", path, err)
	}
	return f, nil
}

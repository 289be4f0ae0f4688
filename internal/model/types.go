package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	// HashSize is the length in bytes of a SHA-256 URL digest.
	HashSize = sha256.Size

	// PrefixSize is the number of leading hash bytes used as the bloom
	// filter key and as the server-side lookup key.
	PrefixSize = 4

	// DefaultPartitions is the number of key-range partitions the hash
	// space is split into.
	DefaultPartitions = 4

	// DefaultHashesPerIndex is the memtable size at which a partition is
	// flushed into a new immutable index file.
	DefaultHashesPerIndex = 15625

	// DefaultFalsePositiveRate is the target false-positive probability of
	// the client bloom filter.
	DefaultFalsePositiveRate = 0.001

	// ContextPath is the URL prefix shared by every API route.
	ContextPath = "/api/v1"

	// DefaultPort is the port the server listens on and the client dials
	// when no port is configured.
	DefaultPort = 8000

	// ImagePort is the port declared by the server container image.
	ImagePort = 8080
)

// Hash is the SHA-256 digest of a URL.
type Hash [HashSize]byte

// Prefix is the leading PrefixSize bytes of a Hash.
type Prefix [PrefixSize]byte

// HashURL returns the SHA-256 digest of the URL exactly as given. No
// normalisation is applied: "example.com" and "http://example.com" are
// different entries.
func HashURL(rawURL string) Hash {
	return Hash(sha256.Sum256([]byte(rawURL)))
}

// ParseHash decodes a 64 character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash %q: want %d bytes, got %d", s, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a HashSize byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d (want %d)", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Prefix returns the leading PrefixSize bytes of the hash.
func (h Hash) Prefix() Prefix {
	var p Prefix
	copy(p[:], h[:PrefixSize])
	return p
}

// Compare orders hashes lexicographically, returning -1, 0 or +1.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// ParsePrefix decodes an 8 character hex string into a Prefix.
func ParsePrefix(s string) (Prefix, error) {
	var p Prefix
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("invalid prefix %q: %w", s, err)
	}
	if len(b) != PrefixSize {
		return p, fmt.Errorf("invalid prefix %q: want %d bytes, got %d", s, PrefixSize, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// String returns the lowercase hex encoding of the prefix.
func (p Prefix) String() string {
	return hex.EncodeToString(p[:])
}

// Range returns the smallest and largest hashes that start with p. The
// lower bound pads the prefix with 0x00 bytes and the upper bound with 0xFF.
func (p Prefix) Range() (lo, hi Hash) {
	copy(lo[:], p[:])
	copy(hi[:], p[:])
	for i := PrefixSize; i < HashSize; i++ {
		hi[i] = 0xFF
	}
	return lo, hi
}

// PartitionOf maps the first byte of a hash onto a 0-based partition index
// by splitting the byte range evenly. With 4 partitions this is firstByte/64.
func PartitionOf(firstByte byte, partitions int) int {
	return int(firstByte) * partitions / 256
}

// Verdict is the outcome of a URL safety check.
type Verdict int

const (
	// VerdictSafe means the URL is not on the blacklist.
	VerdictSafe Verdict = iota

	// VerdictMalicious means the URL hash was confirmed by the server.
	VerdictMalicious

	// VerdictUnknown means the check could not be completed.
	VerdictUnknown
)

// String returns the string representation of the Verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "safe"
	case VerdictMalicious:
		return "malicious"
	default:
		return "unknown"
	}
}

// MarshalText lets verdicts appear as strings in JSON output.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Metadata describes the size of the server-side blacklist. It travels on
// the wire as the JSON array [entries, partitions].
type Metadata struct {
	// Entries is the total number of hashes across all partitions.
	Entries int `json:"entries"`

	// Partitions is the number of key-range partitions.
	Partitions int `json:"partitions"`
}

// MarshalJSON encodes m as [entries, partitions].
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{m.Entries, m.Partitions})
}

// UnmarshalJSON decodes [entries, partitions].
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid blacklist metadata: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("invalid blacklist metadata: want [entries, partitions], got %d values", len(pair))
	}
	m.Entries, m.Partitions = pair[0], pair[1]
	return nil
}

// invalidNameChars are the characters rejected in client names besides
// control characters. Client names become part of log file names on the
// client and of activity log lines on the server.
const invalidNameChars = `\/:*?"<>|`

// ValidateClientName checks that a client name is usable as a log file
// name component.
func ValidateClientName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("client name must not be empty")
	}
	if i := strings.IndexAny(name, invalidNameChars); i >= 0 {
		return fmt.Errorf("invalid client name %q: character %q is not allowed", name, name[i])
	}
	if i := strings.IndexFunc(name, unicode.IsControl); i >= 0 {
		return fmt.Errorf("invalid client name %q: control character %q is not allowed", name, name[i])
	}
	return nil
}

// ValidateURL checks that a string is a complete URL with a host. A missing
// scheme is tolerated and treated as http for validation purposes only.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("URL must not be empty")
	}
	candidate := raw
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "http://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " \t") {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	if !strings.Contains(host, ".") && host != "localhost" {
		return fmt.Errorf("invalid URL %q: host %q has no domain", raw, host)
	}
	return nil
}

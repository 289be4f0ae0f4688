// Package store implements the server-side blacklist storage engine.
//
// The hash space is split into key-range partitions by the first hash
// byte. Each partition is a small LSM-style store:
//
//   - a memtable (red-black tree) holding hashes accepted since the last
//     flush
//   - a write-ahead log that mirrors the memtable on disk so it can be
//     rebuilt after a restart
//   - an ordered list of immutable index files, each a sorted run of raw
//     32-byte hashes
//
// On-disk layout below the data directory:
//
//	db/partition1/idx_001.bin      sorted hashes, no header
//	db/partition1/idx_002.bin
//	log/write_ahead/partition1.bin appended hashes, insertion order
//
// Partitions are numbered from 1 on disk and in the public API.
package store

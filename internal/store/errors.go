package store

import "errors"

var (
	// ErrAlreadyListed is returned by Submit when the hash is already on
	// the blacklist, either in the memtable or in an index file.
	ErrAlreadyListed = errors.New("hash is already blacklisted")

	// ErrNoSuchPartition is returned when a partition number is outside
	// 1..Partitions.
	ErrNoSuchPartition = errors.New("no such partition")

	// ErrCorruptIndex is returned when an index file's size is not a
	// multiple of the hash size.
	ErrCorruptIndex = errors.New("corrupt index file")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

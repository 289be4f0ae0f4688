// Package model defines the domain types and value objects shared by the
// urlshield server, client, and tooling.
//
// A blacklisted URL is never stored in clear text. Every component works on
// the SHA-256 digest of the URL (Hash) or on its first four bytes (Prefix),
// and the hash space is split into key-range partitions by the first byte.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model

// Package main is the entry point for the urlshield CLI.
//
// The one binary runs the blacklist server (`urlshield serve`), seeds its
// data directory, and acts as the client (`check`, `submit`, `shell`, ...).
// Everything lives in internal/cli.
package main

import (
	"github.com/shinji-kodama/urlshield/internal/cli"
)

// Set at build time via -ldflags "-X main.version=...". The container
// images pass the VERSION build arg through here.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}

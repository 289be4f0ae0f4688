// Package port checks listen ports before `urlshield serve` binds them.
//
// The server refuses to start on a port another process holds and reports
// model.ExitPortUnavailable instead of a raw bind error. Asking for port 0
// selects the first free TCP port from model.DefaultPort upward, so several
// local servers can run side by side without manual numbering.
package port

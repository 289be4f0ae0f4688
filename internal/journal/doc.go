// Package journal writes the human-readable activity logs of urlshield.
//
// Two kinds of log exist:
//
//   - Daily is the server's activity log. One file per calendar day lives
//     at <dir>/YYYY-MM-DD.log and every line is "HH:MM:SS - message".
//     Request handlers log with a "[CLIENT: name]" tag and the server
//     brackets each run with "[SESSION] Server started" and
//     "[SESSION] Server shutting down".
//   - Session is a client's per-run log at <dir>/<name>-NNN.log, where NNN
//     is the first free three-digit sequence number. Lines are
//     "YYYY-MM-DD HH:MM:SS - message".
//
// A blank line may precede a message to separate groups of related lines.
// Both logs are safe for concurrent use.
package journal

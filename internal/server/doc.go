// Package server exposes the blacklist store over HTTP.
//
// All blacklist routes live under model.ContextPath and require a "client"
// query parameter naming the caller; the name is written to the activity
// log next to every message about the request. Binary responses are
// application/octet-stream bodies of concatenated fixed-size records
// (32-byte hashes or 4-byte prefixes).
//
// The router is github.com/go-chi/chi/v5. Request metrics are recorded in a
// per-server github.com/prometheus/client_golang registry served at
// /metrics, labelled with chi's route pattern rather than the raw path.
package server

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// alreadyListedMessage is the body returned for a duplicate submission.
const alreadyListedMessage = "Bad request: URL is already blacklisted"

// logf writes a line to the activity log on behalf of the request's client.
// Activity log failures are reported but never fail the request.
func (s *Server) logf(r *http.Request, lineBreak bool, format string, args ...any) {
	if err := s.activity.Client(clientName(r), fmt.Sprintf(format, args...), lineBreak); err != nil {
		slog.Warn("Failed to write activity log", "error", err)
	}
}

func seconds(start time.Time) string {
	return fmt.Sprintf("%.4f seconds", time.Since(start).Seconds())
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func writeBinary(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// badRequest logs the problem and answers 400 with a text body.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.logf(r, false, "%s %s", journal.TagError, msg)
	writeText(w, http.StatusBadRequest, "Bad request: "+msg)
}

// partitionParam parses the 1-based "partition" query parameter.
func (s *Server) partitionParam(r *http.Request) (*store.Partition, error) {
	raw := r.URL.Query().Get("partition")
	if raw == "" {
		return nil, errors.New("missing partition query parameter")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("partition %q is not a number", raw)
	}
	p, err := s.store.Partition(n)
	if err != nil {
		return nil, fmt.Errorf("partition %d is out of range (1-%d)", n, s.store.Partitions())
	}
	return p, nil
}

// handleFetchHashes returns every full hash sharing the requested prefix.
func (s *Server) handleFetchHashes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("prefix")
	s.logf(r, true, "%s Retrieving full hashes for hash prefix %s", journal.TagGet, raw)

	prefix, err := model.ParsePrefix(raw)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}

	start := time.Now()
	hashes := s.store.Lookup(prefix)
	s.logf(r, false, "%s Successfully fetched %d hashes with prefix %s in %s",
		journal.TagGet, len(hashes)/model.HashSize, prefix, seconds(start))

	writeBinary(w, hashes)
}

// handleSubmit adds a hash to the blacklist.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.logf(r, true, "%s Blacklisting a URL hash", journal.TagPost)

	h, err := model.ParseHash(r.URL.Query().Get("url"))
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}

	s.logf(r, false, "%s Checking if URL already exists", journal.TagPost)
	start := time.Now()
	partition := s.store.PartitionFor(h).Number()

	flushed, err := s.store.Submit(h)
	switch {
	case errors.Is(err, store.ErrAlreadyListed):
		s.logf(r, false, "%s URL already exists in the blacklist", journal.TagPost)
		writeText(w, http.StatusBadRequest, alreadyListedMessage)
		return
	case err != nil && !flushed:
		s.logf(r, false, "%s %v", journal.TagError, err)
		writeText(w, http.StatusInternalServerError, "Internal server error: failed to store the URL hash")
		return
	case err != nil:
		// The index file is durable; only the log truncate failed.
		slog.Warn("Flush completed with errors", "partition", partition, "error", err)
	}

	if flushed {
		s.logf(r, false, "%s Flushed the partition %d memtable to a new index file in %s",
			journal.TagPost, partition, seconds(start))
	} else {
		s.logf(r, false, "%s Wrote the hash into the partition %d write-ahead log", journal.TagPost, partition)
	}
	s.logf(r, false, "%s URL successfully blacklisted", journal.TagPost)

	writeJSON(w, http.StatusOK, map[string]string{"status": "listed"})
}

// handleMemtablePrefixes returns the prefixes held in a partition's memtable.
func (s *Server) handleMemtablePrefixes(w http.ResponseWriter, r *http.Request) {
	p, err := s.partitionParam(r)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.logf(r, false, "%s Fetching all hash prefixes in the partition %d memtable", journal.TagGet, p.Number())

	start := time.Now()
	prefixes := p.MemtablePrefixes()
	s.logf(r, false, "%s Successfully fetched all hash prefixes in the partition %d memtable in %s",
		journal.TagGet, p.Number(), seconds(start))

	writeBinary(w, prefixes)
}

// handleIndexPrefixes returns the prefixes held in a partition's index files.
func (s *Server) handleIndexPrefixes(w http.ResponseWriter, r *http.Request) {
	p, err := s.partitionParam(r)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.logf(r, false, "%s Fetching all hash prefixes in the partition %d index files", journal.TagGet, p.Number())

	start := time.Now()
	prefixes := p.IndexPrefixes()
	s.logf(r, false, "%s Successfully fetched all hash prefixes in the partition %d index files in %s",
		journal.TagGet, p.Number(), seconds(start))

	writeBinary(w, prefixes)
}

// handleMetadata returns [entries, partitions].
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.logf(r, true, "%s Fetching blacklist metadata", journal.TagGet)

	start := time.Now()
	md := s.store.Metadata()
	s.logf(r, false, "%s Done fetching metadata in %s", journal.TagGet, seconds(start))

	writeJSON(w, http.StatusOK, md)
}

// handleLogs returns today's activity log lines as a JSON array.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.logf(r, true, "%s Fetching server logs", journal.TagGet)

	lines, err := s.activity.Lines()
	if err != nil {
		slog.Error("Failed to read activity log", "error", err)
		writeText(w, http.StatusInternalServerError, "Internal server error: cannot read server logs")
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

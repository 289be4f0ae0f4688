// Package client implements the urlshield client: a typed HTTP API for the
// blacklist server and a Client session that answers most URL checks from a
// local bloom filter over hash prefixes.
//
// Every action is recorded in the session log (see package journal), in the
// same order the user would see it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/urlshield/internal/bloom"
	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// ErrAlreadyListed is returned by BlacklistURL when the server already holds
// the URL.
var ErrAlreadyListed = errors.New("URL is already blacklisted")

// alreadyListedBody is the server's body for a duplicate submission.
const alreadyListedBody = "Bad request: URL is already blacklisted"

// fetchConcurrency bounds the parallel prefix downloads of a rebuild.
const fetchConcurrency = 4

// Config configures a Client.
type Config struct {
	// Name identifies the client to the server and names the session log.
	Name string

	// BaseURL is the server URL, for example http://localhost:8000.
	BaseURL string

	// DataDir holds the session logs (DataDir/log) and the bloom filter
	// (DataDir/local_data/bloom_filter.bin).
	DataDir string

	// FalsePositiveRate sizes rebuilt filters. Zero means
	// model.DefaultFalsePositiveRate.
	FalsePositiveRate float64

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Clock overrides time.Now in session log lines.
	Clock journal.Clock

	// NoAutoRebuild stops New from rebuilding a missing filter. Callers
	// that rebuild explicitly, or never check URLs, set it.
	NoAutoRebuild bool
}

// FilterStats describes the loaded bloom filter.
type FilterStats struct {
	Path      string `json:"path"`
	Entries   uint64 `json:"entries"`
	Bits      uint   `json:"bits"`
	HashCount uint32 `json:"hash_count"`
}

// FilterPath returns where the bloom filter is stored below dataDir.
func FilterPath(dataDir string) string {
	return filepath.Join(dataDir, "local_data", "bloom_filter.bin")
}

// Client is one client session.
type Client struct {
	cfg     Config
	api     *API
	session *journal.Session

	mu     sync.Mutex
	filter *bloom.Filter
}

// New starts a session. It loads the saved bloom filter, or rebuilds it from
// the server when there is none. A failed rebuild is not an error: the
// session starts without a filter and every check asks the server.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := model.ValidateClientName(cfg.Name); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput, "invalid client name", err)
	}
	if cfg.FalsePositiveRate == 0 {
		cfg.FalsePositiveRate = model.DefaultFalsePositiveRate
	}

	session, err := journal.OpenSession(filepath.Join(cfg.DataDir, "log"), cfg.Name, cfg.Clock)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		api:     NewAPI(cfg.BaseURL, cfg.Name, cfg.HTTPClient),
		session: session,
	}

	filter, err := bloom.Load(FilterPath(cfg.DataDir))
	switch {
	case err == nil:
		c.filter = filter
		c.logf(false, "%s Successfully loaded the local bloom filter into memory", journal.TagSession)
		return c, nil
	case errors.Is(err, os.ErrNotExist) && cfg.NoAutoRebuild:
		c.logf(false, "%s Bloom filter could not be found", journal.TagSession)
		return c, nil
	case errors.Is(err, os.ErrNotExist):
		c.logf(false, "%s Bloom filter could not be found, requesting server for a rebuild", journal.TagSession)
	default:
		slog.Warn("Ignoring unreadable bloom filter", "path", FilterPath(cfg.DataDir), "error", err)
		c.logf(false, "%s Local bloom filter is unreadable, requesting server for a rebuild", journal.TagSession)
	}

	if err := c.RebuildFilter(ctx); err != nil {
		slog.Debug("Initial bloom filter rebuild failed", "error", err)
		c.logf(true, "%s Failed to load the local bloom filter", journal.TagSession)
	} else {
		c.logf(true, "%s Successfully loaded the local bloom filter into memory", journal.TagSession)
	}
	return c, nil
}

// logf writes to the session log. Failures are reported through slog only.
func (c *Client) logf(lineBreak bool, format string, args ...any) {
	if err := c.session.Writef(lineBreak, format, args...); err != nil {
		slog.Warn("Failed to write session log", "error", err)
	}
}

func seconds(start time.Time) string {
	return fmt.Sprintf("%.4f seconds", time.Since(start).Seconds())
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// API returns the underlying HTTP API.
func (c *Client) API() *API {
	return c.api
}

// HasFilter reports whether a bloom filter is loaded.
func (c *Client) HasFilter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter != nil
}

// Filter reports the loaded filter's parameters. ok is false when the
// session has no filter.
func (c *Client) Filter() (stats FilterStats, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filter == nil {
		return FilterStats{}, false
	}
	return FilterStats{
		Path:      FilterPath(c.cfg.DataDir),
		Entries:   c.filter.Len(),
		Bits:      c.filter.Bits(),
		HashCount: c.filter.HashCount(),
	}, true
}

// CheckURL decides whether url is blacklisted. A bloom filter miss is
// answered locally; a hit, or a missing filter, is confirmed by fetching
// every blacklisted hash that shares the URL's prefix. When the server
// cannot be asked the verdict is VerdictUnknown together with the error.
func (c *Client) CheckURL(ctx context.Context, url string) (model.Verdict, error) {
	c.logf(true, "%s Checking URL safety for %q", journal.TagCheck, url)
	start := time.Now()

	h := model.HashURL(url)
	prefix := h.Prefix()

	c.mu.Lock()
	filter := c.filter
	hit := filter != nil && filter.Test(prefix[:])
	c.mu.Unlock()

	switch {
	case filter == nil:
		c.logf(false, "%s Bloom filter has not been initialized, requesting confirmation from the server instead", journal.TagCheck)
	case hit:
		c.logf(false, "%s The URL may be malicious after a bloom filter check, requesting confirmation from the server", journal.TagCheck)
	default:
		c.logf(false, "%s Bloom filter confirms URL is safe in %s", journal.TagCheck, seconds(start))
		return model.VerdictSafe, nil
	}

	start = time.Now()
	hashes, err := c.api.FetchHashes(ctx, prefix)
	if err != nil {
		c.logf(false, "%s %v", journal.TagError, err)
		return model.VerdictUnknown, err
	}

	for _, candidate := range hashes {
		if candidate == h {
			c.logf(false, "%s The URL is confirmed malicious after %s", journal.TagCheck, seconds(start))
			return model.VerdictMalicious, nil
		}
	}
	c.logf(false, "%s The URL is determined safe after %s", journal.TagCheck, seconds(start))
	return model.VerdictSafe, nil
}

// BlacklistURL submits url to the server and, on success, adds its prefix
// to the local filter. A URL the server already holds yields
// ErrAlreadyListed; its prefix is still added so the filter stays in step.
func (c *Client) BlacklistURL(ctx context.Context, url string) error {
	c.logf(true, "%s Submitting %q to be blacklisted", journal.TagPost, url)
	start := time.Now()
	h := model.HashURL(url)

	err := c.api.Submit(ctx, h)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest && apiErr.Body == alreadyListedBody:
		c.logf(false, "%s The URL is already blacklisted", journal.TagPost)
		c.addToFilter(h)
		return ErrAlreadyListed
	case err != nil:
		c.logf(false, "%s %v", journal.TagError, err)
		c.logf(false, "%s Request to blacklist the URL has failed", journal.TagPost)
		return err
	}

	c.addToFilter(h)
	c.logf(false, "%s Successfully blacklisted the URL in %s", journal.TagPost, seconds(start))
	return nil
}

// addToFilter adds h's prefix to the filter and saves it. A save failure is
// logged; the in-memory filter is still updated.
func (c *Client) addToFilter(h model.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filter == nil {
		return
	}
	prefix := h.Prefix()
	c.filter.Add(prefix[:])
	if err := c.filter.Save(FilterPath(c.cfg.DataDir)); err != nil {
		c.logf(false, "%s %v", journal.TagError, err)
	}
}

// RebuildFilter downloads every prefix from the server into a new filter
// sized for the current blacklist and saves it. On failure the previous
// filter, if any, stays in use.
func (c *Client) RebuildFilter(ctx context.Context) error {
	c.logf(true, "%s Requesting the full list of hash prefixes from the server", journal.TagRebuild)
	start := time.Now()

	filter, err := c.buildFilter(ctx)
	if err != nil {
		c.logf(false, "%s %v", journal.TagError, err)
		return err
	}

	c.logf(false, "%s Now saving the bloom filter into client's local data", journal.TagRebuild)
	if err := filter.Save(FilterPath(c.cfg.DataDir)); err != nil {
		c.logf(false, "%s %v", journal.TagError, err)
		return err
	}

	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()

	c.logf(false, "%s Finished building bloom filter in %s", journal.TagRebuild, seconds(start))
	return nil
}

func (c *Client) buildFilter(ctx context.Context) (*bloom.Filter, error) {
	md, err := c.api.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if md.Partitions < 1 {
		return nil, fmt.Errorf("server reported %d partitions", md.Partitions)
	}

	filter, err := bloom.New(md.Entries, c.cfg.FalsePositiveRate)
	if err != nil {
		return nil, err
	}

	// Two downloads per partition: memtable, then index files.
	results := make([][]byte, 2*md.Partitions)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for n := 1; n <= md.Partitions; n++ {
		g.Go(func() error {
			prefixes, err := c.api.MemtablePrefixes(gctx, n)
			if err != nil {
				return fmt.Errorf("partition %d memtable: %w", n, err)
			}
			results[2*(n-1)] = prefixes
			return nil
		})
		g.Go(func() error {
			prefixes, err := c.api.IndexPrefixes(gctx, n)
			if err != nil {
				return fmt.Errorf("partition %d index files: %w", n, err)
			}
			results[2*(n-1)+1] = prefixes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, packed := range results {
		for off := 0; off < len(packed); off += model.PrefixSize {
			filter.Add(packed[off : off+model.PrefixSize])
		}
	}
	slog.Debug("Bloom filter rebuilt",
		"entries", filter.Len(),
		"bits", filter.Bits(),
		"hashes", filter.HashCount())
	return filter, nil
}

// SessionLog returns the lines of this session's log.
func (c *Client) SessionLog() ([]string, error) {
	return c.session.Lines()
}

// SessionLogPath returns the session log file path.
func (c *Client) SessionLogPath() string {
	return c.session.Path()
}

// ServerLogs returns today's server activity log.
func (c *Client) ServerLogs(ctx context.Context) ([]string, error) {
	lines, err := c.api.ServerLogs(ctx)
	if err != nil {
		c.logf(false, "%s %v", journal.TagError, err)
		return nil, err
	}
	return lines, nil
}

// Close records the end of the session. cause, when non-nil, is included in
// the log line.
func (c *Client) Close(cause error) {
	if cause != nil {
		c.logf(true, "%s Session ended: %v", journal.TagSession, cause)
		return
	}
	c.logf(true, "%s Session ended", journal.TagSession)
}

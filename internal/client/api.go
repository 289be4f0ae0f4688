package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// ErrUnreachable wraps transport failures talking to the server.
var ErrUnreachable = errors.New("server unreachable")

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4096

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, body)
}

// API is a typed client for the blacklist HTTP API.
type API struct {
	baseURL string
	name    string
	http    *http.Client
}

// NewAPI returns an API for the server at baseURL (scheme, host and port,
// without the context path). name is sent as the "client" parameter.
// A nil hc uses a client with a 30 second timeout.
func NewAPI(baseURL, name string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		http:    hc,
	}
}

// BaseURL returns the server URL the API talks to.
func (a *API) BaseURL() string {
	return a.baseURL
}

// do sends one request and returns the body of a 2xx response.
func (a *API) do(ctx context.Context, method, route string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("client", a.name)
	target := a.baseURL + model.ContextPath + route + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}
	return body, nil
}

// FetchHashes returns every blacklisted hash starting with prefix.
func (a *API) FetchHashes(ctx context.Context, prefix model.Prefix) ([]model.Hash, error) {
	body, err := a.do(ctx, http.MethodGet, "/fetch-hashes", url.Values{"prefix": {prefix.String()}})
	if err != nil {
		return nil, err
	}
	if len(body)%model.HashSize != 0 {
		return nil, fmt.Errorf("malformed hash list: %d bytes is not a multiple of %d", len(body), model.HashSize)
	}

	hashes := make([]model.Hash, 0, len(body)/model.HashSize)
	for off := 0; off < len(body); off += model.HashSize {
		var h model.Hash
		copy(h[:], body[off:off+model.HashSize])
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// Submit asks the server to blacklist h.
func (a *API) Submit(ctx context.Context, h model.Hash) error {
	_, err := a.do(ctx, http.MethodPost, "/submit-malicious-url", url.Values{"url": {h.String()}})
	return err
}

// MemtablePrefixes returns the packed 4-byte prefixes in partition's
// memtable.
func (a *API) MemtablePrefixes(ctx context.Context, partition int) ([]byte, error) {
	return a.prefixes(ctx, "/fetch-prefixes/memtable", partition)
}

// IndexPrefixes returns the packed 4-byte prefixes in partition's index
// files.
func (a *API) IndexPrefixes(ctx context.Context, partition int) ([]byte, error) {
	return a.prefixes(ctx, "/fetch-prefixes/index", partition)
}

func (a *API) prefixes(ctx context.Context, route string, partition int) ([]byte, error) {
	body, err := a.do(ctx, http.MethodGet, route, url.Values{"partition": {strconv.Itoa(partition)}})
	if err != nil {
		return nil, err
	}
	if len(body)%model.PrefixSize != 0 {
		return nil, fmt.Errorf("malformed prefix list: %d bytes is not a multiple of %d", len(body), model.PrefixSize)
	}
	return body, nil
}

// Metadata returns the blacklist size and partition count.
func (a *API) Metadata(ctx context.Context) (model.Metadata, error) {
	body, err := a.do(ctx, http.MethodGet, "/fetch-blacklist-metadata", nil)
	if err != nil {
		return model.Metadata{}, err
	}
	var md model.Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return model.Metadata{}, err
	}
	return md, nil
}

// ServerLogs returns today's server activity log.
func (a *API) ServerLogs(ctx context.Context) ([]string, error) {
	body, err := a.do(ctx, http.MethodGet, "/get-logs", nil)
	if err != nil {
		return nil, err
	}
	var lines []string
	if err := json.Unmarshal(body, &lines); err != nil {
		return nil, fmt.Errorf("malformed server logs: %w", err)
	}
	return lines, nil
}

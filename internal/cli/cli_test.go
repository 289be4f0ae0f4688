package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/urlshield/internal/client"
	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/server"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// execute runs the root command with args and stdin and returns stdout.
// The global flag variables are rebound by NewRootCommand on every call.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// backend is a running blacklist server for client command tests.
type backend struct {
	host, port string
	store      *store.Store
	dataDir    string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(dir, store.Options{Partitions: 4, HashesPerIndex: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	activity, err := journal.OpenDaily(journal.ActivityDir(dir), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(server.New(st, activity, server.Options{}).Handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return &backend{host: u.Hostname(), port: u.Port(), store: st, dataDir: dir}
}

// clientArgs returns the flags pointing a client command at b.
func (b *backend) clientArgs(dataDir string, extra ...string) []string {
	return append([]string{"--host", b.host, "--port", b.port, "--data-dir", dataDir}, extra...)
}

func run(t *testing.T, b *backend, dataDir, command string, extra ...string) (string, error) {
	t.Helper()
	return execute(t, "", append([]string{command}, b.clientArgs(dataDir, extra...)...)...)
}

func TestCheckAndSubmit(t *testing.T) {
	b := newBackend(t)
	dataDir := t.TempDir()
	const target = "http://evil.example/login"

	out, err := run(t, b, dataDir, "check", target)
	require.NoError(t, err)
	assert.Contains(t, out, "The URL is safe!")

	out, err = run(t, b, dataDir, "submit", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Your request to blacklist a URL was successful!")
	assert.True(t, b.store.Contains(model.HashURL(target)))

	out, err = run(t, b, dataDir, "check", target)
	require.Error(t, err)
	assert.Equal(t, model.ExitMalicious, ExitCodeOf(err))
	assert.Contains(t, out, "The URL is a blacklisted site, not safe")

	out, err = run(t, b, dataDir, "submit", target)
	require.NoError(t, err)
	assert.Contains(t, out, "The URL is already blacklisted")
}

func TestCheck_JSON(t *testing.T) {
	b := newBackend(t)
	out, err := run(t, b, t.TempDir(), "check", "--json", "http://fine.example")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]string{"url": "http://fine.example", "verdict": "safe"}, got)
}

func TestCheck_InvalidInput(t *testing.T) {
	b := newBackend(t)

	_, err := run(t, b, t.TempDir(), "check", "not a url")
	assert.Equal(t, model.ExitInvalidInput, ExitCodeOf(err))

	_, err = run(t, b, t.TempDir(), "check", "--name", "a/b", "http://fine.example")
	assert.Equal(t, model.ExitInvalidInput, ExitCodeOf(err))
}

func TestCheck_ServerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	_, err = execute(t, "", "check", "--host", "127.0.0.1", "--port", deadPort,
		"--data-dir", t.TempDir(), "http://fine.example")
	require.Error(t, err)
	assert.Equal(t, model.ExitServerUnreachable, ExitCodeOf(err))
}

func TestRebuild_JSON(t *testing.T) {
	b := newBackend(t)
	for i := 0; i < 40; i++ {
		_, err := b.store.Submit(model.HashURL(fmt.Sprintf("http://seeded-%d.example", i)))
		require.NoError(t, err)
	}
	dataDir := t.TempDir()

	out, err := run(t, b, dataDir, "rebuild", "--json")
	require.NoError(t, err)

	var stats client.FilterStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, uint64(40), stats.Entries)
	assert.Equal(t, client.FilterPath(dataDir), stats.Path)
	assert.FileExists(t, stats.Path)
}

func TestLogs(t *testing.T) {
	b := newBackend(t)
	dataDir := t.TempDir()

	_, err := run(t, b, dataDir, "logs", "--name", "alice")
	assert.Equal(t, model.ExitInvalidInput, ExitCodeOf(err), "no sessions yet")

	_, err = run(t, b, dataDir, "check", "--name", "alice", "http://fine.example")
	require.NoError(t, err)

	out, err := run(t, b, dataDir, "logs", "--name", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "[SESSION] Session started for alice")
	assert.Contains(t, out, `[CHECK] Checking URL safety for "http://fine.example"`)
	assert.Contains(t, out, "[SESSION] Session ended")

	out, err = run(t, b, dataDir, "logs", "--server", "--name", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "[SESSION] Server started")
	assert.Contains(t, out, "alice")
}

// writeDataset writes a CSV with a header and the given URL rows.
func writeDataset(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.csv")
	content := "url,type\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSeed(t *testing.T) {
	var rows []string
	for i := 0; i < 25; i++ {
		rows = append(rows, fmt.Sprintf("http://phish-%d.example,phishing", i))
	}
	rows = append(rows, "http://phish-0.example,phishing", "")
	csvPath := writeDataset(t, rows...)
	dataDir := t.TempDir()

	out, err := execute(t, "", "seed", "--data-dir", dataDir, "--partitions", "2", "--hashes-per-index", "4", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 25 hashes")
	assert.Contains(t, out, "PARTITION")

	_, err = execute(t, "", "seed", "--data-dir", dataDir, "--partitions", "2", csvPath)
	assert.Equal(t, model.ExitInvalidInput, ExitCodeOf(err))

	out, err = execute(t, "", "seed", "--json", "--force", "--data-dir", dataDir, "--partitions", "2", "--hashes-per-index", "4", csvPath)
	require.NoError(t, err)
	var report struct {
		Entries    int `json:"entries"`
		Duplicates int `json:"duplicates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 25, report.Entries)
	assert.Equal(t, 1, report.Duplicates)

	st, err := store.Open(dataDir, store.Options{Partitions: 2, HashesPerIndex: 4})
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, 25, st.Metadata().Entries)
	assert.True(t, st.Contains(model.HashURL("http://phish-7.example")))
}

func TestShell_Session(t *testing.T) {
	b := newBackend(t)
	dataDir := t.TempDir()

	// Name (asked twice), an unknown option, a submit with one rejected
	// URL, a check, the session log, then exit.
	script := strings.Join([]string{
		"",
		"alice",
		"9",
		"2",
		"not a url",
		"http://evil.example",
		"1",
		"http://evil.example",
		"",
		"4",
		"",
		"6",
	}, "\n") + "\n"

	out, err := execute(t, script, append([]string{"shell"}, b.clientArgs(dataDir)...)...)
	require.NoError(t, err)

	assert.Contains(t, out, "PLEASE PICK AMONG THESE MENU OPTIONS")
	assert.Contains(t, out, "Your input is not a menu option.")
	assert.Contains(t, out, "The given URL is invalid")
	assert.Contains(t, out, "Your request to blacklist a URL was successful!")
	assert.Contains(t, out, "The URL is a blacklisted site, not safe")
	assert.Contains(t, out, "[SESSION] Session started for alice")
	assert.Contains(t, out, "Thank you for using the urlshield URL scanner!")
	assert.NotContains(t, out, "\033[H", "no terminal control codes for piped input")

	assert.True(t, b.store.Contains(model.HashURL("http://evil.example")))

	_, lines, err := journal.LatestSession(filepath.Join(dataDir, "log"), "alice")
	require.NoError(t, err)
	assert.Contains(t, lines[len(lines)-1], "[SESSION] Session ended")
}

func TestShell_InputClosed(t *testing.T) {
	b := newBackend(t)
	dataDir := t.TempDir()

	_, err := execute(t, "bob\n", append([]string{"shell"}, b.clientArgs(dataDir)...)...)
	require.NoError(t, err)

	_, lines, err := journal.LatestSession(filepath.Join(dataDir, "log"), "bob")
	require.NoError(t, err)
	assert.Contains(t, lines[len(lines)-1], "[SESSION] Session ended: input closed")

	// No name at all is a cancelled session.
	_, err = execute(t, "", append([]string{"shell"}, b.clientArgs(t.TempDir())...)...)
	assert.Equal(t, model.ExitUserCancelled, ExitCodeOf(err))
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startServe runs the serve command in the background and waits until it
// answers health checks. The returned function stops it and returns its
// error and output.
func startServe(t *testing.T, dataDir string, extra ...string) (string, func() (string, error)) {
	t.Helper()
	port := freePort(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"serve", "--host", "127.0.0.1", "--port", strconv.Itoa(port),
		"--data-dir", dataDir}, extra...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	stopped := false
	stop := func() (string, error) {
		stopped = true
		cancel()
		select {
		case err := <-done:
			return out.String(), err
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop after cancellation")
			return "", nil
		}
	}
	t.Cleanup(func() {
		if !stopped {
			_, _ = stop()
		}
	})
	return base, stop
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	dataDir := t.TempDir()
	base, stop := startServe(t, dataDir, "--partitions", "2")

	out, err := stop()
	require.NoError(t, err)

	assert.Contains(t, out, "on "+base)
	assert.DirExists(t, filepath.Join(dataDir, "db", "partition2"))

	entries, err := os.ReadDir(journal.ActivityDir(dataDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(journal.ActivityDir(dataDir), entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[SESSION] Server started")
	assert.Contains(t, string(data), "[SESSION] Server shutting down")
}

func TestServe_FlushMetric(t *testing.T) {
	base, _ := startServe(t, t.TempDir(), "--partitions", "1", "--hashes-per-index", "1")

	q := url.Values{"client": {"tester"}, "url": {model.HashURL("http://flush.example").String()}}
	resp, err := http.Post(base+model.ContextPath+"/submit-malicious-url?"+q.Encode(), "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `urlshield_flushes_total{partition="1"} 1`+"\n")
}

func TestServe_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	dataDir := t.TempDir()
	_, err = execute(t, "", "serve", "--host", "127.0.0.1", "--port", busy, "--data-dir", dataDir)
	assert.Equal(t, model.ExitPortUnavailable, ExitCodeOf(err))
	assert.NoDirExists(t, filepath.Join(dataDir, "db"), "store must not be created")
}

func TestConfigFile(t *testing.T) {
	b := newBackend(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "urlshield.yaml")
	cfg := fmt.Sprintf("client:\n  name: from-config\n  host: %s\n  port: %s\n  data_dir: %s\n",
		b.host, b.port, filepath.Join(dir, "client"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	_, err := execute(t, "", "check", "--config", cfgPath, "http://fine.example")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "client", "log", "from-config-000.log"))

	_, err = execute(t, "", "check", "--config", filepath.Join(dir, "missing.yaml"), "http://fine.example")
	assert.Equal(t, model.ExitInvalidInput, ExitCodeOf(err))
}

func TestExitCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ExitCode
	}{
		{"nil", nil, model.ExitSuccess},
		{"cli error", model.NewCLIError(model.ExitStoreError, "x"), model.ExitStoreError},
		{"wrapped cli error", fmt.Errorf("outer: %w", &model.CLIError{Code: model.ExitMalicious}), model.ExitMalicious},
		{"unreachable", fmt.Errorf("%w: dial tcp", client.ErrUnreachable), model.ExitServerUnreachable},
		{"api error", &client.APIError{Status: 500, Body: "boom"}, model.ExitServerUnreachable},
		{"other", errors.New("boom"), model.ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeOf(tt.err))
		})
	}
}

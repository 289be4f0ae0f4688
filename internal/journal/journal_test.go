package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)}
}

// TestDaily_StartAndClient checks the header and client line formats.
func TestDaily_StartAndClient(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	d, err := OpenDaily(dir, clock.now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2025-03-14.log"), d.Path())

	clock.t = clock.t.Add(2 * time.Second)
	require.NoError(t, d.Client("alice", "[GET] Fetching blacklist metadata", true))
	require.NoError(t, d.Client("alice", "[GET] Done fetching metadata in 0.0001 seconds", false))

	lines, err := d.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:26:53 - [SESSION] Server started",
		"",
		"09:26:55 - [CLIENT: alice] [GET] Fetching blacklist metadata",
		"09:26:55 - [CLIENT: alice] [GET] Done fetching metadata in 0.0001 seconds",
	}, lines)
}

// TestDaily_ReopenSeparatesRuns checks that a second run on the same day is
// separated by a blank line and the shutdown line is written.
func TestDaily_ReopenSeparatesRuns(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	d, err := OpenDaily(dir, clock.now)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d2, err := OpenDaily(dir, clock.now)
	require.NoError(t, err)

	lines, err := d2.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:26:53 - [SESSION] Server started",
		"",
		"09:26:53 - [SESSION] Server shutting down",
		"",
		"09:26:53 - [SESSION] Server started",
	}, lines)
}

// TestDaily_RollsOverAtMidnight checks that writes after midnight go to a
// new file that starts with a session header.
func TestDaily_RollsOverAtMidnight(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	clock.t = time.Date(2025, 3, 14, 23, 59, 59, 0, time.Local)

	d, err := OpenDaily(dir, clock.now)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Second)
	require.NoError(t, d.Client("bob", "[POST] Blacklisting a URL hash", true))
	assert.Equal(t, filepath.Join(dir, "2025-03-15.log"), d.Path())

	lines, err := d.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"00:00:01 - [SESSION] Server started",
		"",
		"00:00:01 - [CLIENT: bob] [POST] Blacklisting a URL hash",
	}, lines)

	old, err := os.ReadFile(filepath.Join(dir, "2025-03-14.log"))
	require.NoError(t, err)
	assert.Equal(t, "23:59:59 - [SESSION] Server started\n", string(old))
}

// TestDaily_CloseOnNewDay checks the shutdown line opens the new file
// without a separator.
func TestDaily_CloseOnNewDay(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	d, err := OpenDaily(dir, clock.now)
	require.NoError(t, err)

	clock.t = clock.t.Add(24 * time.Hour)
	require.NoError(t, d.Close())

	data, err := os.ReadFile(filepath.Join(dir, "2025-03-15.log"))
	require.NoError(t, err)
	assert.Equal(t, "09:26:53 - [SESSION] Server shutting down\n", string(data))
}

// TestSession_SequenceNumbers checks NNN allocation and the line format.
func TestSession_SequenceNumbers(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	first, err := OpenSession(dir, "carol", clock.now)
	require.NoError(t, err)
	second, err := OpenSession(dir, "carol", clock.now)
	require.NoError(t, err)
	other, err := OpenSession(dir, "dave", clock.now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "carol-000.log"), first.Path())
	assert.Equal(t, filepath.Join(dir, "carol-001.log"), second.Path())
	assert.Equal(t, filepath.Join(dir, "dave-000.log"), other.Path())

	require.NoError(t, first.Writef(true, "%s Checking URL safety for %q", TagCheck, "example.com"))

	lines, err := first.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2025-03-14 09:26:53 - [SESSION] Session started for carol",
		"",
		`2025-03-14 09:26:53 - [CHECK] Checking URL safety for "example.com"`,
	}, lines)
}

// TestLatestSession picks the highest sequence number for exactly one name.
func TestLatestSession(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	_, _, err := LatestSession(dir, "erin")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	for i := 0; i < 3; i++ {
		s, err := OpenSession(dir, "erin", clock.now)
		require.NoError(t, err)
		require.NoError(t, s.Writef(false, "run %d", i))
	}
	_, err = OpenSession(dir, "erin-2", clock.now)
	require.NoError(t, err)

	path, lines, err := LatestSession(dir, "erin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "erin-002.log"), path)
	assert.Equal(t, []string{
		"2025-03-14 09:26:53 - [SESSION] Session started for erin",
		"2025-03-14 09:26:53 - run 2",
	}, lines)

	path, _, err = LatestSession(dir, "erin-2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "erin-2-000.log"), path)
}

package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// writeCSV writes a dataset with a header row and the given URLs.
func writeCSV(t *testing.T, urls []string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("url,type\n")
	for _, u := range urls {
		fmt.Fprintf(&b, "%s,phishing\n", u)
	}
	path := filepath.Join(t.TempDir(), "malicious_urls.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func makeURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("bad-%d.example/login", i)
	}
	return urls
}

// TestSeed_OpensAsStore seeds a dataset and checks that a store opened on
// the result contains every URL.
func TestSeed_OpensAsStore(t *testing.T) {
	urls := makeURLs(200)
	csvPath := writeCSV(t, append(urls, urls[0], urls[1], ""))
	dataDir := t.TempDir()

	report, err := Seed(context.Background(), csvPath, dataDir, Options{Partitions: 4, HashesPerIndex: 20})
	require.NoError(t, err)
	assert.Equal(t, 203, report.Rows)
	assert.Equal(t, 1, report.Blank)
	assert.Equal(t, 2, report.Duplicates)
	assert.Equal(t, 200, report.Entries())
	require.Len(t, report.Partitions, 4)

	for _, pr := range report.Partitions {
		assert.Equal(t, pr.Entries/20, pr.IndexFiles)
		assert.Equal(t, pr.Entries%20, pr.WALEntries)
	}

	s, err := store.Open(dataDir, store.Options{Partitions: 4, HashesPerIndex: 20})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 200, s.Metadata().Entries)
	for _, u := range urls {
		assert.True(t, s.Contains(model.HashURL(u)), u)
	}
	assert.False(t, s.Contains(model.HashURL("url")), "header must be skipped")
}

// TestSeed_RefusesExistingStore requires Force to overwrite.
func TestSeed_RefusesExistingStore(t *testing.T) {
	csvPath := writeCSV(t, makeURLs(30))
	dataDir := t.TempDir()
	opts := Options{Partitions: 4, HashesPerIndex: 5}

	_, err := Seed(context.Background(), csvPath, dataDir, opts)
	require.NoError(t, err)

	_, err = Seed(context.Background(), csvPath, dataDir, opts)
	assert.True(t, errors.Is(err, ErrNotEmpty))

	opts.Force = true
	report, err := Seed(context.Background(), writeCSV(t, makeURLs(3)), dataDir, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entries())

	s, err := store.Open(dataDir, store.Options{Partitions: 4, HashesPerIndex: 5})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 3, s.Metadata().Entries)
}

// TestSeed_Errors covers bad options, a missing file and cancellation.
func TestSeed_Errors(t *testing.T) {
	dataDir := t.TempDir()

	_, err := Seed(context.Background(), "x.csv", dataDir, Options{Partitions: 0, HashesPerIndex: 5})
	assert.Error(t, err)
	_, err = Seed(context.Background(), "x.csv", dataDir, Options{Partitions: 4, HashesPerIndex: 0})
	assert.Error(t, err)

	_, err = Seed(context.Background(), filepath.Join(dataDir, "missing.csv"), dataDir, Options{Partitions: 4, HashesPerIndex: 5})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Seed(ctx, writeCSV(t, makeURLs(10)), t.TempDir(), Options{Partitions: 4, HashesPerIndex: 5})
	assert.True(t, errors.Is(err, context.Canceled))
}

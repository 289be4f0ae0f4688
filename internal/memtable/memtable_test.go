package memtable

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// hashOf is a test helper that produces a distinct hash per integer.
func hashOf(i int) model.Hash {
	return model.HashURL(fmt.Sprintf("http://site-%d.example", i))
}

// checkInvariants walks the tree and fails the test if any red-black
// property or the ordering property is violated.
func checkInvariants(t *testing.T, tbl *MemTable) {
	t.Helper()

	require.Equal(t, black, tbl.root.color, "root must be black")

	var walk func(n *node) int
	walk = func(n *node) int {
		if n == tbl.leaf {
			return 1
		}
		if n.color == red {
			require.Equal(t, black, n.left.color, "red node %s has red left child", n.key)
			require.Equal(t, black, n.right.color, "red node %s has red right child", n.key)
		}
		if n.left != tbl.leaf {
			require.Same(t, n, n.left.parent, "broken parent pointer")
			require.Negative(t, n.left.key.Compare(n.key))
		}
		if n.right != tbl.leaf {
			require.Same(t, n, n.right.parent, "broken parent pointer")
			require.Positive(t, n.right.key.Compare(n.key))
		}
		lh := walk(n.left)
		rh := walk(n.right)
		require.Equal(t, lh, rh, "black height mismatch under %s", n.key)
		if n.color == black {
			return lh + 1
		}
		return lh
	}
	walk(tbl.root)

	keys := tbl.Keys()
	require.Len(t, keys, tbl.Len())
	for i := 1; i < len(keys); i++ {
		require.Negative(t, keys[i-1].Compare(keys[i]), "keys out of order at %d", i)
	}
}

// TestInsert_Basic verifies insertion, duplicate rejection and lookup.
func TestInsert_Basic(t *testing.T) {
	tbl := New()
	assert.Equal(t, 0, tbl.Len())

	assert.True(t, tbl.Insert(hashOf(1)))
	assert.True(t, tbl.Insert(hashOf(2)))
	assert.False(t, tbl.Insert(hashOf(1)), "duplicate insert must be rejected")
	assert.Equal(t, 2, tbl.Len())

	assert.True(t, tbl.Contains(hashOf(1)))
	assert.False(t, tbl.Contains(hashOf(3)))

	got, ok := tbl.Get(hashOf(2))
	assert.True(t, ok)
	assert.Equal(t, hashOf(2), got)

	_, ok = tbl.Get(hashOf(99))
	assert.False(t, ok)
}

// TestInsert_KeepsInvariants inserts many hashes, including sorted runs
// that would degenerate an unbalanced tree, and checks the tree after each
// batch.
func TestInsert_KeepsInvariants(t *testing.T) {
	tbl := New()

	// Ascending sequence of raw hashes.
	for i := 0; i < 512; i++ {
		var h model.Hash
		h[0] = byte(i >> 8)
		h[1] = byte(i)
		require.True(t, tbl.Insert(h))
	}
	checkInvariants(t, tbl)

	for i := 0; i < 2000; i++ {
		tbl.Insert(hashOf(i))
	}
	checkInvariants(t, tbl)
	assert.Equal(t, 2512, tbl.Len())
}

// TestRemove covers removal of leaves, inner nodes and the root while
// keeping the tree balanced.
func TestRemove(t *testing.T) {
	tbl := New()
	const n = 1000
	for i := 0; i < n; i++ {
		tbl.Insert(hashOf(i))
	}

	rng := rand.New(rand.NewSource(42))
	order := rng.Perm(n)
	for i, idx := range order {
		require.True(t, tbl.Remove(hashOf(idx)), "remove %d", idx)
		require.False(t, tbl.Contains(hashOf(idx)))
		if i%97 == 0 {
			checkInvariants(t, tbl)
		}
		if i == n/2 {
			assert.Equal(t, n/2-1, tbl.Len())
		}
	}

	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Remove(hashOf(1)), "removing from an empty table returns false")

	// The table must still be usable after being emptied.
	assert.True(t, tbl.Insert(hashOf(7)))
	checkInvariants(t, tbl)
}

// TestRemove_Missing checks that removing an absent key is a no-op.
func TestRemove_Missing(t *testing.T) {
	tbl := New()
	tbl.Insert(hashOf(1))
	assert.False(t, tbl.Remove(hashOf(2)))
	assert.Equal(t, 1, tbl.Len())
}

// TestRangeLookup compares range results against a brute-force filter over
// a sorted slice.
func TestRangeLookup(t *testing.T) {
	tbl := New()
	var all []model.Hash
	for i := 0; i < 3000; i++ {
		h := hashOf(i)
		tbl.Insert(h)
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })

	for _, probe := range []int{0, 17, 1500, 2999} {
		lo, hi := hashOf(probe).Prefix().Range()
		got := tbl.RangeLookup(lo, hi)

		var want []model.Hash
		for _, h := range all {
			if h.Compare(lo) >= 0 && h.Compare(hi) <= 0 {
				want = append(want, h)
			}
		}
		assert.Equal(t, want, got, "prefix of probe %d", probe)
		assert.Contains(t, got, hashOf(probe))
	}

	// Inclusive bounds: a range that is exactly one stored key.
	h := all[10]
	assert.Equal(t, []model.Hash{h}, tbl.RangeLookup(h, h))

	// Whole key space returns everything in order.
	var lowest, highest model.Hash
	for i := range highest {
		highest[i] = 0xFF
	}
	assert.Equal(t, all, tbl.RangeLookup(lowest, highest))
}

// TestAscend_EarlyStop verifies that Ascend stops when the callback
// returns false.
func TestAscend_EarlyStop(t *testing.T) {
	tbl := New()
	for i := 0; i < 50; i++ {
		tbl.Insert(hashOf(i))
	}

	count := 0
	tbl.Ascend(func(model.Hash) bool {
		count++
		return count < 5
	})
	assert.Equal(t, 5, count)
}

// TestReset empties the table.
func TestReset(t *testing.T) {
	tbl := New()
	for i := 0; i < 10; i++ {
		tbl.Insert(hashOf(i))
	}
	tbl.Reset()
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Keys())
	assert.False(t, tbl.Contains(hashOf(1)))
}

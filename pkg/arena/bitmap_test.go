package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitTable_SetTestClear(t *testing.T) {
	t.Parallel()

	tbl := newBitTable(8)

	assert.False(t, tbl.test(1))
	tbl.set(1)
	assert.True(t, tbl.test(1))
	tbl.clear(1)
	assert.False(t, tbl.test(1))
}

func TestBitTable_SetTwiceIsFatal(t *testing.T) {
	t.Parallel()

	tbl := newBitTable(8)
	tbl.set(3)

	assert.Panics(t, func() { tbl.set(3) })
}

func TestBitTable_ClearUnsetIsFatal(t *testing.T) {
	t.Parallel()

	tbl := newBitTable(8)

	assert.Panics(t, func() { tbl.clear(5) })
}

func TestBitTable_OutOfRangeIsFatal(t *testing.T) {
	t.Parallel()

	tbl := newBitTable(4)

	assert.Panics(t, func() { tbl.test(0) })
	assert.Panics(t, func() { tbl.test(4) })
	assert.Panics(t, func() { tbl.test(-1) })
}

func TestBitIndex(t *testing.T) {
	t.Parallel()

	// a 32-byte arena split to a 16-byte leaf class: two leaves under the
	// root, bits {1 (root), 2 (left leaf), 3 (right leaf)}.
	require.Equal(t, 1, bitIndex(0, 0, 32))
	require.Equal(t, 2, bitIndex(0, 1, 32))
	require.Equal(t, 3, bitIndex(16, 1, 32))
}

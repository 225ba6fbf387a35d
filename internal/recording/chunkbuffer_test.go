package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func TestChunkBuffer_CutsAtThreshold(t *testing.T) {
	var parts []Part
	b := NewChunkBuffer(10*mib, func(p Part) { parts = append(parts, p) })

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Append(fragment(4*mib, byte(i))))
	}

	require.Len(t, parts, 1)
	assert.Equal(t, int32(1), parts[0].Number)
	assert.Len(t, parts[0].Data, 10*mib)
	assert.Equal(t, 2*mib, b.Buffered())
	assert.Equal(t, int64(12*mib), b.Captured())

	assert.True(t, b.Flush())
	require.Len(t, parts, 2)
	assert.Equal(t, int32(2), parts[1].Number)
	assert.Len(t, parts[1].Data, 2*mib)
	assert.Equal(t, byte(2), parts[1].Data[0])
}

func TestChunkBuffer_EmptyFlushConsumesNothing(t *testing.T) {
	calls := 0
	b := NewChunkBuffer(16, func(Part) { calls++ })

	assert.False(t, b.Flush())
	assert.False(t, b.Flush())
	assert.Equal(t, 0, calls)
	assert.Equal(t, int32(1), b.NextPartNumber())

	require.NoError(t, b.Append([]byte("abc")))
	assert.True(t, b.Flush())
	assert.False(t, b.Flush())
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(2), b.NextPartNumber())
}

func TestChunkBuffer_NumbersAreContiguous(t *testing.T) {
	var numbers []int32
	var total int
	b := NewChunkBuffer(10, func(p Part) {
		numbers = append(numbers, p.Number)
		total += len(p.Data)
	})

	sizes := []int{3, 25, 0, 7, 10, 1}
	want := 0
	for _, n := range sizes {
		want += n
		require.NoError(t, b.Append(fragment(n, 'x')))
		assert.Less(t, b.Buffered(), 10)
	}
	b.Flush()

	for i, n := range numbers {
		assert.Equal(t, int32(i+1), n)
	}
	assert.Equal(t, want, total)
}

func TestChunkBuffer_FreezeRejectsAppend(t *testing.T) {
	var parts []Part
	b := NewChunkBuffer(100, func(p Part) { parts = append(parts, p) })
	require.NoError(t, b.Append([]byte("kept")))

	b.Freeze()
	assert.ErrorIs(t, b.Append([]byte("late")), ErrBufferFrozen)
	assert.True(t, b.Flush())
	require.Len(t, parts, 1)
	assert.Equal(t, []byte("kept"), parts[0].Data)
}

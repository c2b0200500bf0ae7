package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.Range(3, 7)
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, int64(i)+3, e.Seq)
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}

	require.Equal(t, 5, rb.Len())
	got := rb.Range(1, 10)
	require.Len(t, got, 5)
	assert.Equal(t, int64(4), got[0].Seq)
	assert.Equal(t, int64(8), got[4].Seq)
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	assert.Empty(t, rb.Range(1, 100))
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(4)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	got := rb.Range(1, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", string(got[0].Data))
}

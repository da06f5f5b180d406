package ota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierIncremental(t *testing.T) {
	v := NewVerifier()
	v.Write([]byte("01234"))
	assert.Equal(t, uint32(0xdda47024), v.Sum32())
	v.Write([]byte("56789"))
	assert.Equal(t, uint32(0xa684c7c6), v.Sum32())
	assert.True(t, v.Matches(0xa684c7c6))
	assert.False(t, v.Matches(0xa684c7c7))

	v.Reset()
	v.Write(scenarioPayload)
	assert.True(t, v.Matches(0))
}

func TestReassemblerSequence(t *testing.T) {
	r := NewReassembler()
	assert.Equal(t, NoMessageID, r.ExpectedID())

	first := chunk("chA", 42, 0, []byte("0123"), 10)
	require.NoError(t, r.Start(first))
	assert.Equal(t, int64(42), r.ExpectedID())
	assert.False(t, r.Advance(first))

	second := chunk("", 42, 4, []byte("4567"), 10)
	require.NoError(t, r.Continue(second))
	assert.False(t, r.Advance(second))

	last := chunk("", 42, 8, []byte("89"), 10)
	require.NoError(t, r.Continue(last))
	assert.True(t, r.Advance(last))
	assert.Equal(t, int64(10), r.Written())

	r.Reset()
	assert.Error(t, r.Continue(chunk("", 42, 10, []byte("x"), 11)))
}

func TestReassemblerRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"topic set", chunk("chA", 1, 4, []byte("4567"), 10)},
		{"wrong id", chunk("", 2, 4, []byte("4567"), 10)},
		{"offset gap", chunk("", 1, 5, []byte("4567"), 10)},
		{"total changed", chunk("", 1, 4, []byte("4567"), 12)},
		{"past total", chunk("", 1, 4, []byte("4567890"), 10)},
		{"length mismatch", Message{Payload: []byte("4567"), Offset: 4, Length: 3, Total: 10, ID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler()
			first := chunk("chA", 1, 0, []byte("0123"), 10)
			require.NoError(t, r.Start(first))
			r.Advance(first)

			assert.Error(t, r.Continue(tt.msg))
		})
	}
}

func TestReassemblerStartRequiresOffsetZero(t *testing.T) {
	r := NewReassembler()
	assert.Error(t, r.Start(chunk("chA", 1, 4, []byte("4567"), 10)))
	assert.Error(t, r.Start(chunk("chA", 1, 0, nil, 0)))
}

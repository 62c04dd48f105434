package domain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	records := [][]byte{
		[]byte(`{"message":"first"}`),
		[]byte(`{"message":"second","meta":{"a":1}}`),
		{},
	}
	blob := EncodeArchive(records)
	decoded, err := DecodeArchive(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range records {
		assert.True(t, bytes.Equal(records[i], decoded[i]), "record %d", i)
	}

	// re-encoding is byte-identical
	assert.Equal(t, blob, EncodeArchive(decoded))
}

func TestEmptyArchive(t *testing.T) {
	records, err := DecodeArchive(EmptyArchive())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendArchive(t *testing.T) {
	blob := EmptyArchive()
	blob, err := AppendArchive(blob, []byte(`{"n":1}`))
	require.NoError(t, err)
	blob, err = AppendArchive(blob, []byte(`{"n":2}`))
	require.NoError(t, err)

	records, err := DecodeArchive(blob)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"n":2}`, string(records[1]))
}

func TestDecodeArchiveCorruption(t *testing.T) {
	valid := EncodeArchive([][]byte{[]byte("abc")})

	cases := map[string][]byte{
		"empty":            {},
		"too short":        {'S'},
		"wrong magic":      append([]byte{'X', 'Y', 1}, valid[3:]...),
		"unknown version":  append([]byte{'S', 'R', 9}, valid[3:]...),
		"truncated record": valid[:len(valid)-1],
		"length overrun":   {'S', 'R', 1, 0xFF},
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeArchive(blob)
			require.Error(t, err)
			assert.Equal(t, CodeArchiveCorrupt, CodeOf(err))
		})
	}
}

func TestAppendArchiveRejectsCorruptBlob(t *testing.T) {
	_, err := AppendArchive([]byte("not an archive"), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, CodeArchiveCorrupt, CodeOf(err))
}

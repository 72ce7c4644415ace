package msgcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	inputs := []string{
		`{"meta":{"id":"e1","type":"claim_removed"},"data":{"key":"5551230000"}}`,
		`{}`,
		`{"meta":{"id":"e2","type":"claim_updated"},"data":{"customer_name":"` +
			strings.Repeat("Ada Lovelace ", 40) + `"}}`,
	}

	for _, input := range inputs {
		data := []byte(input)
		compressed, compression := Compress(data)
		assert.Equal(t, CompressionZstd, compression)

		decompressed, err := Decompress(compressed, compression)
		require.NoError(t, err)
		assert.Equal(t, data, decompressed)
	}
}

func TestDecompressNone(t *testing.T) {
	data := []byte(`{"key":"5551230000"}`)
	result, err := Decompress(data, CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, data, result)
}

func TestDecompressUnknownReturnsError(t *testing.T) {
	_, err := Decompress([]byte(`{}`), Compression(99))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression")
}

func TestDecompressGarbageReturnsError(t *testing.T) {
	_, err := Decompress([]byte("not zstd"), CompressionZstd)
	assert.Error(t, err)
}

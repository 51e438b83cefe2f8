package compressor

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

func roundTrip(t *testing.T, c Compressor, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := c.NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("formpack payload ", 4096))

	for _, c := range []Compressor{NopCompressor{}, NewZstdCompressor(), NewGzipCompressor()} {
		t.Run("encoding="+c.Encoding(), func(t *testing.T) {
			assert.Equal(t, payload, roundTrip(t, c, payload))
			assert.Empty(t, roundTrip(t, c, nil))
		})
	}
}

func TestZstdShrinks(t *testing.T) {
	payload := []byte(strings.Repeat("a", 1<<16))

	var buf bytes.Buffer
	w, err := NewZstdCompressorWithConcurrency(1).NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Less(t, buf.Len(), len(payload))
}

func TestByEncoding(t *testing.T) {
	c, err := ByEncoding("")
	require.NoError(t, err)
	assert.Equal(t, "", c.Encoding())

	c, err = ByEncoding("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, EncodingZstd, c.Encoding())

	c, err = ByEncoding("x-gzip")
	require.NoError(t, err)
	assert.Equal(t, EncodingGzip, c.Encoding())

	_, err = ByEncoding("br")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestComputeIsIndependentOfChunkSize(t *testing.T) {
	content := bytes.Repeat([]byte("archive me please "), 997)
	store := newMemStore(nil)
	store.put("ingest", "data.bin", content, nil)

	want := md5Hex(content)
	for _, size := range []int{1, 3, 7, 4096, len(content), len(content) + 1, 0} {
		d, err := NewVerifier(store, size).Compute(context.Background(), "ingest", "data.bin", nil)
		require.NoError(t, err, "chunk size %d", size)
		assert.Equal(t, want, d.Hex, "chunk size %d", size)
		assert.Equal(t, int64(len(content)), d.Bytes)
	}
}

func TestComputeIsRepeatable(t *testing.T) {
	store := newMemStore(nil)
	store.put("ingest", "k", []byte("same bytes"), nil)
	v := NewVerifier(store, 4)

	first, err := v.Compute(context.Background(), "ingest", "k", nil)
	require.NoError(t, err)
	second, err := v.Compute(context.Background(), "ingest", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, first.Chunks)
}

func TestComputeEmptyObject(t *testing.T) {
	store := newMemStore(nil)
	store.put("ingest", "empty", nil, nil)

	d, err := NewVerifier(store, 16).Compute(context.Background(), "ingest", "empty", nil)
	require.NoError(t, err)
	assert.Equal(t, emptyMD5, d.Hex)
	assert.Equal(t, 0, d.Chunks)
}

func TestComputeReportsProgressEveryHundredChunks(t *testing.T) {
	store := newMemStore(nil)
	store.put("ingest", "k", bytes.Repeat([]byte{1}, 250), nil)

	var got []int
	d, err := NewVerifier(store, 1).Compute(context.Background(), "ingest", "k", func(chunks int) {
		got = append(got, chunks)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, got)
	assert.Equal(t, 250, d.Chunks)
}

func TestComputeDefaultChunkSize(t *testing.T) {
	v := NewVerifier(newMemStore(nil), 0)
	assert.Equal(t, DefaultChunkSize, v.ChunkSize())
}

func TestComputeRejectsMissingArguments(t *testing.T) {
	store := newMemStore(nil)
	v := NewVerifier(store, 8)

	_, err := v.Compute(context.Background(), "", "k", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = v.Compute(context.Background(), "ingest", "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, store.journal.snapshot(), "store must not be touched")
}

func TestComputeOpenFailure(t *testing.T) {
	store := newMemStore(nil)
	store.openErr = errors.New("AccessDenied")

	d, err := NewVerifier(store, 8).Compute(context.Background(), "ingest", "k", nil)
	assert.ErrorIs(t, err, ErrStoreReadFailed)
	assert.ErrorIs(t, err, store.openErr)
	assert.Empty(t, d.Hex)
}

func TestComputeReadFailureReturnsNoDigest(t *testing.T) {
	store := newMemStore(nil)
	store.put("ingest", "k", bytes.Repeat([]byte("x"), 64), nil)
	store.readErr = errors.New("connection reset")

	d, err := NewVerifier(store, 8).Compute(context.Background(), "ingest", "k", nil)
	assert.ErrorIs(t, err, ErrStoreReadFailed)
	assert.ErrorIs(t, err, store.readErr)
	assert.Equal(t, Digest{}, d)
}

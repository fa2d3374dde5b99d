package archive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// DefaultChunkSize is the read size used to stream an object through the digest.
	DefaultChunkSize = 16 * 1024 * 1024

	progressEveryChunks = 100
)

// ObjectReader opens a sequential read stream of an object's body.
type ObjectReader interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Digest is the outcome of one full pass over an object.
type Digest struct {
	Hex    string
	Chunks int
	Bytes  int64
}

// Verifier computes MD5 digests of stored objects.
type Verifier struct {
	store     ObjectReader
	chunkSize int
}

// NewVerifier returns a Verifier reading chunkSize bytes at a time. A
// non-positive chunkSize selects DefaultChunkSize.
func NewVerifier(store ObjectReader, chunkSize int) *Verifier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Verifier{store: store, chunkSize: chunkSize}
}

// ChunkSize reports the configured read size.
func (v *Verifier) ChunkSize() int { return v.chunkSize }

// Compute streams bucket/key through MD5. onProgress, when set, receives the
// running chunk count every 100 chunks. Any read failure aborts the pass and
// no digest is returned.
func (v *Verifier) Compute(ctx context.Context, bucket, key string, onProgress func(chunks int)) (Digest, error) {
	if bucket == "" {
		return Digest{}, invalidArgument("bucket not specified")
	}
	if key == "" {
		return Digest{}, invalidArgument("key not specified")
	}

	body, err := v.store.Open(ctx, bucket, key)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: open %s/%s: %w", ErrStoreReadFailed, bucket, key, err)
	}
	defer body.Close()

	hash := md5.New()
	buf := make([]byte, v.chunkSize)
	var d Digest
	for {
		n, err := fill(body, buf)
		if n > 0 {
			hash.Write(buf[:n])
			d.Chunks++
			d.Bytes += int64(n)
			if onProgress != nil && d.Chunks%progressEveryChunks == 0 {
				onProgress(d.Chunks)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digest{}, fmt.Errorf("%w: read %s/%s: %w", ErrStoreReadFailed, bucket, key, err)
		}
	}

	d.Hex = hex.EncodeToString(hash.Sum(nil))
	return d, nil
}

// fill reads until buf is full or the reader fails. Only a bare io.EOF from
// the reader counts as the end of the object.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/your-org/arch-mgr/pkg/storage/objectstore"
)

// journal is a shared, ordered record of calls made to the store stub and
// the trail stub.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type memObject struct {
	body         []byte
	meta         map[string]string
	storageClass string
}

// memStore is an in-memory Store that records every call.
type memStore struct {
	mu      sync.Mutex
	objects map[string]*memObject
	journal *journal

	copies  []objectstore.CopyRequest
	deletes []string

	truncated bool
	listErr   error
	headErr   error
	openErr   error
	readErr   error
	copyErr   error
	deleteErr error

	// progress lists the cumulative byte counts reported during a copy,
	// each from its own goroutine.
	progress []int64
}

func newMemStore(j *journal) *memStore {
	if j == nil {
		j = &journal{}
	}
	return &memStore{objects: map[string]*memObject{}, journal: j}
}

func (m *memStore) put(bucket, key string, body []byte, meta map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = &memObject{body: body, meta: meta}
}

func (m *memStore) object(bucket, key string) (*memObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+key]
	return obj, ok
}

func (m *memStore) HeadMetadata(_ context.Context, bucket, key string) (map[string]string, error) {
	m.journal.add("head %s/%s", bucket, key)
	if m.headErr != nil {
		return nil, m.headErr
	}
	obj, ok := m.object(bucket, key)
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	out := map[string]string{}
	for k, v := range obj.meta {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) ListKeys(_ context.Context, bucket string) ([]string, bool, error) {
	m.journal.add("list %s", bucket)
	if m.listErr != nil {
		return nil, false, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	prefix := bucket + "/"
	for name := range m.objects {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			keys = append(keys, name[len(prefix):])
		}
	}
	sort.Strings(keys)
	return keys, m.truncated, nil
}

func (m *memStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.journal.add("open %s/%s", bucket, key)
	if m.openErr != nil {
		return nil, m.openErr
	}
	obj, ok := m.object(bucket, key)
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	var r io.Reader = bytes.NewReader(obj.body)
	if m.readErr != nil {
		r = io.MultiReader(bytes.NewReader(obj.body[:len(obj.body)/2]), &failingReader{err: m.readErr})
	}
	return io.NopCloser(r), nil
}

func (m *memStore) Copy(_ context.Context, req objectstore.CopyRequest, onProgress objectstore.ProgressFunc) error {
	if onProgress != nil {
		var wg sync.WaitGroup
		for _, n := range m.progress {
			wg.Add(1)
			go func(n int64) {
				defer wg.Done()
				onProgress(n)
			}(n)
		}
		wg.Wait()
	}

	m.mu.Lock()
	m.copies = append(m.copies, req)
	m.mu.Unlock()
	m.journal.add("copy %s/%s -> %s/%s", req.SrcBucket, req.SrcKey, req.DstBucket, req.DstKey)
	if m.copyErr != nil {
		return m.copyErr
	}

	src, ok := m.object(req.SrcBucket, req.SrcKey)
	if !ok {
		return errors.New("NoSuchKey")
	}
	meta := map[string]string{}
	if !req.ReplaceMetadata {
		for k, v := range src.meta {
			meta[k] = v
		}
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[req.DstBucket+"/"+req.DstKey] = &memObject{body: src.body, meta: meta, storageClass: req.StorageClass}
	return nil
}

func (m *memStore) Delete(_ context.Context, bucket, key string) error {
	m.journal.add("delete %s/%s", bucket, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, bucket+"/"+key)
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) copyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.copies)
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

// recordingTrail implements Trail and notes flushes in the shared journal.
type recordingTrail struct {
	mu       sync.Mutex
	messages []string
	journal  *journal
}

func (r *recordingTrail) AddEvent(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingTrail) Log(_ context.Context, message string) error {
	r.AddEvent(message)
	return nil
}

func (r *recordingTrail) Flush(context.Context) error {
	if r.journal != nil {
		r.journal.add("flush")
	}
	return nil
}

func (r *recordingTrail) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type published struct {
	key     string
	value   []byte
	headers map[string]string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: string(key), value: value, headers: headers})
	return p.err
}

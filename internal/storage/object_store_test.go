package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedmanch666/slam/internal/config"
)

// fakeS3 answers just enough of the S3 API for bucket creation and PUT.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		types:   map[string]string{},
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	switch {
	case r.Method == http.MethodHead && key == "":
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && key == "":
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body = decodeChunked(body)
		}
		f.objects[path] = body
		f.types[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// decodeChunked strips aws-chunked framing: "<hex size>;chunk-signature=...\r\n<data>\r\n".
func decodeChunked(raw []byte) []byte {
	var out []byte
	for len(raw) > 0 {
		header, rest, ok := bytes.Cut(raw, []byte("\r\n"))
		if !ok {
			break
		}
		sizeHex, _, _ := bytes.Cut(header, []byte(";"))
		size, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || size == 0 || int64(len(rest)) < size {
			break
		}
		out = append(out, rest[:size]...)
		raw = bytes.TrimPrefix(rest[size:], []byte("\r\n"))
	}
	return out
}

func newTestStore(t *testing.T, fake *fakeS3) *ObjectStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewObjectStore(config.StorageConfig{
		Endpoint:      srv.URL,
		AccessKey:     "minio",
		SecretKey:     "minio-secret",
		BucketReports: "tendercrm-reports",
		Region:        "us-east-1",
	})
	require.NoError(t, err)
	return store
}

func TestNewObjectStore_RequiresEndpoint(t *testing.T) {
	_, err := NewObjectStore(config.StorageConfig{})
	assert.Error(t, err)
}

func TestEnsureBuckets_CreatesMissingBucket(t *testing.T) {
	fake := newFakeS3()
	store := newTestStore(t, fake)

	require.NoError(t, store.EnsureBuckets(context.Background()))
	assert.True(t, fake.buckets["tendercrm-reports"])

	require.NoError(t, store.EnsureBuckets(context.Background()))
}

func TestPutJSON(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["tendercrm-reports"] = true
	store := newTestStore(t, fake)

	err := store.PutJSON(context.Background(), "reports/2026-03-01.json", map[string]int{"users": 3})
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, json.Unmarshal(fake.objects["tendercrm-reports/reports/2026-03-01.json"], &got))
	assert.Equal(t, 3, got["users"])
	assert.Equal(t, "application/json", fake.types["tendercrm-reports/reports/2026-03-01.json"])
}

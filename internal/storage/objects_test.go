package storage

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket serves the path-style S3 calls S3Client makes
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]http.Header
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/test-bucket")
	key := strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: "test-bucket"}
		var keys []string
		for k := range b.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key string `xml:"Key"`
			}{k})
		}
		res.KeyCount = len(keys)
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		b.meta[key] = r.Header.Clone()
		w.Header().Set("ETag", `"etag"`)
	case r.Method == http.MethodGet:
		data, ok := b.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case r.Method == http.MethodDelete:
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) (*S3Client, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string][]byte), meta: make(map[string]http.Header)}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	client, err := NewS3Client(&Config{
		Endpoint:   srv.URL,
		Region:     "us-east-1",
		Bucket:     "test-bucket",
		AccessKey:  "key",
		SecretKey:  "secret",
		PathStyle:  true,
		DisableSSL: true,
	})
	require.NoError(t, err)
	return client, bucket
}

func TestS3Client(t *testing.T) {
	client, bucket := newFakeS3(t)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "kv-snapshots/d/ns/1.jsonl", []byte("line\n"), map[string]string{"deployment-id": "d"}))
	require.NoError(t, client.Put(ctx, "kv-snapshots/d/ns/2.jsonl", []byte("line2\n"), nil))
	require.NoError(t, client.Put(ctx, "other/x.jsonl", []byte("x"), nil))

	assert.Equal(t, "d", bucket.meta["kv-snapshots/d/ns/1.jsonl"].Get("X-Amz-Meta-Deployment-Id"))
	assert.Equal(t, contentTypeJSONL, bucket.meta["kv-snapshots/d/ns/1.jsonl"].Get("Content-Type"))

	body, err := client.Get(ctx, "kv-snapshots/d/ns/1.jsonl")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	keys, err := client.List(ctx, "kv-snapshots/d/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kv-snapshots/d/ns/1.jsonl", "kv-snapshots/d/ns/2.jsonl"}, keys)

	require.NoError(t, client.Delete(ctx, "kv-snapshots/d/ns/1.jsonl"))
	_, err = client.Get(ctx, "kv-snapshots/d/ns/1.jsonl")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

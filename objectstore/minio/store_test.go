package minio

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves just enough of the S3 API for bucket checks, uploads and deletes.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string]string
	requests []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	switch {
	case len(parts) == 1 || parts[1] == "":
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		var body []byte
		if strings.HasPrefix(r.Header.Get("x-amz-content-sha256"), "STREAMING-") {
			body = decodeChunked(r.Body)
		} else {
			body, _ = io.ReadAll(r.Body)
		}
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// decodeChunked strips aws-chunked framing: "<hex size>;chunk-signature=...\r\n<data>\r\n"
// repeated until a zero-size chunk.
func decodeChunked(r io.Reader) []byte {
	br := bufio.NewReader(r)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return out
		}
		size, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(size, 16, 64)
		if err != nil || n == 0 {
			return out
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return out
		}
		out = append(out, data...)
		if _, err := br.Discard(2); err != nil {
			return out
		}
	}
}

func TestDecodeChunked(t *testing.T) {
	framed := "5;chunk-signature=aa\r\nhello\r\n6;chunk-signature=bb\r\n world\r\n0;chunk-signature=cc\r\n\r\n"
	assert.Equal(t, "hello world", string(decodeChunked(strings.NewReader(framed))))
}

func TestStore_PutAndDelete(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := New(ctx, Config{Endpoint: srv.URL, AccessKey: "k", SecretKey: "s", Bucket: "docs"})
	require.NoError(t, err)
	assert.True(t, fake.buckets["docs"], "bucket created on first use")

	obj, err := store.Put(ctx, "acme/d1/a.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "acme/d1/a.txt", obj.Key)
	assert.Equal(t, "abc123", obj.ETag)
	assert.True(t, strings.HasSuffix(obj.URL, "/docs/acme/d1/a.txt"))
	assert.Equal(t, "hello", fake.objects["/docs/acme/d1/a.txt"])

	require.NoError(t, store.Delete(ctx, "acme/d1/a.txt"))
	assert.Empty(t, fake.objects)
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

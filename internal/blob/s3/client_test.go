package s3blob

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const testBucket = "fluxbot-archive"

// fakeS3 serves the handful of path-style S3 calls the reader and writer
// make: PutObject, GetObject, HeadObject and ListObjectsV2.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"+testBucket), "/")
	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: testBucket, Prefix: prefix, MaxKeys: 1000}
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				res.Contents = append(res.Contents, listContent{
					Key: k, Size: len(v), ETag: `"etag"`,
					LastModified: "2025-03-01T00:00:00.000Z",
				})
			}
		}
		sort.Slice(res.Contents, func(i, j int) bool { return res.Contents[i].Key < res.Contents[j].Key })
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)

	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprintf(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message><Key>%s</Key></Error>`, key)
			}
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         testBucket,
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return c, fake
}

func TestReaderGetAndList(t *testing.T) {
	ctx := context.Background()
	c, fake := newFakeClient(t)
	fake.objects["archive/positions/2025-02.jsonl"] = []byte("{\"id\":1}\n")
	fake.objects["archive/positions/2025-03.jsonl"] = []byte("{\"id\":2}\n{\"id\":3}\n")
	fake.objects["other/readme"] = []byte("x")

	r := NewReader(c)
	infos, err := r.List(ctx, "archive/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive/positions/2025-02.jsonl", infos[0].Path)
	assert.EqualValues(t, 9, infos[0].Size)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), infos[0].LastModified.UTC())

	body, err := r.Get(ctx, "archive/positions/2025-03.jsonl")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, body.Close())
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":2}\n{\"id\":3}\n", string(data))

	_, err = r.Get(ctx, "archive/positions/1999-01.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := r.Exists(ctx, "other/readme")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Exists(ctx, "other/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriterPutMultipartSmallBody(t *testing.T) {
	ctx := context.Background()
	c, fake := newFakeClient(t)

	// Below the minimum part size the upload manager sends one PutObject.
	payload := "{\"id\":7,\"status\":\"CLOSED\"}\n"
	require.NoError(t, NewWriter(c).PutMultipart(ctx, "archive/positions/2025-04.jsonl", strings.NewReader(payload), 1))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Contains(t, fake.objects, "archive/positions/2025-04.jsonl")
	assert.Contains(t, string(fake.objects["archive/positions/2025-04.jsonl"]), payload)
}

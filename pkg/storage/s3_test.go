package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts PUT requests and records bodies by path
type fakeS3 struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
	}
	body, _ := io.ReadAll(req.Body)
	f.mu.Lock()
	f.puts[req.URL.Path] = body
	f.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{"Etag": {"\"etag123\""}},
	}, nil
}

func newFakeStore(t *testing.T, cfg Config) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{puts: make(map[string][]byte)}
	cfg.AccessKey = "AKIA"
	cfg.SecretKey = "SECRET"
	cfg.HTTPClient = &http.Client{Transport: fake}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s, fake
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestS3Store_Put(t *testing.T) {
	s, fake := newFakeStore(t, Config{
		Bucket:        "uploads",
		Endpoint:      "https://mock.s3.local",
		PathStyle:     true,
		PublicBaseURL: "https://cdn.klarnow.com/",
	})

	obj, err := s.Put(context.Background(), "task-attachments/abc-logo.png", bytes.NewReader([]byte("hello")), 5, "image/png")
	require.NoError(t, err)

	assert.Equal(t, "task-attachments/abc-logo.png", obj.Key)
	assert.Equal(t, "https://cdn.klarnow.com/task-attachments/abc-logo.png", obj.URL)
	assert.Equal(t, int64(5), obj.Bytes)
	assert.Equal(t, "image/png", obj.ContentType)

	body, ok := fake.puts["/uploads/task-attachments/abc-logo.png"]
	require.True(t, ok)
	assert.Contains(t, string(body), "hello")
}

func TestS3Store_URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"aws virtual host", Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/f/a%20b.pdf"},
		{"path style endpoint", Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true}, "http://localhost:9000/b/f/a%20b.pdf"},
		{"virtual host endpoint", Config{Bucket: "b", Endpoint: "https://r2.example.com"}, "https://b.r2.example.com/f/a%20b.pdf"},
		{"public base", Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com"}, "https://cdn.example.com/f/a%20b.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newFakeStore(t, tt.cfg)
			assert.Equal(t, tt.want, s.URL("f/a b.pdf"))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore("http://files.local/")

	obj, err := m.Put(context.Background(), "x/y.txt", strings.NewReader("data"), 4, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://files.local/x/y.txt", obj.URL)
	assert.Equal(t, int64(4), obj.Bytes)

	data, ok := m.Get("x/y.txt")
	require.True(t, ok)
	assert.Equal(t, "data", string(data))
}

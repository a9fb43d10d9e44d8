package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
)

// fakeS3 is a path-style, in-memory S3 endpoint covering PUT, GET, HEAD and
// ListObjectsV2.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	full := bucket + "/" + key

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[full] = body
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			b, objKey, _ := strings.Cut(k, "/")
			if b == bucket && strings.HasPrefix(objKey, prefix) {
				keys = append(keys, objKey)
			}
		}
		sort.Strings(keys)
		var contents strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&contents, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[bucket+"/"+k]))
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
			bucket, prefix, len(keys), contents.String())

	case r.Method == http.MethodGet:
		body, ok := f.objects[full]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Write(body)

	case r.Method == http.MethodHead:
		body, ok := f.objects[full]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func (f *fakeS3) put(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
}

func newTestClient(t *testing.T, prefix string) (*S3Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewS3ClientWithConfig("test-bucket", prefix, &aws.Config{
		Region:           aws.String("eu-west-1"),
		Endpoint:         aws.String(server.URL),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("AKID", "SECRET", ""),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, fake
}

func TestNewS3Client(t *testing.T) {
	tests := []struct {
		name        string
		bucket      string
		prefix      string
		region      string
		expectError bool
	}{
		{
			name:   "valid configuration",
			bucket: "test-bucket",
			prefix: "test-prefix",
			region: "eu-west-1",
		},
		{
			name:        "empty bucket",
			bucket:      "",
			prefix:      "test-prefix",
			region:      "eu-west-1",
			expectError: true,
		},
		{
			name:   "empty prefix is valid",
			bucket: "test-bucket",
			region: "eu-west-1",
		},
		{
			name:   "default region",
			bucket: "test-bucket",
			prefix: "test-prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewS3Client(tt.bucket, tt.prefix, tt.region)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.GetBucket() != tt.bucket {
				t.Errorf("bucket = %v, want %v", client.GetBucket(), tt.bucket)
			}
			if client.GetPrefix() != tt.prefix {
				t.Errorf("prefix = %v, want %v", client.GetPrefix(), tt.prefix)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{"with prefix", "reports", "assessments/report.json", "reports/assessments/report.json"},
		{"empty prefix", "", "assessments/report.json", "assessments/report.json"},
		{"key with leading slash", "reports", "/assessments/report.json", "reports/assessments/report.json"},
		{"nested prefix", "prod/reports", "report.json", "prod/reports/report.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &S3Client{bucket: "test-bucket", prefix: tt.prefix}
			if got := client.buildKey(tt.key); got != tt.want {
				t.Errorf("buildKey() = %v, want %v", got, tt.want)
			}
			if got := client.relativeKey(client.buildKey(tt.key)); got != strings.TrimPrefix(tt.key, "/") {
				t.Errorf("relativeKey() = %v, want %v", got, strings.TrimPrefix(tt.key, "/"))
			}
		})
	}
}

func TestGetS3URI(t *testing.T) {
	client := &S3Client{bucket: "my-bucket", prefix: "reports"}

	if got := client.GetS3URI("assessments/run-1/report.json"); got != "s3://my-bucket/reports/assessments/run-1/report.json" {
		t.Errorf("GetS3URI() = %v", got)
	}
}

func TestUploadAndDownloadContent(t *testing.T) {
	client, fake := newTestClient(t, "reports")
	ctx := context.Background()

	if err := client.UploadContent(ctx, []byte(`{"ok":true}`), "a/b.json"); err != nil {
		t.Fatalf("UploadContent() error = %v", err)
	}
	if got, ok := fake.get("test-bucket/reports/a/b.json"); !ok || string(got) != `{"ok":true}` {
		t.Fatalf("stored object = %q, %v", got, ok)
	}

	data, err := client.DownloadContent(ctx, "a/b.json")
	if err != nil {
		t.Fatalf("DownloadContent() error = %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("DownloadContent() = %q", data)
	}

	if _, err := client.DownloadContent(ctx, "missing.json"); err == nil {
		t.Errorf("expected error for missing object")
	}
}

func TestFileExists(t *testing.T) {
	client, fake := newTestClient(t, "")
	fake.put("test-bucket/present.json", []byte("{}"))

	tests := []struct {
		key  string
		want bool
	}{
		{"present.json", true},
		{"absent.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := client.FileExists(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("FileExists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FileExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUploadDirectoryAndList(t *testing.T) {
	client, _ := newTestClient(t, "reports")
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"one.json": "[]", "nested/two.ndjson": "{}\n"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	uploaded, err := client.UploadDirectory(ctx, dir, "batches")
	if err != nil {
		t.Fatalf("UploadDirectory() error = %v", err)
	}
	sort.Strings(uploaded)
	want := []string{"batches/nested/two.ndjson", "batches/one.json"}
	if fmt.Sprint(uploaded) != fmt.Sprint(want) {
		t.Errorf("uploaded = %v, want %v", uploaded, want)
	}

	files, err := client.ListFiles(ctx, "batches")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	wantKeys := []string{"reports/batches/nested/two.ndjson", "reports/batches/one.json"}
	if fmt.Sprint(files) != fmt.Sprint(wantKeys) {
		t.Errorf("ListFiles() = %v, want %v", files, wantKeys)
	}
}

func TestDownloadDirectory(t *testing.T) {
	client, fake := newTestClient(t, "reports")
	fake.put("test-bucket/reports/batches/one.json", []byte(`[{"title":"a"}]`))
	fake.put("test-bucket/reports/batches/nested/two.ndjson", []byte(`{"title":"b"}`))
	fake.put("test-bucket/reports/other/three.json", []byte(`[]`))

	dir := t.TempDir()
	files, err := client.DownloadDirectory(context.Background(), "batches", dir)
	if err != nil {
		t.Fatalf("DownloadDirectory() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("downloaded %d files, want 2: %v", len(files), files)
	}

	got, err := os.ReadFile(filepath.Join(dir, "nested", "two.ndjson"))
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(got) != `{"title":"b"}` {
		t.Errorf("content = %q", got)
	}

	if _, err := client.DownloadDirectory(context.Background(), "empty", t.TempDir()); err == nil {
		t.Errorf("expected error for empty prefix")
	}
}

func TestContainsHelper(t *testing.T) {
	tests := []struct {
		name  string
		slice []string
		item  string
		want  bool
	}{
		{"item exists", []string{"html", "json", "text"}, "json", true},
		{"item does not exist", []string{"html", "json"}, "xml", false},
		{"empty slice", []string{}, "json", false},
		{"case insensitive match", []string{"HTML", "JSON"}, "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contains(tt.slice, tt.item); got != tt.want {
				t.Errorf("contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
	errNotFound  = &apiError{code: "NotFound", msg: "not found"}
)

// mockS3 is an in-memory S3 backend. pageSize bounds ListObjectsV2 pages so
// pagination is exercised.
type mockS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int

	getErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), pageSize: 2}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src, err := url.PathUnescape(*in.CopySource)
	if err != nil {
		return nil, err
	}
	_, key, _ := strings.Cut(src, "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errNoSuchKey
	}
	m.objects[*in.Key] = bytes.Clone(data)
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// Build the flat, sorted result stream of keys and common prefixes.
	seen := map[string]bool{}
	var items []string
	for k := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, cp)
				}
				continue
			}
		}
		items = append(items, k)
	}
	sort.Strings(items)

	start := 0
	if in.ContinuationToken != nil {
		for i, it := range items {
			if it == *in.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := min(start+m.pageSize, len(items))
	out := &s3.ListObjectsV2Output{}
	for _, it := range items[start:end] {
		if seen[it] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it)})
		} else {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(it)})
		}
	}
	if end < len(items) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(items[end])
	}
	return out, nil
}

func TestS3WriteAndRead(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "data")
	ctx := context.Background()

	if err := WriteFile(ctx, store, "conv/metadata.json", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects["data/conv/metadata.json"]; !ok {
		t.Fatalf("object not stored under prefix: %v", mock.objects)
	}
	got, err := ReadFile(ctx, store, "conv/metadata.json")
	if err != nil || string(got) != `{}` {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
}

func TestS3ReadErrors(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "")
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing"); !IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}

	mock.getErr = errors.New("network timeout")
	_, err := store.Read(ctx, "x")
	if err == nil || IsNotExist(err) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestS3Exists(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "")
	ctx := context.Background()

	ok, err := store.Exists(ctx, "present")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	mock.objects["present"] = []byte("data")
	ok, err = store.Exists(ctx, "present")
	if err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}
}

func TestS3ListPaginatesAndGroupsDirs(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "root")
	for _, k := range []string{
		"root/c/utterances/utterance_000.wav",
		"root/c/utterances/utterance_001.wav",
		"root/c/speakers/Alice/utterance_000.wav",
		"root/c/speakers/Unknown_B/utterance_001.wav",
		"root/c/metadata.json",
		"root/c/transcript.txt",
	} {
		mock.objects[k] = []byte("x")
	}

	got, err := store.List(context.Background(), "c")
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Name: "metadata.json"},
		{Name: "speakers", Dir: true},
		{Name: "transcript.txt"},
		{Name: "utterances", Dir: true},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}

	missing, err := store.List(context.Background(), "nope")
	if err != nil || len(missing) != 0 {
		t.Fatalf("List(missing) = %v, %v", missing, err)
	}
}

func TestS3Rename(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "")
	ctx := context.Background()
	mock.objects["speakers/Unknown A/u 1.wav"] = []byte("pcm")

	if err := store.Rename(ctx, "speakers/Unknown A/u 1.wav", "speakers/Alice/u 1.wav"); err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects["speakers/Unknown A/u 1.wav"]; ok {
		t.Fatal("source still present")
	}
	if string(mock.objects["speakers/Alice/u 1.wav"]) != "pcm" {
		t.Fatalf("objects = %v", mock.objects)
	}
	if err := store.Rename(ctx, "missing", "x"); !IsNotExist(err) {
		t.Fatalf("rename missing: %v", err)
	}
}

func TestS3MoveDir(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "")
	ctx := context.Background()
	for _, k := range []string{"s/Old/a.wav", "s/Old/b.wav", "s/Old/c.wav"} {
		mock.objects[k] = []byte(k)
	}
	if err := MoveDir(ctx, store, "s/Old", "s/New"); err != nil {
		t.Fatal(err)
	}
	names, err := Files(ctx, store, "s/New")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Fatalf("moved files = %v", names)
	}
	if empty, _ := IsEmptyDir(ctx, store, "s/Old"); !empty {
		t.Fatal("source prefix not empty")
	}
}

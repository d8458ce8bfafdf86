package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/ballotd/apiserver/config"
	"github.com/ballotd/apiserver/types"
)

type memoryBucket struct {
	objects map[string][]byte
	meta    map[string]ObjectMeta
	closed  bool
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}, meta: map[string]ObjectMeta{}}
}

func (m *memoryBucket) EnsureBucket(ctx context.Context) error { return nil }

func (m *memoryBucket) Put(ctx context.Context, key string, r io.Reader, size int64, meta ObjectMeta) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.objects[key] = buf.Bytes()
	m.meta[key] = meta
	return nil
}

func (m *memoryBucket) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryBucket) Bucket() string { return "memory" }

func (m *memoryBucket) Close() error {
	m.closed = true
	return nil
}

func TestResultsArchive(t *testing.T) {
	bucket := newMemoryBucket()
	archive := NewResultsArchive(bucket)
	archive.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	candidate := 4
	results := []types.ElectionResult{
		{CandidateID: &candidate, CandidateName: "Alice Smith", Count: 2},
		{CandidateName: types.AbstainLabel, Count: 1},
	}
	if err := archive.Store(ctx, 12, results); err != nil {
		t.Fatalf("store: %v", err)
	}

	key := ResultsKey(12)
	if key != "elections/12/results.json" {
		t.Fatalf("unexpected key %q", key)
	}
	meta := bucket.meta[key]
	if meta.ContentType != "application/json" || meta.CacheControl != "no-cache" {
		t.Fatalf("unexpected object meta %+v", meta)
	}
	if meta.Metadata["election-id"] != "12" || meta.Metadata["ballots"] != "3" {
		t.Fatalf("unexpected user metadata %v", meta.Metadata)
	}

	var doc struct {
		ElectionID int `json:"electionId"`
		Results    []struct {
			CandidateID   *int   `json:"candidateId"`
			CandidateName string `json:"candidateName"`
			Count         int64  `json:"count"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bucket.objects[key], &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ElectionID != 12 || len(doc.Results) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Results[1].CandidateID != nil || doc.Results[1].CandidateName != "Abstain" {
		t.Fatalf("unexpected abstain row %+v", doc.Results[1])
	}

	if err := archive.Remove(ctx, 12); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := bucket.objects[key]; ok {
		t.Fatalf("expected object to be removed")
	}

	if err := archive.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bucket.closed {
		t.Fatalf("expected storage client to be closed")
	}
}

func TestOpen(t *testing.T) {
	backend, err := Open(context.Background(), config.ArchiveConfig{})
	if err != nil || backend != nil {
		t.Fatalf("expected disabled archive, got %v %v", backend, err)
	}
	if _, err := Open(context.Background(), config.ArchiveConfig{Backend: "s3"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := Open(context.Background(), config.ArchiveConfig{Backend: BackendMinio}); err == nil {
		t.Fatalf("expected error for missing minio endpoint")
	}
}

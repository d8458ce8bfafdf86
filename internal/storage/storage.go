package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ballotd/apiserver/config"
	"github.com/ballotd/apiserver/types"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, meta ObjectMeta) error
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// ObjectMeta is stored alongside an object. Metadata keys become
// backend-specific user metadata.
type ObjectMeta struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

const (
	BackendNone  = ""
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

// Open connects the object storage selected by cfg.Backend and makes sure
// its bucket exists. It returns a nil ObjectStorage when archiving is
// disabled.
func Open(ctx context.Context, cfg config.ArchiveConfig) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case BackendNone, "none":
		return nil, nil
	case BackendMinio:
		var client *MinioClient
		client, err = NewMinioClient(cfg.Minio)
		backend = client
	case BackendGCS:
		var client *GCSClient
		client, err = NewGCSClient(ctx, cfg.GCS)
		backend = client
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}

// ResultsArchive writes the final tally of completed elections as JSON
// documents.
type ResultsArchive struct {
	backend ObjectStorage
	now     func() time.Time
}

func NewResultsArchive(backend ObjectStorage) *ResultsArchive {
	return &ResultsArchive{backend: backend, now: time.Now}
}

type resultsDocument struct {
	ElectionID int                    `json:"electionId"`
	ArchivedAt time.Time              `json:"archivedAt"`
	Results    []types.ElectionResult `json:"results"`
}

// ResultsKey is the object key holding the results of an election.
func ResultsKey(electionID int) string {
	return fmt.Sprintf("elections/%d/results.json", electionID)
}

func (a *ResultsArchive) Store(ctx context.Context, electionID int, results []types.ElectionResult) error {
	if results == nil {
		results = []types.ElectionResult{}
	}
	data, err := json.Marshal(resultsDocument{
		ElectionID: electionID,
		ArchivedAt: a.now().UTC(),
		Results:    results,
	})
	if err != nil {
		return err
	}
	// Results of a completed election never change, but a deleted and
	// recreated id may reuse the key.
	meta := ObjectMeta{
		ContentType:  "application/json",
		CacheControl: "no-cache",
		Metadata: map[string]string{
			"election-id": strconv.Itoa(electionID),
			"ballots":     strconv.FormatInt(totalBallots(results), 10),
		},
	}
	return a.backend.Put(ctx, ResultsKey(electionID), bytes.NewReader(data), int64(len(data)), meta)
}

func totalBallots(results []types.ElectionResult) int64 {
	var total int64
	for _, result := range results {
		total += result.Count
	}
	return total
}

func (a *ResultsArchive) Remove(ctx context.Context, electionID int) error {
	return a.backend.Delete(ctx, ResultsKey(electionID))
}

// Close releases the underlying storage client.
func (a *ResultsArchive) Close() error {
	return a.backend.Close()
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/store/memory"
)

type memBlobs struct {
	objects   map[string][]byte
	types     map[string]string
	multipart map[string]int64
	putErr    error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}, multipart: map[string]int64{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	m.multipart[path] = partSize
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func seedClosed(t *testing.T, repo *memory.PositionStore, updated time.Time) {
	t.Helper()
	_, err := repo.Save(context.Background(), domain.PositionSnapshot{
		Pair:        domain.NewCurrencyPair("ETH", "BTC"),
		Amount:      decimal.RequireFromString("0.5"),
		Status:      domain.PositionClosed,
		OpenOrderID: "ORDER1",
		CreatedAt:   updated,
		UpdatedAt:   updated,
	})
	require.NoError(t, err)
}

func TestArchivePath(t *testing.T) {
	ts := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/positions/2025-01.jsonl", archivePath("positions", ts, 0))
	assert.Equal(t, "archive/positions/2025-01.2.jsonl", archivePath("positions", ts, 2))
}

func TestMarshalJSONL(t *testing.T) {
	buf, err := marshalJSONL([]map[string]int{{"a": 1}, {"b": 2}})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(buf))
}

func TestArchivePositionsExportsAndMarks(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	blobs := newMemBlobs()
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	seedClosed(t, repo, cutoff.Add(-time.Hour))
	seedClosed(t, repo, cutoff.Add(time.Hour))

	a := NewArchiver(blobs, blobs, repo, audit, slog.Default())
	n, err := a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	body, ok := blobs.objects["archive/positions/2025-03.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", blobs.types["archive/positions/2025-03.jsonl"])

	var snap domain.PositionSnapshot
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &snap))
	assert.EqualValues(t, 1, snap.ID)
	assert.Equal(t, "ETH/BTC", snap.Pair.String())

	again, err := a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, again)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
}

func TestArchivePositionsSwitchesToMultipart(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name      string
		threshold int64
		multipart bool
	}{
		{"disabled", 0, false},
		{"below threshold", 1 << 20, false},
		{"at or above threshold", 64, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			repo := memory.NewPositionStore()
			blobs := newMemBlobs()
			seedClosed(t, repo, cutoff.Add(-time.Hour))
			seedClosed(t, repo, cutoff.Add(-2*time.Hour))

			a := NewArchiver(blobs, blobs, repo, nil, slog.Default())
			a.SetMultipartThreshold(tc.threshold)
			n, err := a.ArchivePositions(ctx, cutoff)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			const path = "archive/positions/2025-03.jsonl"
			require.Contains(t, blobs.objects, path)
			assert.Len(t, bytes.Split(bytes.TrimSpace(blobs.objects[path]), []byte("\n")), 2)
			part, used := blobs.multipart[path]
			assert.Equal(t, tc.multipart, used)
			if tc.multipart {
				assert.Equal(t, tc.threshold, part)
			} else {
				assert.Equal(t, "application/x-ndjson", blobs.types[path])
			}
		})
	}
}

func TestArchivePositionsPicksFreeKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPositionStore()
	blobs := newMemBlobs()
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	blobs.objects["archive/positions/2025-03.jsonl"] = []byte("{}\n")

	seedClosed(t, repo, cutoff.Add(-time.Hour))

	a := NewArchiver(blobs, blobs, repo, nil, slog.Default())
	_, err := a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Contains(t, blobs.objects, "archive/positions/2025-03.1.jsonl")
	assert.Equal(t, "{}\n", string(blobs.objects["archive/positions/2025-03.jsonl"]))
}

func TestArchivePositionsUploadFailureLeavesRowsUnarchived(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPositionStore()
	blobs := newMemBlobs()
	blobs.putErr = errors.New("bucket gone")
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedClosed(t, repo, cutoff.Add(-time.Hour))

	a := NewArchiver(blobs, nil, repo, nil, slog.Default())
	_, err := a.ArchivePositions(ctx, cutoff)
	require.Error(t, err)

	pending, err := repo.ListClosedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

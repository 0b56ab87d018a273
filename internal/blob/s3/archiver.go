package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// maxArchiveSuffix bounds the search for a free object key within a month.
const maxArchiveSuffix = 1000

// PositionArchiver implements domain.Archiver. Closed positions older than
// the cut-off are written as one JSONL object and then flagged archived in
// the repository. Rows are never deleted from the primary store.
type PositionArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	repo   domain.PositionRepository
	audit  domain.AuditStore
	logger *slog.Logger

	// multipartThreshold switches uploads of at least this many bytes to
	// the multipart uploader; 0 keeps single PutObject requests.
	multipartThreshold int64
}

// NewArchiver creates a PositionArchiver. reader and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	repo domain.PositionRepository,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionArchiver {
	return &PositionArchiver{
		writer: writer,
		reader: reader,
		repo:   repo,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*PositionArchiver)(nil)

// SetMultipartThreshold sets the archive size from which uploads go through
// the multipart uploader, with parts of that size.
func (a *PositionArchiver) SetMultipartThreshold(bytes int64) {
	a.multipartThreshold = bytes
}

// ArchivePositions exports closed positions last updated before the cut-off
// and returns how many were archived.
func (a *PositionArchiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.repo.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path, err := a.freePath(ctx, "positions", before)
	if err != nil {
		return 0, err
	}
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	ids := make([]int64, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	if err := a.repo.MarkArchived(ctx, ids); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions mark: %w", err)
	}

	count := int64(len(snaps))
	a.logger.InfoContext(ctx, "archiver: positions exported",
		slog.String("path", path),
		slog.Int64("count", count),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}
	return count, nil
}

func (a *PositionArchiver) upload(ctx context.Context, path string, buf []byte) error {
	if a.multipartThreshold > 0 && int64(len(buf)) >= a.multipartThreshold {
		a.logger.DebugContext(ctx, "archiver: multipart upload",
			slog.String("path", path),
			slog.Int("bytes", len(buf)),
		)
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// freePath returns the month key for before, adding a numeric suffix when
// an earlier run already wrote that key.
func (a *PositionArchiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before, 0)
	if a.reader == nil {
		return path, nil
	}
	for n := 0; n < maxArchiveSuffix; n++ {
		path = archivePath(kind, before, n)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive path check: %w", err)
		}
		if !exists {
			return path, nil
		}
	}
	return "", fmt.Errorf("s3blob: no free archive key for %s %s", kind, before.Format("2006-01"))
}

// archivePath builds the object key, partitioned by the cut-off's month:
//
//	archive/positions/2025-01.jsonl
//	archive/positions/2025-01.1.jsonl
func archivePath(kind string, before time.Time, n int) string {
	if n == 0 {
		return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
	}
	return fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, before.UTC().Format("2006-01"), n)
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

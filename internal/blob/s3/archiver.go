package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Pruner deletes records that have been archived. Stores that cannot
// delete are archived without pruning.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. It serializes old records to JSONL
// under archive/<kind>/YYYY-MM.jsonl, never overwriting an earlier object
// for the same month, and prunes the source store only after the upload
// succeeded.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	audit    domain.AuditStore
	attempts domain.AttemptStore
	sink     domain.AuditSink
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. sink receives one record per archive
// run and may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, attempts domain.AttemptStore, sink domain.AuditSink, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		reader:   reader,
		audit:    audit,
		attempts: attempts,
		sink:     sink,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAudit moves audit records created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, recs, a.audit)
}

// ArchiveAttempts moves attempt results started before the cutoff.
func (a *Archiver) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.attempts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}
	return archive(ctx, a, "attempts", before, results, a.attempts)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T, source any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if err := upload(ctx, a.writer, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	count := int64(len(records))

	if p, ok := source.(Pruner); ok {
		if _, err := p.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: archive %s prune: %w", kind, err)
		}
	}

	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
	)
	if a.sink != nil {
		if err := a.sink.Record(ctx, domain.AuditRecord{
			Event:   "archive." + kind,
			Outcome: "archived",
			Detail: map[string]any{
				"path":   path,
				"count":  count,
				"before": before.Format(time.RFC3339),
			},
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit: %w", kind, err)
		}
	}
	return count, nil
}

// freePath returns the month's archive path, or the first numbered
// variant that is not taken yet.
func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	base := archivePath(kind, before)
	if a.reader == nil {
		return base, nil
	}
	path := base
	for n := 1; ; n++ {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if !ok {
			return path, nil
		}
		path = fmt.Sprintf("archive/%s/%s-%d.jsonl", kind, before.UTC().Format("2006-01"), n)
	}
}

// archivePath is archive/<kind>/YYYY-MM.jsonl for the cutoff's month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON value per line.
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

var _ domain.Archiver = (*Archiver)(nil)

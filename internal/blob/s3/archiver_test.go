package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

// memBlob is an in-memory BlobWriter and BlobReader.
type memBlob struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objs: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[path]
	return ok, nil
}

func lines(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		n++
	}
	return n
}

func TestArchiver_ArchiveAudit(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := memory.NewAuditStore()
	sink := memory.NewAuditStore()

	base := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = audit.Append(ctx, domain.AuditRecord{Event: "attempt", Outcome: "succeeded", CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour)})
	}

	rec := recorderFunc(func(ctx context.Context, r domain.AuditRecord) error { return sink.Append(ctx, r) })
	a := NewArchiver(blob, blob, audit, memory.NewAttemptStore(), rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cutoff := base.Add(48 * time.Hour)
	n, err := a.ArchiveAudit(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}
	obj, ok := blob.objs["archive/audit/2026-02.jsonl"]
	if !ok || lines(obj) != 2 {
		t.Fatalf("objects = %v", blob.objs)
	}
	left, _ := audit.List(ctx, domain.ListOpts{})
	if len(left) != 1 {
		t.Fatalf("source not pruned: %d left", len(left))
	}
	logged, _ := sink.List(ctx, domain.ListOpts{})
	if len(logged) != 1 || logged[0].Event != "archive.audit" {
		t.Fatalf("archive run not audited: %+v", logged)
	}

	// A second run in the same month must not overwrite the first object.
	_ = audit.Append(ctx, domain.AuditRecord{Event: "attempt", Outcome: "rejected", CreatedAt: base})
	if _, err := a.ArchiveAudit(ctx, cutoff); err != nil {
		t.Fatal(err)
	}
	if _, ok := blob.objs["archive/audit/2026-02-1.jsonl"]; !ok {
		t.Fatalf("second archive path missing: %v", blob.objs)
	}
	if lines(blob.objs["archive/audit/2026-02.jsonl"]) != 2 {
		t.Fatal("first archive was overwritten")
	}
}

func TestArchiver_NothingToArchive(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob, memory.NewAuditStore(), memory.NewAttemptStore(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveAttempts(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(blob.objs) != 0 {
		t.Fatalf("empty archive uploaded: %v", blob.objs)
	}
}

type recorderFunc func(context.Context, domain.AuditRecord) error

func (f recorderFunc) Record(ctx context.Context, r domain.AuditRecord) error { return f(ctx, r) }

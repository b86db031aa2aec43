package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// multipartThreshold is the archive size above which uploads go through the
// multipart manager.
const multipartThreshold = 16 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// AuthorizationSource lists history eligible for archival.
type AuthorizationSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuthorizationRecord, error)
}

// Archiver implements domain.Archiver. It exports old authorization
// records as JSONL and records each export in the audit log. Records are
// not deleted from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	source AuthorizationSource
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, source AuthorizationSource, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, source: source, audit: audit}
}

// ArchiveAuthorizations uploads every record created before the cutoff to
// archive/authorizations/YYYY-MM.jsonl and returns how many were written.
// If that month's object already exists, a run-stamped sibling is written
// instead.
func (a *Archiver) ArchiveAuthorizations(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive authorizations query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive authorizations marshal: %w", err)
	}

	path, err := a.freePath(ctx, "authorizations", before)
	if err != nil {
		return 0, err
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive authorizations upload: %w", err)
	}

	count := int64(len(recs))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.authorizations", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive authorizations audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, before.UTC().Format("2006-01"), time.Now().Unix()), nil
}

// archivePath partitions archives by the cutoff's year and month, e.g.
// archive/authorizations/2026-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
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

var _ domain.Archiver = (*Archiver)(nil)

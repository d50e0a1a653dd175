package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
)

// ArchiveStore is the blob surface the archiver needs: upload plus an
// existence probe for idempotent monthly runs.
type ArchiveStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver serializes closed trades and audit entries to monthly JSONL
// objects. Deleting the archived rows from the primary store is a separate,
// explicit step taken after the upload has been verified.
type Archiver struct {
	store  ArchiveStore
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

func NewArchiver(store ArchiveStore, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		trades: trades,
		audit:  audit,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveTrades uploads every trade closed strictly before the cutoff to
// archive/trades/YYYY-MM.jsonl and records the run in the audit log. Returns
// the number of archived trades; zero when there was nothing to do or the
// month was already uploaded.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	key := archiveKey("trades", before)
	done, err := a.store.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3blob: probing %s: %w", key, err)
	}
	if done {
		a.logger.InfoContext(ctx, "archive already uploaded, skipping", "key", key)
		return 0, nil
	}

	trades, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: listing closed trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	if err := upload(ctx, a.store, key, trades); err != nil {
		return 0, err
	}

	count := int64(len(trades))
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"key":    key,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: recording trade archive: %w", err)
	}
	return count, nil
}

// ArchiveAudit uploads audit entries logged strictly before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	key := archiveKey("audit", before)
	done, err := a.store.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3blob: probing %s: %w", key, err)
	}
	if done {
		a.logger.InfoContext(ctx, "archive already uploaded, skipping", "key", key)
		return 0, nil
	}

	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: listing audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := upload(ctx, a.store, key, entries); err != nil {
		return 0, err
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"key":    key,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: recording audit archive: %w", err)
	}
	return count, nil
}

func upload[T any](ctx context.Context, store ArchiveStore, key string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: encoding %s: %w", key, err)
	}
	if err := store.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: uploading %s: %w", key, err)
	}
	return nil
}

// archiveKey partitions archives by the year-month of the cutoff:
//
//	archive/trades/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archiveKey(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// object per line.
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

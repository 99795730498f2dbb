package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoretti/tokenvest/internal/domain"
)

const archivePageSize = 1000

// AuditArchiver exports audit-log pages to object storage as JSON. Archives
// are additive snapshots; the database log remains the source of truth.
type AuditArchiver struct {
	store  domain.AuditStore
	writer *Writer
	prefix string
	logger *slog.Logger
}

// NewAuditArchiver creates an archiver that writes under the given key prefix.
func NewAuditArchiver(store domain.AuditStore, writer *Writer, prefix string, logger *slog.Logger) *AuditArchiver {
	if prefix == "" {
		prefix = "audit"
	}
	return &AuditArchiver{
		store:  store,
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "audit_archiver")),
	}
}

type archivePage struct {
	ArchivedAt time.Time           `json:"archivedAt"`
	Since      *time.Time          `json:"since,omitempty"`
	Until      *time.Time          `json:"until,omitempty"`
	Page       int                 `json:"page"`
	Entries    []domain.AuditEntry `json:"entries"`
}

// Archive exports all audit entries in [since, until) as paged JSON objects
// and returns the number of entries written.
func (a *AuditArchiver) Archive(ctx context.Context, since, until *time.Time) (int, error) {
	stamp := time.Now().UTC()
	total := 0
	page := 0

	for {
		entries, err := a.store.List(ctx, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: page * archivePageSize,
			Since:  since,
			Until:  until,
		})
		if err != nil {
			return total, fmt.Errorf("archive audit log: list page %d: %w", page, err)
		}
		if len(entries) == 0 {
			break
		}

		payload, err := json.Marshal(archivePage{
			ArchivedAt: stamp,
			Since:      since,
			Until:      until,
			Page:       page,
			Entries:    entries,
		})
		if err != nil {
			return total, fmt.Errorf("archive audit log: marshal page %d: %w", page, err)
		}

		key := fmt.Sprintf("%s/%s/page-%05d.json", a.prefix, stamp.Format("2006-01-02T15-04-05Z"), page)
		if err := a.writer.Put(ctx, key, payload, "application/json"); err != nil {
			return total, fmt.Errorf("archive audit log: %w", err)
		}

		a.logger.InfoContext(ctx, "archived audit page",
			slog.String("key", key),
			slog.Int("entries", len(entries)),
		)
		total += len(entries)
		page++

		if len(entries) < archivePageSize {
			break
		}
	}

	return total, nil
}

// Package sweeper enforces the blob retention window on the upload server.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/varchive/dvm/internal/blossom"
)

// BlobStore is the slice of the blob server the sweeper needs.
type BlobStore interface {
	List(ctx context.Context, pubkey string) ([]blossom.BlobDescriptor, error)
	Delete(ctx context.Context, hash string) error
}

// Sweeper deletes the agent's blobs once they outlive the retention window.
// Archived videos are a paid hand-off, not permanent hosting.
type Sweeper struct {
	store     BlobStore
	pubkey    string
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// New creates a sweeper over the agent's blobs.
func New(store BlobStore, pubkey string, retention time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		pubkey:    pubkey,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep deletes every blob older than the retention window. A listing
// failure aborts the cycle; individual delete failures are logged and the
// blob is retried next cycle.
func (s *Sweeper) Sweep(ctx context.Context) error {
	blobs, err := s.store.List(ctx, s.pubkey)
	if err != nil {
		return fmt.Errorf("failed to list blobs: %w", err)
	}

	cutoff := s.now().Add(-s.retention)

	var totalSize int64
	var deleted int
	for _, blob := range blobs {
		totalSize += blob.Size
		if !blob.UploadedAt().Before(cutoff) {
			continue
		}

		if err := s.store.Delete(ctx, blob.SHA256); err != nil {
			s.logger.Warn("Failed to delete expired blob",
				slog.String("sha256", blob.SHA256),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
		s.logger.Info("Deleted expired blob",
			slog.String("sha256", blob.SHA256),
			slog.Int64("size", blob.Size),
			slog.Time("uploaded_at", blob.UploadedAt()),
		)
	}

	s.logger.Info("Sweep complete",
		slog.Int("blobs", len(blobs)),
		slog.Int("deleted", deleted),
		slog.Int64("total_size", totalSize),
	)
	return nil
}

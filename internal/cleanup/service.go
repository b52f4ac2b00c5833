// Package cleanup enforces retention on the console archive: expired
// messages are exported to object storage, deleted, and announced on NATS.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
	"github.com/birbparty/pylonkit/internal/storage"
	"github.com/birbparty/pylonkit/internal/telemetry"
)

// Notifier publishes retention notices
type Notifier interface {
	PublishNotice(subject string, data []byte, headers map[string]string) error
}

// CleanupService periodically removes console messages older than the
// retention period
type CleanupService struct {
	archive  database.ConsoleArchive
	objects  storage.ObjectStore
	notifier Notifier
	config   CleanupConfig
	log      *logrus.Entry
	now      func() time.Time
}

// CleanupConfig contains configuration for the cleanup service
type CleanupConfig struct {
	Retention          time.Duration
	CleanupInterval    time.Duration
	BatchLimit         int
	DryRun             bool
	ExportBeforeDelete bool
	Subject            string
}

// NewCleanupService creates a new cleanup service. objects and notifier may
// be nil; export is then skipped.
func NewCleanupService(
	archive database.ConsoleArchive,
	objects storage.ObjectStore,
	notifier Notifier,
	config CleanupConfig,
) *CleanupService {
	if config.Retention == 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 15 * time.Minute
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 5000
	}
	if config.Subject == "" {
		config.Subject = queue.SubjectRetention
	}
	if objects == nil {
		config.ExportBeforeDelete = false
	}

	return &CleanupService{
		archive:  archive,
		objects:  objects,
		notifier: notifier,
		config:   config,
		log:      telemetry.Component("retention"),
		now:      time.Now,
	}
}

// Start runs a sweep immediately and then on every interval until ctx is done
func (c *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	c.log.WithFields(logrus.Fields{
		"dry_run":   c.config.DryRun,
		"interval":  c.config.CleanupInterval.String(),
		"retention": c.config.Retention.String(),
	}).Info("retention sweeper started")

	c.sweepAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			c.sweepAndLog(ctx)
		case <-ctx.Done():
			c.log.Info("retention sweeper stopped")
			return
		}
	}
}

func (c *CleanupService) sweepAndLog(ctx context.Context) {
	notice, err := c.Sweep(ctx)
	if err != nil {
		c.log.WithError(err).Error("retention sweep failed")
		return
	}
	if notice.Deleted > 0 || notice.Exported > 0 {
		c.log.WithFields(logrus.Fields{
			"deleted":  notice.Deleted,
			"exported": notice.Exported,
			"cutoff":   notice.Cutoff.Format(time.RFC3339),
		}).Info("retention sweep completed")
	}
}

// Sweep exports and deletes one retention window. In dry-run mode only
// the first batch is examined and nothing is written or deleted.
func (c *CleanupService) Sweep(ctx context.Context) (*queue.RetentionNotice, error) {
	cutoff := c.now().Add(-c.config.Retention).UTC()
	notice := &queue.RetentionNotice{Cutoff: cutoff, DryRun: c.config.DryRun}

	for batchNo := 0; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			return notice, err
		}

		messages, err := c.archive.Oldest(ctx, cutoff, c.config.BatchLimit)
		if err != nil {
			return notice, fmt.Errorf("failed to list expired messages: %w", err)
		}
		if len(messages) == 0 {
			break
		}

		if c.config.DryRun {
			notice.Exported = len(messages)
			c.log.WithField("messages", len(messages)).Info("DRY RUN: would have removed expired console messages")
			break
		}

		if c.config.ExportBeforeDelete {
			path, err := c.export(ctx, cutoff, batchNo, messages)
			if err != nil {
				return notice, fmt.Errorf("failed to export: %w", err)
			}
			notice.Exported += len(messages)
			notice.ArchivePath = path
		}

		maxID := messages[len(messages)-1].ID
		deleted, err := c.archive.DeleteUpTo(ctx, cutoff, maxID)
		if err != nil {
			return notice, fmt.Errorf("failed to delete: %w", err)
		}
		notice.Deleted += deleted

		if len(messages) < c.config.BatchLimit {
			break
		}
	}

	notice.CompletedAt = c.now().UTC()
	if notice.Deleted > 0 || (notice.DryRun && notice.Exported > 0) {
		if err := c.sendNotification(notice); err != nil {
			c.log.WithError(err).Warn("failed to send retention notification")
		}
	}
	return notice, nil
}

// export uploads messages as one JSONL object
func (c *CleanupService) export(ctx context.Context, cutoff time.Time, batchNo int, messages []database.ConsoleMessage) (string, error) {
	data, err := storage.EncodeLines(messages)
	if err != nil {
		return "", err
	}

	key := storage.ArchiveKey(cutoff)
	if batchNo > 0 {
		key = fmt.Sprintf("%s-%d.jsonl", strings.TrimSuffix(key, ".jsonl"), batchNo)
	}

	err = c.objects.Put(ctx, key, data, map[string]string{
		"cutoff":        cutoff.Format(time.RFC3339),
		"message-count": strconv.Itoa(len(messages)),
		"first-id":      strconv.FormatInt(messages[0].ID, 10),
		"last-id":       strconv.FormatInt(messages[len(messages)-1].ID, 10),
	})
	if err != nil {
		return "", err
	}

	c.log.WithFields(logrus.Fields{
		"messages": len(messages),
		"path":     key,
	}).Debug("exported expired console messages")
	return key, nil
}

// sendNotification publishes a retention notice on core NATS
func (c *CleanupService) sendNotification(notice *queue.RetentionNotice) error {
	if c.notifier == nil {
		return nil
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return c.notifier.PublishNotice(c.config.Subject, data, map[string]string{
		"cutoff":  notice.Cutoff.Format(time.RFC3339),
		"deleted": strconv.Itoa(notice.Deleted),
	})
}

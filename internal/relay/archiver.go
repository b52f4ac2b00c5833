package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
	"github.com/birbparty/pylonkit/internal/telemetry"
)

// DeadLetter receives batches that could not be archived
type DeadLetter interface {
	SendArchiveBatch(ctx context.Context, batch *queue.ArchiveBatch, cause error, retries int) error
}

// StatusRecorder tracks live relay state per deployment
type StatusRecorder interface {
	SetState(ctx context.Context, deploymentID, state string) error
	AddMessages(ctx context.Context, deploymentID string, n int, at time.Time) error
	AddError(ctx context.Context, deploymentID string) error
}

// Archiver writes batches to the console archive, dead-lettering failures
type Archiver struct {
	archive database.ConsoleArchive
	dlq     DeadLetter
	status  StatusRecorder
	metrics *Metrics
	log     *logrus.Entry
}

// NewArchiver creates an archiver. dlq and status may be nil.
func NewArchiver(archive database.ConsoleArchive, dlq DeadLetter, status StatusRecorder, metrics *Metrics) *Archiver {
	return &Archiver{
		archive: archive,
		dlq:     dlq,
		status:  status,
		metrics: metrics,
		log:     telemetry.Component("archiver"),
	}
}

// Archive inserts a batch. When the insert fails the batch goes to the DLQ;
// the error is returned only if that fails too.
func (a *Archiver) Archive(ctx context.Context, batch *Batch) error {
	if batch.Size() == 0 {
		return nil
	}

	span, ctx := tracer.StartSpanFromContext(ctx, "relay.archive",
		tracer.ServiceName("pylonkit-relay"),
		tracer.ResourceName("archive "+batch.DeploymentID),
		tracer.SpanType("db"),
		tracer.Tag("deployment.id", batch.DeploymentID),
		tracer.Tag("messaging.batch_size", batch.Size()),
	)
	start := time.Now()

	inserted, err := a.insert(ctx, batch.DeploymentID, batch.Events)
	duration := time.Since(start)
	telemetry.RecordBatchSize("archive", batch.Size())

	if err == nil {
		span.SetTag("db.rows_inserted", inserted)
		span.Finish()
		telemetry.RecordMessageProcessed("archive", "success", duration)
		a.metrics.RecordBatch(batch.Size(), inserted, 0, duration)
		a.recordMessages(ctx, batch)
		return nil
	}

	span.Finish(tracer.WithError(err))
	telemetry.RecordMessageProcessed("archive", "error", duration)
	a.metrics.RecordError("archive_error")
	a.log.WithError(err).WithFields(logrus.Fields{
		"deployment_id": batch.DeploymentID,
		"events":        batch.Size(),
	}).Warn("archive insert failed")

	if a.status != nil {
		if serr := a.status.AddError(ctx, batch.DeploymentID); serr != nil {
			a.log.WithError(serr).Debug("failed to record relay error")
		}
	}

	if a.dlq == nil {
		a.metrics.RecordBatch(batch.Size(), 0, batch.Size(), duration)
		return fmt.Errorf("failed to archive batch: %w", err)
	}
	dead := queue.NewArchiveBatch(batch.DeploymentID, batch.Events)
	if dlqErr := a.dlq.SendArchiveBatch(ctx, dead, err, 0); dlqErr != nil {
		a.metrics.RecordBatch(batch.Size(), 0, batch.Size(), duration)
		return fmt.Errorf("failed to archive batch (%v) and to dead-letter it: %w", err, dlqErr)
	}
	a.metrics.RecordBatch(batch.Size(), 0, batch.Size(), duration)
	a.recordMessages(ctx, batch)
	return nil
}

// Retry re-inserts a dead-lettered batch. Already archived messages are
// skipped by the archive, so a partial earlier insert is harmless.
func (a *Archiver) Retry(ctx context.Context, batch *queue.ArchiveBatch) error {
	span, ctx := tracer.StartSpanFromContext(ctx, "relay.archive.retry",
		tracer.ServiceName("pylonkit-relay"),
		tracer.ResourceName("retry "+batch.DeploymentID),
		tracer.SpanType("db"),
		tracer.Tag("deployment.id", batch.DeploymentID),
		tracer.Tag("messaging.batch_size", len(batch.Events)),
	)
	inserted, err := a.insert(ctx, batch.DeploymentID, batch.Events)
	span.Finish(tracer.WithError(err))
	if err != nil {
		return err
	}
	a.metrics.RecordBatch(len(batch.Events), inserted, 0, 0)
	return nil
}

func (a *Archiver) insert(ctx context.Context, deploymentID string, events []queue.ConsoleEvent) (int, error) {
	messages := make([]database.ConsoleMessage, len(events))
	for i, ev := range events {
		messages[i] = database.ConsoleMessage{
			MessageID:    ev.ID,
			DeploymentID: deploymentID,
			Payload:      ev.Payload,
			ReceivedAt:   ev.Timestamp,
		}
	}
	return a.archive.InsertBatch(ctx, messages)
}

func (a *Archiver) recordMessages(ctx context.Context, batch *Batch) {
	if a.status == nil {
		return
	}
	last := batch.Events[len(batch.Events)-1].Timestamp
	if err := a.status.AddMessages(ctx, batch.DeploymentID, batch.Size(), last); err != nil {
		a.log.WithError(err).Debug("failed to record relay messages")
	}
}

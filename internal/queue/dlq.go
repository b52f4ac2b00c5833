package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/birbparty/pylonkit/internal/telemetry"
)

// RetryFunc reprocesses an archive batch taken from the DLQ
type RetryFunc func(ctx context.Context, batch *ArchiveBatch) error

// DLQHandler handles dead letter queue operations
type DLQHandler struct {
	client *Client
	config *Config
	now    func() time.Time
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(client *Client) *DLQHandler {
	return &DLQHandler{
		client: client,
		config: client.config,
		now:    time.Now,
	}
}

// SendArchiveBatch dead-letters a batch whose archive insert failed
func (h *DLQHandler) SendArchiveBatch(ctx context.Context, batch *ArchiveBatch, cause error, retries int) error {
	data, err := batch.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal archive batch: %w", err)
	}

	dlqMsg := &DLQMessage{
		OriginalMessage: data,
		OriginalSubject: ConsoleSubject(batch.DeploymentID),
		Error:           cause.Error(),
		FailedAt:        h.now().UTC(),
		Retries:         retries,
		MaxRetries:      h.config.DLQMaxRetries,
	}

	payload, err := dlqMsg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	headers := nats.Header{}
	headers.Set("X-Original-Subject", dlqMsg.OriginalSubject)
	headers.Set("X-Failed-At", dlqMsg.FailedAt.Format(time.RFC3339))
	headers.Set("X-Retries", strconv.Itoa(retries))

	msg := &nats.Msg{
		Subject: SubjectDLQArchive,
		Data:    payload,
		Header:  headers,
	}
	injectTrace(ctx, msg)

	if err := h.client.publish(ctx, msg); err != nil {
		return err
	}
	telemetry.RecordDLQMessage("archive_failed")
	return nil
}

func (h *DLQHandler) consumerName() string {
	return h.config.ConsumerName + "-dlq"
}

// ProcessDLQ consumes dead-lettered archive batches and hands them to retry
// until ctx is done
func (h *DLQHandler) ProcessDLQ(ctx context.Context, retry RetryFunc) error {
	if _, err := h.client.CreateConsumer(h.config.DLQStreamName, h.consumerName(), SubjectDLQArchive); err != nil {
		return fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	return h.client.Consume(ctx, h.config.DLQStreamName, h.consumerName(), func(msg *nats.Msg) {
		h.handle(ctx, msg, retry)
	})
}

func (h *DLQHandler) handle(ctx context.Context, msg *nats.Msg, retry RetryFunc) {
	log := h.client.log.WithField("subject", msg.Subject)

	dlqMsg, err := UnmarshalDLQMessage(msg.Data)
	if err != nil {
		log.WithError(err).Error("dropping undecodable DLQ message")
		_ = msg.Term()
		return
	}

	if dlqMsg.Exhausted() {
		log.WithField("retries", dlqMsg.Retries).
			WithField("error", dlqMsg.Error).
			Error("archive batch exceeded max retries")
		telemetry.RecordDLQMessage("exhausted")
		_ = msg.Ack()
		return
	}

	if wait := dlqMsg.NextRetryAt(h.config.DLQRetryInterval).Sub(h.now()); wait > 0 {
		_ = msg.NakWithDelay(wait)
		return
	}

	batch, err := UnmarshalArchiveBatch(dlqMsg.OriginalMessage)
	if err != nil {
		log.WithError(err).Error("dropping undecodable archive batch")
		_ = msg.Term()
		return
	}

	if err := retry(ctx, batch); err != nil {
		log.WithError(err).WithField("attempt", dlqMsg.Retries+1).Warn("archive retry failed")
		if err := h.SendArchiveBatch(ctx, batch, err, dlqMsg.Retries+1); err != nil {
			_ = msg.Nak()
			return
		}
	} else {
		log.WithField("deployment_id", batch.DeploymentID).
			WithField("events", len(batch.Events)).
			Info("archive batch recovered from DLQ")
	}
	_ = msg.Ack()
}

// GetDLQStats returns statistics about the DLQ
func (h *DLQHandler) GetDLQStats() (*DLQStats, error) {
	streamInfo, err := h.client.StreamInfo(h.config.DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stream info: %w", err)
	}

	stats := &DLQStats{
		TotalMessages: streamInfo.State.Msgs,
		StreamBytes:   streamInfo.State.Bytes,
		OldestMessage: streamInfo.State.FirstTime,
		NewestMessage: streamInfo.State.LastTime,
	}

	// The consumer only exists once ProcessDLQ has run
	if consumerInfo, err := h.client.ConsumerInfo(h.config.DLQStreamName, h.consumerName()); err == nil {
		stats.PendingMessages = consumerInfo.NumPending
	}
	return stats, nil
}

// PurgeDLQ removes all messages from the DLQ
func (h *DLQHandler) PurgeDLQ() error {
	if err := h.client.js.PurgeStream(h.config.DLQStreamName); err != nil {
		return fmt.Errorf("failed to purge DLQ: %w", err)
	}
	return nil
}

// DLQStats represents statistics about the DLQ
type DLQStats struct {
	TotalMessages   uint64    `json:"total_messages"`
	PendingMessages uint64    `json:"pending_messages"`
	StreamBytes     uint64    `json:"stream_bytes"`
	OldestMessage   time.Time `json:"oldest_message"`
	NewestMessage   time.Time `json:"newest_message"`
}

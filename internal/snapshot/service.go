// Package snapshot exports KV namespaces to object storage as JSONL and
// restores them back onto the platform.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/storage"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

// ErrSnapshotNotFound is returned when a snapshot record does not exist
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Service takes and restores namespace snapshots
type Service struct {
	objects storage.ObjectStore
	index   database.SnapshotIndex
	log     *logrus.Entry
	now     func() time.Time
}

// NewService creates a snapshot service
func NewService(objects storage.ObjectStore, index database.SnapshotIndex) *Service {
	return &Service{
		objects: objects,
		index:   index,
		log:     telemetry.Component("snapshot"),
		now:     time.Now,
	}
}

// RestoreOptions controls Restore
type RestoreOptions struct {
	// IfNotExists leaves keys that already hold a value untouched
	IfNotExists bool
}

// RestoreResult reports what Restore wrote
type RestoreResult struct {
	SnapshotID int64  `json:"snapshot_id"`
	Namespace  string `json:"namespace"`
	Restored   int    `json:"restored"`
}

// Take exports every item of ns, uploads it and records the snapshot
func (s *Service) Take(ctx context.Context, ns *sdk.Namespace) (*database.SnapshotRecord, error) {
	ctx, span := telemetry.StartDeploymentSpan(ctx, "snapshot.take", ns.DeploymentID(),
		telemetry.NamespaceKey.String(ns.Name()))
	defer span.End()

	items, err := ns.Items(ctx, nil)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read namespace %s: %w", ns.Name(), err)
	}

	data, err := storage.EncodeSnapshot(items)
	if err != nil {
		return nil, err
	}

	takenAt := s.now()
	key := storage.SnapshotKey(ns.DeploymentID(), ns.Name(), takenAt)
	err = s.objects.Put(ctx, key, data, map[string]string{
		"deployment-id": ns.DeploymentID(),
		"namespace":     ns.Name(),
		"item-count":    fmt.Sprint(len(items)),
		"taken-at":      takenAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	rec := &database.SnapshotRecord{
		DeploymentID: ns.DeploymentID(),
		Namespace:    ns.Name(),
		ObjectKey:    key,
		ItemCount:    len(items),
	}
	if err := s.index.Record(ctx, rec); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	telemetry.RecordSnapshotItems("export", len(items))
	s.log.WithFields(logrus.Fields{
		"deployment_id": rec.DeploymentID,
		"namespace":     rec.Namespace,
		"items":         rec.ItemCount,
		"object_key":    key,
	}).Info("namespace snapshot taken")
	return rec, nil
}

// Restore writes the items of snapshot id into ns. The target may be a
// different namespace than the one the snapshot was taken from.
func (s *Service) Restore(ctx context.Context, ns *sdk.Namespace, id int64, opts RestoreOptions) (*RestoreResult, error) {
	ctx, span := telemetry.StartDeploymentSpan(ctx, "snapshot.restore", ns.DeploymentID(),
		telemetry.NamespaceKey.String(ns.Name()),
		telemetry.SnapshotIDKey.Int64(id),
	)
	defer span.End()

	rec, err := s.index.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if rec.DeploymentID != ns.DeploymentID() {
		return nil, ErrSnapshotNotFound
	}

	body, err := s.objects.Get(ctx, rec.ObjectKey)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer body.Close()

	entries, err := storage.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d is corrupt: %w", id, err)
	}

	putOpts := &sdk.PutOptions{IfNotExists: opts.IfNotExists}
	result := &RestoreResult{SnapshotID: id, Namespace: ns.Name()}
	for _, e := range entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(s.now()) {
			continue
		}
		if e.Bytes != nil {
			err = ns.PutBytes(ctx, e.Key, []byte(*e.Bytes), putOpts)
		} else {
			err = ns.Put(ctx, e.Key, e.Value, putOpts)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
			return result, fmt.Errorf("failed to restore key %q: %w", e.Key, err)
		}
		result.Restored++
	}

	telemetry.RecordSnapshotItems("import", result.Restored)
	s.log.WithFields(logrus.Fields{
		"deployment_id": ns.DeploymentID(),
		"namespace":     ns.Name(),
		"snapshot_id":   id,
		"restored":      result.Restored,
	}).Info("namespace snapshot restored")
	return result, nil
}

// List returns recorded snapshots of a namespace, newest first
func (s *Service) List(ctx context.Context, deploymentID, namespace string, limit int) ([]database.SnapshotRecord, error) {
	return s.index.List(ctx, deploymentID, namespace, limit)
}

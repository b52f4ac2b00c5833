package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	relayKeyPrefix = KeyPrefix + ":relay:"
	relaySetKey    = KeyPrefix + ":relay:deployments"
)

// Relay states written to the status hash
const (
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateReconnecting = "reconnecting"
	StateClosed       = "closed"
)

// RelayStatus is the last known state of a deployment's console relay
type RelayStatus struct {
	DeploymentID  string    `json:"deployment_id"`
	State         string    `json:"state"`
	Messages      int64     `json:"messages"`
	Errors        int64     `json:"errors"`
	Reconnects    int64     `json:"reconnects"`
	Opens         int64     `json:"opens"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusStore keeps relay status hashes in Redis
type StatusStore struct {
	client redis.UniversalClient
}

// NewStatusStore creates a status store on the given client
func NewStatusStore(client redis.UniversalClient) *StatusStore {
	return &StatusStore{client: client}
}

func relayKey(deploymentID string) string {
	return relayKeyPrefix + deploymentID
}

// SetState records a state transition
func (s *StatusStore) SetState(ctx context.Context, deploymentID, state string) error {
	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, relaySetKey, deploymentID)
	pipe.HSet(ctx, relayKey(deploymentID), "state", state, "updated_at", now.Format(time.RFC3339Nano))
	if state == StateOpen {
		pipe.HIncrBy(ctx, relayKey(deploymentID), "opens", 1)
	}
	if state == StateReconnecting {
		pipe.HIncrBy(ctx, relayKey(deploymentID), "reconnects", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewCacheError("failed to set relay state", true).WithError(err)
	}
	return nil
}

// AddMessages counts n received messages and stamps the last message time
func (s *StatusStore) AddMessages(ctx context.Context, deploymentID string, n int, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, relayKey(deploymentID), "messages", int64(n))
	pipe.HSet(ctx, relayKey(deploymentID),
		"last_message_at", at.UTC().Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return NewCacheError("failed to count relay messages", true).WithError(err)
	}
	return nil
}

// AddError counts one stream or archive error
func (s *StatusStore) AddError(ctx context.Context, deploymentID string) error {
	if err := s.client.HIncrBy(ctx, relayKey(deploymentID), "errors", 1).Err(); err != nil {
		return NewCacheError("failed to count relay error", true).WithError(err)
	}
	return nil
}

// Get returns the status of one relay, or ErrKeyNotFound
func (s *StatusStore) Get(ctx context.Context, deploymentID string) (*RelayStatus, error) {
	fields, err := s.client.HGetAll(ctx, relayKey(deploymentID)).Result()
	if err != nil {
		return nil, NewCacheError("failed to read relay status", true).WithError(err)
	}
	if len(fields) == 0 {
		return nil, ErrKeyNotFound
	}
	return parseStatus(deploymentID, fields)
}

// List returns the status of every known relay
func (s *StatusStore) List(ctx context.Context) ([]RelayStatus, error) {
	ids, err := s.client.SMembers(ctx, relaySetKey).Result()
	if err != nil {
		return nil, NewCacheError("failed to list relays", true).WithError(err)
	}

	statuses := make([]RelayStatus, 0, len(ids))
	for _, id := range ids {
		st, err := s.Get(ctx, id)
		if err == ErrKeyNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	return statuses, nil
}

// Remove forgets a relay
func (s *StatusStore) Remove(ctx context.Context, deploymentID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, relayKey(deploymentID))
	pipe.SRem(ctx, relaySetKey, deploymentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewCacheError("failed to remove relay status", true).WithError(err)
	}
	return nil
}

func parseStatus(deploymentID string, fields map[string]string) (*RelayStatus, error) {
	st := &RelayStatus{DeploymentID: deploymentID, State: fields["state"]}

	counters := map[string]*int64{
		"messages":   &st.Messages,
		"errors":     &st.Errors,
		"reconnects": &st.Reconnects,
		"opens":      &st.Opens,
	}
	for name, dst := range counters {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s counter %q: %w", name, raw, err)
		}
		*dst = v
	}

	for name, dst := range map[string]*time.Time{
		"last_message_at": &st.LastMessageAt,
		"updated_at":      &st.UpdatedAt,
	} {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s timestamp %q: %w", name, raw, err)
		}
		*dst = t
	}
	return st, nil
}

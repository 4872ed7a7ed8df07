// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/config"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Connect returns a client for cfg after a successful ping.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// PresenceMirror keeps a hash of user id to presence status.
// Offline users are removed from the hash.
type PresenceMirror struct {
	client redis.Cmdable
	key    string
}

func NewPresenceMirror(client redis.Cmdable, key string) *PresenceMirror {
	return &PresenceMirror{client: client, key: key}
}

func (p *PresenceMirror) SetStatus(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) error {
	var err error
	if status == models.StatusOffline {
		err = p.client.HDel(ctx, p.key, userID.String()).Err()
	} else {
		err = p.client.HSet(ctx, p.key, userID.String(), string(status)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to mirror presence of %s: %w", userID, err)
	}
	return nil
}

// Statuses reads the whole mirror back.
func (p *PresenceMirror) Statuses(ctx context.Context) (map[uuid.UUID]models.PresenceStatus, error) {
	raw, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence hash '%s': %w", p.key, err)
	}
	out := make(map[uuid.UUID]models.PresenceStatus, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		out[id] = models.PresenceStatus(v)
	}
	return out, nil
}

// Clear drops the mirror. Called at startup, when no connection exists yet.
func (p *PresenceMirror) Clear(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}

// ActionLog appends every committed move to a Redis list for offline consumers.
type ActionLog struct {
	client redis.Cmdable
	queue  string
}

func NewActionLog(client redis.Cmdable, queue string) *ActionLog {
	return &ActionLog{client: client, queue: queue}
}

// PublishMove serializes the record to JSON and pushes it to the queue.
func (a *ActionLog) PublishMove(ctx context.Context, rec models.MoveRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal MoveRecord: %w", err)
	}
	if err := a.client.RPush(ctx, a.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", a.queue, err)
	}
	return nil
}

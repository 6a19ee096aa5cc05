package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

const calendarSnapshotKeyPrefix = "calendar_sync:"

// CalendarSnapshotRepository persists the calendar sync snapshot in Redis so reopening the
// agent does not recreate entries that were already synced.
type CalendarSnapshotRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCalendarSnapshotRepository constructs the repository.
func NewCalendarSnapshotRepository(client *redis.Client, logger *zap.Logger) *CalendarSnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarSnapshotRepository{client: client, logger: logger}
}

// Load returns the persisted state for userID or ErrCacheMiss.
func (r *CalendarSnapshotRepository) Load(ctx context.Context, userID string) (*models.CalendarSyncState, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	key := calendarSnapshotKeyPrefix + userID
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var state models.CalendarSyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal calendar snapshot for %s: %w", userID, err)
	}
	if state.Entries == nil {
		state.Entries = map[string]models.SyncedEntry{}
	}
	return &state, nil
}

// Save stores the state without expiry.
func (r *CalendarSnapshotRepository) Save(ctx context.Context, userID string, state models.CalendarSyncState) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal calendar snapshot for %s: %w", userID, err)
	}

	key := calendarSnapshotKeyPrefix + userID
	if err := r.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CalendarSnapshotRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

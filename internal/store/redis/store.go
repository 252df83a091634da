// Package redis persists parameter snapshots in Redis so several hosts can
// share calibrated tables.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/observability"
	"github.com/davidbz/hostmeter/internal/store"
)

// Store implements domain.ParamsStore on Redis. Each snapshot is one string
// key; a list holds the run ids in save order.
type Store struct {
	client *redis.Client
	prefix string
}

var _ domain.ParamsStore = (*Store)(nil)

// NewStore creates a store that namespaces its keys under prefix.
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) snapshotKey(runID string) string {
	return fmt.Sprintf("%s:snapshot:%s", s.prefix, runID)
}

func (s *Store) runsKey() string {
	return s.prefix + ":runs"
}

// Save stores snap and appends its run id in one transaction.
func (s *Store) Save(ctx context.Context, snap *domain.ParamsSnapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	logger := observability.FromContext(ctx)

	data, err := store.Encode(snap)
	if err != nil {
		return err
	}

	runID := snap.RunID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(runID), data, 0)
	pipe.RPush(ctx, s.runsKey(), runID)

	if _, execErr := pipe.Exec(ctx); execErr != nil {
		logger.Error("snapshot save failed",
			observability.String("run_id", runID),
			observability.Error(execErr))
		return fmt.Errorf("failed to save snapshot: %w", execErr)
	}

	logger.Debug("snapshot saved",
		observability.String("run_id", runID),
		observability.Int("bytes", len(data)))
	return nil
}

// Latest returns the last saved snapshot.
func (s *Store) Latest(ctx context.Context) (*domain.ParamsSnapshot, error) {
	runID, err := s.client.LIndex(ctx, s.runsKey(), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run list: %w", err)
	}
	return s.Get(ctx, runID)
}

// Get returns the snapshot saved under runID.
func (s *Store) Get(ctx context.Context, runID string) (*domain.ParamsSnapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return store.Decode(data)
}

// List returns the run ids in save order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.runsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

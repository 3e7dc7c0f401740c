package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/scribeworks/generation-engine/internal/domain"
)

const currentBatchKey = "generation:current_batch"

// CurrentBatchStore tracks the most recently submitted batch as a single
// pointer key instead of a per-row flag rewritten across all batches.
type CurrentBatchStore struct {
	client *goredis.Client
}

func NewCurrentBatchStore(client *goredis.Client) (*CurrentBatchStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &CurrentBatchStore{client: client}, nil
}

func (s *CurrentBatchStore) Set(ctx context.Context, batchID string) error {
	if strings.TrimSpace(batchID) == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Set(ctx, currentBatchKey, batchID, 0).Err()
}

func (s *CurrentBatchStore) Get(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batchID, err := s.client.Get(ctx, currentBatchKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return batchID, nil
}

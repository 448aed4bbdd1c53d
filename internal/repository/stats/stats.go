package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jgivc/raidnode/internal/entity"
)

const (
	keyPrefix = "rn"
	KeyStats  = "stats" // HASH. counter name -> value

	KeySeparator = ":"

	fieldProcessedBlocks = "num_processed_blocks"
	fieldProcessedSize   = "processed_size"
	fieldRemainingSize   = "remaining_size"
	fieldMetaBlocks      = "num_meta_blocks"
	fieldMetaSize        = "meta_size"
)

// statsRepository publishes the counter snapshot to redis so status pages
// can read it out of process.
type statsRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

func NewStatsRepository(cl *redis.Client, log *slog.Logger) *statsRepository {
	return &statsRepository{
		cl:  cl,
		log: log.With(slog.String("item", "StatsRepository")),
	}
}

func (r *statsRepository) Publish(ctx context.Context, snap entity.StatisticsSnapshot) error {
	key := getKey(keyPrefix, KeyStats)

	pipe := r.cl.Pipeline()
	pipe.HSet(ctx, key, fieldProcessedBlocks, snap.NumProcessedBlocks)
	pipe.HSet(ctx, key, fieldProcessedSize, snap.ProcessedSize)
	pipe.HSet(ctx, key, fieldRemainingSize, snap.RemainingSize)
	pipe.HSet(ctx, key, fieldMetaBlocks, snap.NumMetaBlocks)
	pipe.HSet(ctx, key, fieldMetaSize, snap.MetaSize)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot publish statistics: %w", err)
	}

	return nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}

// Package snapshot persists the price cache between runs.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

// RedisStore keeps one snapshot per feed namespace under two keys: a
// serialized array of [asset_id, quote] pairs and an RFC3339 updated-at
// instant. The two are written and cleared together.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

var _ port.SnapshotStore = (*RedisStore)(nil)

func NewRedisStore(addr, password string, db int, namespace string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, namespace: namespace}, nil
}

// NewRedisStoreWithClient shares an existing client; used when several feeds
// snapshot into the same redis under different namespaces.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) quotesKey() string  { return s.namespace + ":quotes" }
func (s *RedisStore) updatedKey() string { return s.namespace + ":updated_at" }

type snapshotPair struct {
	AssetID int64
	Quote   model.PriceQuote
}

func (p snapshotPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.AssetID, p.Quote})
}

func (p *snapshotPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.AssetID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Quote)
}

func (s *RedisStore) Save(ctx context.Context, quotes map[int64]model.PriceQuote, at time.Time) error {
	pairs := make([]snapshotPair, 0, len(quotes))
	for id, q := range quotes {
		pairs = append(pairs, snapshotPair{AssetID: id, Quote: q})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.quotesKey(), data, 0)
	pipe.Set(ctx, s.updatedKey(), at.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (map[int64]model.PriceQuote, time.Time, error) {
	data, err := s.client.Get(ctx, s.quotesKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return map[int64]model.PriceQuote{}, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}

	var pairs []snapshotPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	quotes := make(map[int64]model.PriceQuote, len(pairs))
	for _, p := range pairs {
		quotes[p.AssetID] = p.Quote
	}

	var at time.Time
	if raw, err := s.client.Get(ctx, s.updatedKey()).Result(); err == nil {
		if parsed, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			at = parsed
		}
	} else if err != redis.Nil {
		return nil, time.Time{}, fmt.Errorf("failed to read snapshot timestamp: %w", err)
	}

	return quotes, at, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.quotesKey(), s.updatedKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries on contended keys.
const maxTxRetries = 16

// RedisRepository keeps each record as JSON, ordered by a sorted set keyed
// on creation time. A hash maps URL to id to reject duplicates atomically.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisRepository wraps client. Keys are namespaced under prefix.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "hlsviewer"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) recordKey(id string) string { return r.prefix + ":stream:" + id }
func (r *RedisRepository) orderKey() string           { return r.prefix + ":streams" }
func (r *RedisRepository) urlKey() string             { return r.prefix + ":urls" }

// List implements Repository.List.
func (r *RedisRepository) List(ctx context.Context) ([]Record, error) {
	ids, err := r.client.ZRevRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list stream ids: %w", err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}

	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode stream: %w", err)
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

// Get implements Repository.Get.
func (r *RedisRepository) Get(ctx context.Context, id string) (Record, error) {
	return r.load(ctx, r.client, id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRepository) load(ctx context.Context, c stringGetter, id string) (Record, error) {
	data, err := c.Get(ctx, r.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get stream: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode stream: %w", err)
	}
	return rec, nil
}

// Create implements Repository.Create.
func (r *RedisRepository) Create(ctx context.Context, rec Record) (Record, error) {
	rec, err := normalize(rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	claimed, err := r.client.HSetNX(ctx, r.urlKey(), rec.URL, rec.ID).Result()
	if err != nil {
		return Record{}, fmt.Errorf("claim url: %w", err)
	}
	if !claimed {
		return Record{}, duplicateURL(rec.URL)
	}

	if err := r.write(ctx, rec, true); err != nil {
		_ = r.client.HDel(ctx, r.urlKey(), rec.URL).Err()
		return Record{}, err
	}
	return rec, nil
}

// Update implements Repository.Update. The read and the write happen in one
// WATCH transaction on the record and the URL index, so a concurrent Delete or
// claim of the new URL makes it retry instead of writing over them.
func (r *RedisRepository) Update(ctx context.Context, id string, f Fields) (Record, error) {
	var next Record
	err := r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err = normalize(f.Apply(cur))
		if err != nil {
			return err
		}

		moved := next.URL != cur.URL
		if moved {
			owner, err := tx.HGet(ctx, r.urlKey(), next.URL).Result()
			switch {
			case err == nil && owner != id:
				return duplicateURL(next.URL)
			case err != nil && !errors.Is(err, redis.Nil):
				return fmt.Errorf("claim url: %w", err)
			}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode stream: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.recordKey(id), data, 0)
			if moved {
				p.HDel(ctx, r.urlKey(), cur.URL)
				p.HSet(ctx, r.urlKey(), next.URL, id)
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("store stream: %w", err)
		}
		return err
	}, r.recordKey(id), r.urlKey())
	if err != nil {
		return Record{}, err
	}
	return next, nil
}

// Delete implements Repository.Delete.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.recordKey(id))
			p.ZRem(ctx, r.orderKey(), id)
			p.HDel(ctx, r.urlKey(), cur.URL)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("delete stream: %w", err)
		}
		return err
	}, r.recordKey(id))
}

// watch runs fn under WATCH on keys and retries while another client changes
// them before EXEC.
func (r *RedisRepository) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("store stream: gave up after %d conflicting writes", maxTxRetries)
}

// Close implements Repository.Close.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) write(ctx context.Context, rec Record, index bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode stream: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.recordKey(rec.ID), data, 0)
		if index {
			p.ZAdd(ctx, r.orderKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store stream: %w", err)
	}
	return nil
}

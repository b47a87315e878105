// Package idempotency remembers responses to client-keyed submissions so a
// retried POST replays the first result instead of creating a duplicate.
package idempotency

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress is returned by Begin while another request holds the key.
var ErrInProgress = stderrors.New("idempotent request already in progress")

const pendingMarker = "pending"

// Record is a stored response. RequestHash fingerprints the request that
// produced it so a key reused with a different payload can be refused.
type Record struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
	RequestHash string          `json:"requestHash,omitempty"`
}

// Store keeps idempotency records in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Options configures Dial.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(client, opts.TTL), nil
}

// NewStore wraps an existing client. ttl bounds both the in-progress lock
// and how long a completed response is replayed.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, prefix: "idem:"}
}

// Begin claims key. It returns nil when the caller should process the
// request, the stored Record when a previous request already completed, or
// ErrInProgress when one is still running.
func (s *Store) Begin(ctx context.Context, key string) (*Record, error) {
	k := s.prefix + key
	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if stderrors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == pendingMarker {
		return nil, ErrInProgress
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete stores the response for key.
func (s *Store) Complete(ctx context.Context, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

// Release drops the claim on key so a failed request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

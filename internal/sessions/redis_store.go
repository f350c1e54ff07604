package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "campusvote:session:"

// RedisStore — сессии в Redis; истечение по TTL ключа.
type RedisStore struct {
	client *redis.Client
	Now    func() time.Time
}

func NewRedisStore(addr string, db int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	}))
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, Now: time.Now}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Create(ctx context.Context, accountID uuid.UUID, ttl time.Duration, meta Meta) (string, *Session, error) {
	token, sess, err := newSession(s.Now(), accountID, ttl, meta)
	if err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", nil, err
	}
	// NX: коллизия хеша токена не перезапишет чужую сессию
	ok, err := s.client.SetNX(ctx, redisPrefix+sess.TokenHash, raw, ttl).Result()
	if err != nil {
		return "", nil, fmt.Errorf("redis session create: %w", err)
	}
	if !ok {
		return "", nil, errors.New("redis session create: key exists")
	}
	return token, sess, nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	raw, err := s.client.Get(ctx, redisPrefix+HashToken(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis session get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("redis session decode: %w", err)
	}
	if !sess.ExpiresAt.After(s.Now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, redisPrefix+HashToken(token)).Err()
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKey(jti string) string {
	return fmt.Sprintf("%s:jti:%s", s.prefix, jti)
}

func (s *RedisSessionStore) userKey(userID uint) string {
	return fmt.Sprintf("%s:user:%d", s.prefix, userID)
}

func (s *RedisSessionStore) Put(ctx context.Context, jti string, rec SessionRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(jti), payload, ttl)
	pipe.SAdd(ctx, s.userKey(rec.UserID), jti)
	// The member set outlives individual sessions; RevokeAll prunes stale
	// members when it walks the set.
	pipe.Expire(ctx, s.userKey(rec.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, jti string) (*SessionRecord, error) {
	payload, err := s.client.Get(ctx, s.sessionKey(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

func (s *RedisSessionStore) MarkGrace(ctx context.Context, jti string, graceTTL time.Duration) error {
	rec, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}
	if rec == nil || rec.Grace {
		return nil
	}
	rec.Grace = true
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(jti), payload, graceTTL).Err(); err != nil {
		return fmt.Errorf("mark session grace: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, jti string) error {
	rec, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(jti))
	if rec != nil {
		pipe.SRem(ctx, s.userKey(rec.UserID), jti)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) RevokeAll(ctx context.Context, userID uint) (int, error) {
	members, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	revoked := 0
	for _, jti := range members {
		n, err := s.client.Del(ctx, s.sessionKey(jti)).Result()
		if err != nil {
			return revoked, fmt.Errorf("revoke session %s: %w", jti, err)
		}
		revoked += int(n)
	}
	if err := s.client.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return revoked, fmt.Errorf("clear user session set: %w", err)
	}
	return revoked, nil
}

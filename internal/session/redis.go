package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

// RedisStore keeps sessions in redis: one JSON value per session plus a
// per-account set of session ids so account-wide invalidation stays a
// handful of round trips.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func accountSessionsKey(accountID string) string {
	return fmt.Sprintf("account_sessions:%s", accountID)
}

func (s *RedisStore) Put(ctx context.Context, session model.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), payload, ttl).Err(); err != nil {
		return err
	}
	indexKey := accountSessionsKey(session.AccountID)
	if err := s.client.SAdd(ctx, indexKey, session.ID).Err(); err != nil {
		return err
	}
	// The index outlives its members slightly; dead ids are dropped on
	// the next account-wide delete.
	return s.client.Expire(ctx, indexKey, ttl+time.Hour).Err()
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (model.Session, bool, error) {
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	var session model.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return model.Session{}, false, err
	}
	return session, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	session, ok, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if ok {
		if err := s.client.SRem(ctx, accountSessionsKey(session.AccountID), sessionID).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

func (s *RedisStore) DeleteAccountSessions(ctx context.Context, accountID, keep string) error {
	indexKey := accountSessionsKey(accountID)
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, id := range ids {
		if id == keep {
			continue
		}
		if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
			return err
		}
		if err := s.client.SRem(ctx, indexKey, id).Err(); err != nil {
			return err
		}
	}
	return nil
}

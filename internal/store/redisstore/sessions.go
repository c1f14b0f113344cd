// Package redisstore keeps server-side sessions in Redis hashes that expire with
// the session.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sitesafe.app/internal/auth"
)

const defaultPrefix = "sitesafe"

// SessionStore implements auth.SessionStore.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.SessionStore = (*SessionStore)(nil)

var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_seen_at", ARGV[1])
return 1
`)

// Options holds connection settings.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewClient(opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func NewSessionStore(client redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + ":user_sessions:" + userID
}

func (s *SessionStore) CreateSession(ctx context.Context, sess auth.Session) error {
	if sess.ID == "" || sess.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", auth.ErrInvalidInput)
	}
	key := s.sessionKey(sess.ID)
	ukey := s.userKey(sess.UserID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, encodeSession(sess))
		p.PExpireAt(ctx, key, sess.ExpiresAt)
		p.SAdd(ctx, ukey, sess.ID)
		p.PExpireAt(ctx, ukey, sess.ExpiresAt)
		return nil
	})
	return err
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (auth.Session, error) {
	vals, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return auth.Session{}, err
	}
	if len(vals) == 0 {
		return auth.Session{}, auth.ErrNotFound
	}
	return decodeSession(id, vals)
}

func (s *SessionStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	n, err := touchScript.Run(ctx, s.client, []string{s.sessionKey(id)}, formatTime(at)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	userID, err := s.client.HGet(ctx, key, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return auth.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.SRem(ctx, s.userKey(userID), id)
		return nil
	})
	return err
}

func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	ukey := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, ukey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, ukey)
	return s.client.Del(ctx, keys...).Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeSession(sess auth.Session) map[string]any {
	return map[string]any{
		"user_id":      sess.UserID,
		"tenant_id":    sess.TenantID,
		"created_at":   formatTime(sess.CreatedAt),
		"last_seen_at": formatTime(sess.LastSeenAt),
		"expires_at":   formatTime(sess.ExpiresAt),
		"ip_address":   sess.IPAddress,
		"user_agent":   sess.UserAgent,
	}
}

func decodeSession(id string, vals map[string]string) (auth.Session, error) {
	sess := auth.Session{
		ID:        id,
		UserID:    vals["user_id"],
		TenantID:  vals["tenant_id"],
		IPAddress: vals["ip_address"],
		UserAgent: vals["user_agent"],
	}
	if sess.UserID == "" {
		return auth.Session{}, fmt.Errorf("session %s: missing user_id", id)
	}
	for field, dst := range map[string]*time.Time{
		"created_at":   &sess.CreatedAt,
		"last_seen_at": &sess.LastSeenAt,
		"expires_at":   &sess.ExpiresAt,
	} {
		t, err := time.Parse(time.RFC3339Nano, vals[field])
		if err != nil {
			return auth.Session{}, fmt.Errorf("session %s: %s: %w", id, field, err)
		}
		*dst = t
	}
	return sess, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// ErrNoSession 表示令牌不存在或已失效。
var ErrNoSession = errors.New("session not found")

// SessionStore 把不透明会话令牌映射到身份 ID，存放在 Redis。
// 登录创建、登出销毁，销毁是幂等的。
type SessionStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewSessionStore 构造会话存储。
func NewSessionStore(redisClient redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Create 为身份签发一枚新的不透明令牌。
func (s *SessionStore) Create(ctx context.Context, identityID uint) (string, error) {
	token := uuid.NewString()
	key := sessionKeyPrefix + token
	if err := s.redis.Set(ctx, key, strconv.FormatUint(uint64(identityID), 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve 把令牌换回身份 ID，纯查询，不产生副作用。
func (s *SessionStore) Resolve(ctx context.Context, token string) (uint, error) {
	if token == "" {
		return 0, ErrNoSession
	}

	value, err := s.redis.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session: %w", err)
	}

	identityID, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode session value: %w", err)
	}
	return uint(identityID), nil
}

// Destroy 使令牌失效；令牌不存在也视为成功。
func (s *SessionStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.redis.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// TTL 暴露会话有效期。
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces lease keys within a shared Redis instance.
const redisKeyPrefix = "authority:lease:"

// RedisStore backs the Lease Manager with Redis, using PEXPIRE to let a
// process crash double as an automatic revocation: if nothing renews a
// lease's key within four heartbeat intervals, Redis evicts it and
// the next Get reports it not found. The Manager still treats a missing
// lease conservatively (as expired, not silently as "never existed").
type RedisStore struct {
	rdb *redis.Client
	ctx context.Context
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ctx: context.Background()}
}

func (s *RedisStore) key(leaseID string) string {
	return redisKeyPrefix + leaseID
}

func (s *RedisStore) Put(l *AuthorityLease) error {
	buf, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("lease: marshal: %w", err)
	}
	ttl := l.Interval() * 4
	if ttl <= 0 {
		ttl = time.Duration(DefaultHeartbeatIntervalMS) * time.Millisecond * 4
	}
	return s.rdb.Set(s.ctx, s.key(l.LeaseID), buf, ttl).Err()
}

func (s *RedisStore) Get(leaseID string) (*AuthorityLease, bool, error) {
	buf, err := s.rdb.Get(s.ctx, s.key(leaseID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lease: get: %w", err)
	}
	var l AuthorityLease
	if err := json.Unmarshal(buf, &l); err != nil {
		return nil, false, fmt.Errorf("lease: unmarshal: %w", err)
	}
	return &l, true, nil
}

func (s *RedisStore) Update(l *AuthorityLease) error {
	return s.Put(l)
}

func (s *RedisStore) ActiveForSession(sessionID string) ([]*AuthorityLease, error) {
	var out []*AuthorityLease
	iter := s.rdb.Scan(s.ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(s.ctx) {
		buf, err := s.rdb.Get(s.ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lease: scan get: %w", err)
		}
		var l AuthorityLease
		if err := json.Unmarshal(buf, &l); err != nil {
			continue
		}
		if l.SessionID == sessionID && !l.IsRevoked {
			out = append(out, &l)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lease: scan: %w", err)
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)

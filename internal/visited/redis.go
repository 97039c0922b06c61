package visited

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each visited set as a Redis set under
// visited:<owner>:<project>.
type RedisStore struct {
	rdb   *redis.Client
	owner string
}

func NewRedisStore(rdb *redis.Client, owner string) *RedisStore {
	return &RedisStore{rdb: rdb, owner: owner}
}

func (s *RedisStore) For(owner string) *RedisStore {
	return &RedisStore{rdb: s.rdb, owner: owner}
}

func (s *RedisStore) key(projectID string) string {
	return "visited:" + s.owner + ":" + projectID
}

func (s *RedisStore) Get(ctx context.Context, projectID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.key(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading visited set: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Set replaces the whole set in one MULTI/EXEC so readers never observe a
// partially written set.
func (s *RedisStore) Set(ctx context.Context, projectID string, ids []string) error {
	key := s.key(projectID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ids) > 0 {
			members := make([]any, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing visited set: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, projectID string) error {
	if err := s.rdb.Del(ctx, s.key(projectID)).Err(); err != nil {
		return fmt.Errorf("removing visited set: %w", err)
	}
	return nil
}

package flagstore

import (
	"context"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisFlagPrefix string = "awb/flags/"

// flags on cleared submissions are only interesting for a few weeks
var redisFlagTTL = 30 * 24 * time.Hour

type RedisFlagStore struct {
	Client *redis.Client
}

var _ FlagStore = (*RedisFlagStore)(nil)

func NewRedisFlagStore(redisURL string) (*RedisFlagStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return NewRedisFlagStoreFromClient(rdb), nil
}

func NewRedisFlagStoreFromClient(rdb *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{
		Client: rdb,
	}
}

func (s *RedisFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	l, err := s.Client.SMembers(ctx, redisFlagPrefix+key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(l)
	return l, nil
}

func (s *RedisFlagStore) Add(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	l := make([]any, len(flags))
	for i, f := range flags {
		l[i] = f
	}
	// refresh the expiry along with every write
	multi := s.Client.Pipeline()
	multi.SAdd(ctx, redisFlagPrefix+key, l...)
	multi.Expire(ctx, redisFlagPrefix+key, redisFlagTTL)
	_, err := multi.Exec(ctx)
	return err
}

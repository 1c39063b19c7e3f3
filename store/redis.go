package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chenyanchen/lazypkg/bundle"
)

// RedisStore keeps bundles as JSON strings under Prefix.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s *RedisStore) key(name string) string {
	return s.Prefix + ":" + name
}

func (s *RedisStore) Get(ctx context.Context, name string) (bundle.Bundle, error) {
	raw, err := s.Client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return bundle.Bundle{}, ErrNotFound
	}
	if err != nil {
		return bundle.Bundle{}, err
	}
	var out bundle.Bundle
	if err := json.Unmarshal(raw, &out); err != nil {
		return bundle.Bundle{}, fmt.Errorf("decode bundle %s: %w", name, err)
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, name string, b bundle.Bundle) error {
	b.Name = name
	if err := b.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.key(name), payload, s.TTL).Err()
}

func (s *RedisStore) Del(ctx context.Context, name string) error {
	return s.Client.Del(ctx, s.key(name)).Err()
}

// List scans the prefix.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.Client.Scan(ctx, 0, s.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.Prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/circuitbreaker"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// Store is the namespaced key-value memory shared by workers and pipeline
// stages. Entries live under a session namespace, carry optional tags, and
// expire after their TTL. Single-key operations map to single Redis
// commands, so each key is linearizable on its own; no cross-key
// transactions are offered.
type Store struct {
	redis      *circuitbreaker.RedisWrapper
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// PutOptions controls one write.
type PutOptions struct {
	TTL  time.Duration // zero means the store default
	Tags []string
}

// NewStore creates a memory store on top of the wrapped Redis client.
func NewStore(rw *circuitbreaker.RedisWrapper, prefix string, defaultTTL time.Duration, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "research"
	}
	return &Store{
		redis:      rw,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (s *Store) entryKey(namespace, key string) string {
	return fmt.Sprintf("%s:mem:%s:%s", s.prefix, namespace, key)
}

func (s *Store) tagKey(namespace, tag string) string {
	return fmt.Sprintf("%s:memtag:%s:%s", s.prefix, namespace, tag)
}

func (s *Store) nsIndexKey(namespace string) string {
	return fmt.Sprintf("%s:memns:%s", s.prefix, namespace)
}

// Put writes value under (namespace, key), replacing any previous entry.
// The write is a single SET, so concurrent writers to the same key resolve
// to one of the written values, never a blend.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte, opts PutOptions) error {
	if namespace == "" || key == "" {
		return fmt.Errorf("memory put: namespace and key are required")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := time.Now().UTC()
	entry := models.MemoryEntry{
		Key:       key,
		Namespace: namespace,
		Value:     value,
		Tags:      opts.Tags,
		CreatedAt: now,
		UpdatedAt: now,
		TTL:       ttl,
	}

	// Preserve creation time and clean up stale tag references on overwrite.
	if prev, found, err := s.Get(ctx, namespace, key); err == nil && found {
		entry.CreatedAt = prev.CreatedAt
		for _, tag := range prev.Tags {
			if !containsTag(opts.Tags, tag) {
				if err := s.redis.SRem(ctx, s.tagKey(namespace, tag), key).Err(); err != nil {
					s.logger.Warn("Failed to drop stale tag reference",
						zap.String("namespace", namespace),
						zap.String("key", key),
						zap.String("tag", tag),
						zap.Error(err),
					)
				}
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal memory entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.entryKey(namespace, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}

	if err := s.redis.SAdd(ctx, s.nsIndexKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("%w: index namespace: %v", models.ErrMemoryUnavailable, err)
	}
	for _, tag := range opts.Tags {
		if err := s.redis.SAdd(ctx, s.tagKey(namespace, tag), key).Err(); err != nil {
			return fmt.Errorf("%w: index tag %s: %v", models.ErrMemoryUnavailable, tag, err)
		}
	}
	return nil
}

// Get returns the entry at (namespace, key). The second return is false
// when the key is absent or expired.
func (s *Store) Get(ctx context.Context, namespace, key string) (models.MemoryEntry, bool, error) {
	data, err := s.redis.Get(ctx, s.entryKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return models.MemoryEntry{}, false, nil
	}
	if err != nil {
		return models.MemoryEntry{}, false, fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}

	var entry models.MemoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.MemoryEntry{}, false, fmt.Errorf("unmarshal memory entry %s/%s: %w", namespace, key, err)
	}
	return entry, true, nil
}

// QueryByTag returns all live entries in the namespace carrying tag.
// Index references whose entry has expired are dropped from the result and
// pruned from the index.
func (s *Store) QueryByTag(ctx context.Context, namespace, tag string) ([]models.MemoryEntry, error) {
	keys, err := s.redis.SMembers(ctx, s.tagKey(namespace, tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}

	entries := make([]models.MemoryEntry, 0, len(keys))
	for _, key := range keys {
		entry, found, err := s.Get(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		if !found {
			// Entry expired out from under its index.
			_ = s.redis.SRem(ctx, s.tagKey(namespace, tag), key).Err()
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Keys returns the live keys of a namespace.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := s.redis.SMembers(ctx, s.nsIndexKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}
	live := make([]string, 0, len(keys))
	for _, key := range keys {
		_, found, err := s.Get(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		if found {
			live = append(live, key)
		}
	}
	return live, nil
}

// Delete removes one entry and its index references.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	entry, found, err := s.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if found {
		for _, tag := range entry.Tags {
			_ = s.redis.SRem(ctx, s.tagKey(namespace, tag), key).Err()
		}
	}
	if err := s.redis.Del(ctx, s.entryKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}
	return s.redis.SRem(ctx, s.nsIndexKey(namespace), key).Err()
}

// DeleteNamespace removes every entry, tag index, and the key index of the
// namespace. Used at session teardown when persistence was not requested.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	patterns := []string{
		fmt.Sprintf("%s:mem:%s:*", s.prefix, namespace),
		fmt.Sprintf("%s:memtag:%s:*", s.prefix, namespace),
	}

	deleted := 0
	for _, pattern := range patterns {
		keys, err := s.redis.Keys(ctx, pattern).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
		}
		deleted += len(keys)
	}

	if err := s.redis.Del(ctx, s.nsIndexKey(namespace)).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}

	s.logger.Info("Memory namespace deleted",
		zap.String("namespace", namespace),
		zap.Int("keys_deleted", deleted),
	)
	return nil
}

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
	}
	return nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

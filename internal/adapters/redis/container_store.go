package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	goredis "github.com/redis/go-redis/v9"
)

const casRetries = 8

// ContainerStore keeps each record as JSON under docker:<id>, and indexes ids
// in sorted sets scored by an insertion sequence so listings keep creation order.
type ContainerStore struct {
	client goredis.UniversalClient
	prefix string
}

func NewContainerStore(client goredis.UniversalClient, prefix string) *ContainerStore {
	return &ContainerStore{client: client, prefix: prefix}
}

func (s *ContainerStore) recordKey(id string) string   { return s.prefix + "docker:" + id }
func (s *ContainerStore) ownerKey(owner string) string { return s.prefix + "user:" + owner + ":dockers" }
func (s *ContainerStore) allKey() string               { return s.prefix + "dockers" }
func (s *ContainerStore) seqKey() string               { return s.prefix + "dockers:seq" }

// insertScript writes the record and both index entries in one step, or
// nothing at all when the id is taken.
// KEYS: record, owner index, global index, sequence. ARGV: record JSON, id.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local seq = redis.call('INCR', KEYS[4])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], seq, ARGV[2])
redis.call('ZADD', KEYS[3], seq, ARGV[2])
return 1
`)

func (s *ContainerStore) Insert(ctx context.Context, c *domain.Container) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode container %s: %w", c.ID, err)
	}

	keys := []string{s.recordKey(c.ID), s.ownerKey(c.Owner), s.allKey(), s.seqKey()}
	created, err := insertScript.Run(ctx, s.client, keys, data, c.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to insert container %s: %w", c.ID, err)
	}
	if created == 0 {
		return fmt.Errorf("container %s: %w", c.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func decode(id string, data []byte) (*domain.Container, error) {
	var c domain.Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode container %s: %w", id, err)
	}
	return &c, nil
}

func (s *ContainerStore) Get(ctx context.Context, id string) (*domain.Container, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load container %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *ContainerStore) list(ctx context.Context, indexKey string) ([]*domain.Container, error) {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	result := make([]*domain.Container, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load containers: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a record, left behind by an interrupted delete
			continue
		}
		c, err := decode(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *ContainerStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Container, error) {
	return s.list(ctx, s.ownerKey(owner))
}

func (s *ContainerStore) ListAll(ctx context.Context) ([]*domain.Container, error) {
	return s.list(ctx, s.allKey())
}

func (s *ContainerStore) CompareAndSwapStatus(ctx context.Context, id string, from domain.Status, change domain.StatusChange) (*domain.Container, error) {
	key := s.recordKey(id)
	var result *domain.Container

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		current, err := decode(id, data)
		if err != nil {
			return err
		}
		result = current
		if current.Status != from {
			return fmt.Errorf("container %s is %s, expected %s: %w", id, current.Status, from, domain.ErrStatusConflict)
		}

		updated := current.Clone()
		if err := updated.Apply(change); err != nil {
			return fmt.Errorf("container %s: %w", id, err)
		}
		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode container %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return result, fmt.Errorf("container %s: %w", id, domain.ErrStatusConflict)
}

func (s *ContainerStore) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.ownerKey(c.Owner), id)
		pipe.ZRem(ctx, s.allKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete container %s: %w", id, err)
	}
	return nil
}

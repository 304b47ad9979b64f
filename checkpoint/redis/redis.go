// Package redis persists checkpoints in Redis.
//
// Each store writes a single key. Saves run inside a WATCH transaction that
// rejects sequence regressions, so two processes accidentally driving the same
// indexer cannot silently overwrite each other's progress.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pivotgo/checkpoint"
	"github.com/hupe1980/pivotgo/codec"
)

// ErrConcurrentModification is returned when a save lost against a writer
// that already advanced the stored checkpoint.
var ErrConcurrentModification = errors.New("concurrent checkpoint modification detected")

// Store implements checkpoint.Store on a Redis key.
type Store struct {
	client redis.UniversalClient
	key    string
	codec  codec.Codec
	ttl    time.Duration
}

// Options configures a Store.
type Options struct {
	// Key the checkpoint is stored under. Default "pivotgo:checkpoint".
	Key string
	// Codec encodes checkpoint payloads. Default codec.Default.
	Codec codec.Codec
	// TTL expires the checkpoint after inactivity. Zero means no expiry,
	// which is what long-lived indexers want.
	TTL time.Duration
}

// New creates a checkpoint store over the given Redis client.
func New(client redis.UniversalClient, optFns ...func(*Options)) *Store {
	opts := Options{
		Key:   "pivotgo:checkpoint",
		Codec: codec.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		client: client,
		key:    opts.Key,
		codec:  opts.Codec,
		ttl:    opts.TTL,
	}
}

// Load reads the stored checkpoint.
func (s *Store) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, checkpoint.ErrNoCheckpoint
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := s.codec.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Save stores the checkpoint, refusing to regress the sequence number.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := s.codec.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var existing checkpoint.Checkpoint
			if err := s.codec.Unmarshal(current, &existing); err == nil && existing.Seq >= cp.Seq {
				return ErrConcurrentModification
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, s.ttl)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, s.key); err != nil {
		if err == redis.TxFailedErr {
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

// Clear removes the stored checkpoint. The next indexer start begins from
// the start of data.
func (s *Store) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache keeps fetched mailbox messages in Redis so that re-running
// an investigation over the same mailboxes does not fetch every message
// from the provider again. Searches are never cached.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/forensics/internal/ingest"
	"github.com/bcem/forensics/internal/models"
)

const (
	// DefaultTTL is how long a fetched message is remembered. Message
	// metadata does not change once delivered, so this only bounds growth.
	DefaultTTL = 7 * 24 * time.Hour

	// keyPrefix namespaces cache keys in Redis.
	keyPrefix = "becf:msg:"
)

// Mailbox wraps a MailboxService with a Redis read-through cache.
type Mailbox struct {
	next ingest.MailboxService
	rdb  *redis.Client
	ttl  time.Duration
}

var _ ingest.MailboxService = (*Mailbox)(nil)

// NewMailbox creates a caching MailboxService. A zero ttl uses DefaultTTL.
func NewMailbox(next ingest.MailboxService, rdb *redis.Client, ttl time.Duration) *Mailbox {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mailbox{next: next, rdb: rdb, ttl: ttl}
}

// Search passes through to the wrapped service.
func (m *Mailbox) Search(ctx context.Context, mailbox, query string) ([]models.MessageRef, error) {
	return m.next.Search(ctx, mailbox, query)
}

// Fetch returns the cached message for ref, fetching and storing it on a
// miss. Failed fetches are not cached. Redis errors fall back to the
// wrapped service.
func (m *Mailbox) Fetch(ctx context.Context, ref models.MessageRef) (*models.RawMessage, error) {
	key := Key(ref)

	data, err := m.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var msg models.RawMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			return &msg, nil
		}
		slog.Warn("discarding corrupt cache entry", "key", key)
		m.rdb.Del(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("cache read failed", "key", key, "error", err)
	}

	msg, err := m.next.Fetch(ctx, ref)
	if err != nil || msg == nil || msg.FetchError != "" {
		return msg, err
	}

	if err := m.store(ctx, key, msg); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
	return msg, nil
}

func (m *Mailbox) store(ctx context.Context, key string, msg *models.RawMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	// SET NX: a concurrent fetch of the same message already stored it.
	if err := m.rdb.SetNX(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("cache SETNX: %w", err)
	}
	return nil
}

// Key returns the Redis key for a message reference.
func Key(ref models.MessageRef) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, ref.Provider, ref.Mailbox, ref.ID)
}

package match

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quietbit/arena/pkg/wire"
)

const (
	ttlQueue  = time.Hour
	ttlLedger = 7 * 24 * time.Hour
)

// Store keeps the waiting queues and the color-alternation ledger in
// Redis, so queued players survive a server restart.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyQueue(qk string) string      { return "mm:queue:" + qk }
func (s *Store) keyTicket(player string) string { return "mm:ticket:" + strings.TrimSpace(player) }
func (s *Store) keyLast(player string) string   { return "mm:last:" + strings.TrimSpace(player) }

// Enqueue appends a ticket to its queue. It returns false when the
// player already holds a ticket anywhere.
func (s *Store) Enqueue(ctx context.Context, t Ticket) (bool, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyTicket(t.PlayerID), raw, ttlQueue).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	qk := s.keyQueue(QueueKey(t.TimeControl, t.Mode))
	if err := s.rdb.RPush(ctx, qk, raw).Err(); err != nil {
		return false, err
	}
	_ = s.rdb.Expire(ctx, qk, ttlQueue).Err()
	return true, nil
}

// Requeue puts tickets back at the head of their queue, oldest first.
// Used when a pairing could not be completed.
func (s *Store) Requeue(ctx context.Context, tickets []Ticket) error {
	for i := len(tickets) - 1; i >= 0; i-- {
		t := tickets[i]
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := s.rdb.SetNX(ctx, s.keyTicket(t.PlayerID), raw, ttlQueue).Err(); err != nil {
			return err
		}
		qk := s.keyQueue(QueueKey(t.TimeControl, t.Mode))
		if err := s.rdb.LPush(ctx, qk, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// PopPair removes the two oldest tickets from a queue. It returns nil
// when fewer than two players are waiting.
func (s *Store) PopPair(ctx context.Context, queueKey string) ([]Ticket, error) {
	qk := s.keyQueue(queueKey)
	n, err := s.rdb.LLen(ctx, qk).Result()
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, nil
	}
	raws, err := s.rdb.LPopCount(ctx, qk, 2).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(raws))
	for _, raw := range raws {
		var t Ticket
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		_ = s.rdb.Del(ctx, s.keyTicket(t.PlayerID)).Err()
		out = append(out, t)
	}
	if len(out) != 2 {
		// A concurrent pop raced us; put whatever we got back.
		return nil, s.Requeue(ctx, out)
	}
	return out, nil
}

// QueueKeys lists every queue that currently exists, without the key
// prefix. Feeds the periodic pairing sweep.
func (s *Store) QueueKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, "mm:queue:*", 64).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, "mm:queue:"))
	}
	return out, nil
}

// Cancel removes a player's ticket. Cancelling a player who was
// already paired or never queued reports false with no error.
func (s *Store) Cancel(ctx context.Context, playerID string) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.keyTicket(playerID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return false, err
	}
	qk := s.keyQueue(QueueKey(t.TimeControl, t.Mode))
	removed, err := s.rdb.LRem(ctx, qk, 1, raw).Result()
	if err != nil {
		return false, err
	}
	_ = s.rdb.Del(ctx, s.keyTicket(playerID)).Err()
	return removed > 0, nil
}

// LastColor reports the color a player was assigned in their previous
// pairing, or empty when unknown.
func (s *Store) LastColor(ctx context.Context, playerID string) (wire.Color, error) {
	v, err := s.rdb.Get(ctx, s.keyLast(playerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return wire.Color(v), nil
}

// RecordColors updates the alternation ledger after a pairing.
func (s *Store) RecordColors(ctx context.Context, assignments map[string]wire.Color) error {
	for player, color := range assignments {
		if err := s.rdb.Set(ctx, s.keyLast(player), string(color), ttlLedger).Err(); err != nil {
			return err
		}
	}
	return nil
}

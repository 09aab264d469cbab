package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func seatKey(showtimeID, seat string) string {
	return "seat:" + showtimeID + ":" + seat
}

// LockSeats takes a short-lived SetNX lock per seat. It is a fast-path filter
// in front of the database transaction, not the source of truth. On a
// conflict, locks already taken in this call are dropped and the conflicting
// seat is returned.
func (c *Cache) LockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string, owner string, ttl time.Duration) (string, error) {
	taken := make([]string, 0, len(seats))
	for _, seat := range seats {
		res := c.client.SetNX(ctx, seatKey(showtimeID.String(), seat), owner, ttl)
		if err := res.Err(); err != nil {
			c.unlock(ctx, showtimeID.String(), taken)
			return "", err
		}
		if !res.Val() {
			c.unlock(ctx, showtimeID.String(), taken)
			return seat, nil
		}
		taken = append(taken, seat)
	}
	return "", nil
}

func (c *Cache) UnlockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) {
	c.unlock(ctx, showtimeID.String(), seats)
}

func (c *Cache) unlock(ctx context.Context, showtimeID string, seats []string) {
	if len(seats) == 0 {
		return
	}
	keys := make([]string, len(seats))
	for i, seat := range seats {
		keys[i] = seatKey(showtimeID, seat)
	}
	c.client.Del(ctx, keys...)
}

func snapshotKey(showtimeID string) string {
	return "snapshot:" + showtimeID
}

// GetSnapshot returns a cached seat snapshot, or nil on a miss.
func (c *Cache) GetSnapshot(ctx context.Context, showtimeID string) ([]byte, error) {
	val, err := c.client.Get(ctx, snapshotKey(showtimeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (c *Cache) SetSnapshot(ctx context.Context, showtimeID string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, snapshotKey(showtimeID), data, ttl).Err()
}

func (c *Cache) InvalidateSnapshot(ctx context.Context, showtimeID string) {
	c.client.Del(ctx, snapshotKey(showtimeID))
}

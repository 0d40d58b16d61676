// Package idgen mints 64-bit, roughly time-ordered identifiers without a
// network round-trip per id. Each process claims a worker slot once at
// startup through an atomic counter shared by all instances of a service.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	epoch          int64 = 1672531200000 // 2023-01-01 UTC in ms
	slotBits       uint8 = 10
	sequenceBits   uint8 = 12
	MaxSlots             = 1 << slotBits
	sequenceMask   int64 = -1 ^ (-1 << sequenceBits)
	slotShift            = sequenceBits
	timestampShift       = sequenceBits + slotBits
)

var (
	ErrSlotAllocation = errors.New("idgen: worker slot allocation failed")
	ErrInvalidSlot    = fmt.Errorf("idgen: slot must be between 0 and %d", MaxSlots-1)
)

// SlotCounter is a shared atomic counter.
type SlotCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisSlotCounter backs SlotCounter with INCR.
type RedisSlotCounter struct {
	client *redis.Client
}

func NewRedisSlotCounter(client *redis.Client) *RedisSlotCounter {
	return &RedisSlotCounter{client: client}
}

func (c *RedisSlotCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// SlotKey is the counter key shared by every instance of service.
func SlotKey(service string) string {
	return "idgen:slot:" + service
}

// AllocateSlot claims a worker slot for this process. It is the only network
// call the allocator makes; callers must refuse to start when it fails.
func AllocateSlot(ctx context.Context, counter SlotCounter, service string, capacity int) (int64, error) {
	if capacity <= 0 || capacity > MaxSlots {
		return 0, fmt.Errorf("%w: capacity %d out of range", ErrSlotAllocation, capacity)
	}
	if service == "" {
		return 0, fmt.Errorf("%w: service name is required", ErrSlotAllocation)
	}

	n, err := counter.Incr(ctx, SlotKey(service))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSlotAllocation, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: counter returned %d", ErrSlotAllocation, n)
	}

	return (n - 1) % int64(capacity), nil
}

// Generator composes ids as timestamp | slot | sequence.
type Generator struct {
	mu       sync.Mutex
	slot     int64
	lastMs   int64
	sequence int64
	now      func() time.Time
}

func NewGenerator(slot int64) (*Generator, error) {
	if slot < 0 || slot >= MaxSlots {
		return nil, ErrInvalidSlot
	}
	return &Generator{slot: slot, lastMs: -1, now: time.Now}, nil
}

// Slot returns the worker slot baked into every id.
func (g *Generator) Slot() int64 {
	return g.slot
}

// NextID never blocks on the clock. When the sequence overflows inside one
// millisecond, or the wall clock steps backwards, the generator advances its
// own notion of time instead, so ids stay strictly increasing per process.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() - epoch
	if ms > g.lastMs {
		g.lastMs = ms
		g.sequence = 0
	} else {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			g.lastMs++
		}
	}

	return (g.lastMs << timestampShift) | (g.slot << slotShift) | g.sequence
}

// Parts splits an id back into its components.
type Parts struct {
	Time     time.Time
	Slot     int64
	Sequence int64
}

func Decompose(id int64) Parts {
	return Parts{
		Time:     time.UnixMilli((id >> timestampShift) + epoch).UTC(),
		Slot:     (id >> slotShift) & (MaxSlots - 1),
		Sequence: id & sequenceMask,
	}
}

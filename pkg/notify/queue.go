package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RetryQueue holds messages whose delivery failed
type RetryQueue interface {
	Push(ctx context.Context, msg Message) error
	// Pop removes the oldest message. ok is false when the queue is empty.
	Pop(ctx context.Context) (msg Message, ok bool, err error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is a FIFO retry queue in process memory
type MemoryQueue struct {
	mu    sync.Mutex
	items []Message
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Message{}, false, nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// DefaultRedisKey is the list used by RedisQueue
const DefaultRedisKey = "admitflow:notify:retry"

// RedisQueue keeps the retry queue in a Redis list so it survives restarts
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue uses key, or DefaultRedisKey when key is empty
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// OpenRedisQueue parses a redis:// URL and checks the connection
func OpenRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url parse failed: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisQueue(client, ""), nil
}

// Close closes the underlying client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Push(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode retry message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push retry message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Message, bool, error) {
	payload, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("pop retry message: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, false, fmt.Errorf("decode retry message: %w", err)
	}
	return msg, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("retry queue length: %w", err)
	}
	return int(n), nil
}

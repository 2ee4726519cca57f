// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name for game action logs.
const DefaultQueueName = "magicmatch_actions"

// QueueName is the list actions are pushed to and popped from.
var QueueName = DefaultQueueName

// GameActionRecord holds the minimal info needed by the historian.
type GameActionRecord struct {
	GameID        uuid.UUID              `json:"game_id"`
	Generation    int                    `json:"generation"`
	ActionIndex   int                    `json:"action_index"`
	ActorUserID   uuid.UUID              `json:"actor_user_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client and verifies it with a ping.
func ConnectRedis(addr string, db int, queueName string) error {
	client, err := NewClient(addr, db)
	if err != nil {
		return err
	}
	Rdb = client
	if queueName != "" {
		QueueName = queueName
	}
	actions = NewActionPublisher(actionBuffer, PublishGameAction)
	return nil
}

// NewClient builds a Redis client and pings it.
func NewClient(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// PublishGameAction serializes the given record to JSON, then pushes it to the Redis queue.
func PublishGameAction(ctx context.Context, record GameActionRecord) error {
	if Rdb == nil {
		return errors.New("redis client not connected")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal GameActionRecord: %w", err)
	}
	if err := Rdb.RPush(ctx, QueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", QueueName, err)
	}
	return nil
}

// actionBuffer is how many records may wait for Redis before new ones are dropped.
const actionBuffer = 1024

// actions is the ordered publisher started by ConnectRedis.
var actions *ActionPublisher

// PublishGameActionAsync queues the record for the background publisher. It is
// a no-op when Redis is not connected, so games run without a historian.
func PublishGameActionAsync(record GameActionRecord) {
	if actions == nil {
		return
	}
	if !actions.Enqueue(record) {
		logrus.WithFields(logrus.Fields{
			"game":   record.GameID,
			"action": record.ActionIndex,
		}).Warn("action queue full or closed, dropping game action")
	}
}

// CloseRedis flushes queued actions and closes the global client.
func CloseRedis() {
	if actions != nil {
		actions.Close()
		actions = nil
	}
	if Rdb != nil {
		Rdb.Close()
		Rdb = nil
	}
}

// ActionPublisher pushes records from a single goroutine so they reach the
// queue in the order they were recorded.
type ActionPublisher struct {
	ch   chan GameActionRecord
	push func(ctx context.Context, rec GameActionRecord) error
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewActionPublisher starts a publisher that hands each record to push.
func NewActionPublisher(buffer int, push func(ctx context.Context, rec GameActionRecord) error) *ActionPublisher {
	p := &ActionPublisher{
		ch:   make(chan GameActionRecord, buffer),
		push: push,
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *ActionPublisher) run() {
	defer close(p.done)
	for rec := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.push(ctx, rec)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"game":   rec.GameID,
				"action": rec.ActionIndex,
			}).WithError(err).Warn("failed to publish game action")
		}
	}
}

// Enqueue queues rec without blocking. It reports false if the buffer is full
// or the publisher is closed.
func (p *ActionPublisher) Enqueue(rec GameActionRecord) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- rec:
		return true
	default:
		return false
	}
}

// Close stops accepting records and waits for queued ones to be pushed.
func (p *ActionPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	<-p.done
}

// Queue pops action records off a Redis list.
type Queue struct {
	Client *redis.Client
	Name   string
}

// Pop blocks for up to timeout waiting for the next record. It returns
// (nil, nil) when the wait times out with nothing queued.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*GameActionRecord, error) {
	res, err := q.Client.BLPop(ctx, timeout, q.Name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.Name, err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var record GameActionRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return nil, fmt.Errorf("invalid action record: %w", err)
	}
	return &record, nil
}

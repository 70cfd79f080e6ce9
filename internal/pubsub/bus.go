// Package pubsub implements the tenant-scoped broadcast channel from §6:
// "fsm:<tenant_id>" carries fsm_state_changed / fsm_created / fsm_destroyed
// messages. Backed by Redis when configured, with an in-memory fan-out
// fallback so the runtime works standalone in tests and single-node
// deployments — adapted from the teacher's RedisCache fallback pattern,
// generalized from a key/value cache to a pub/sub bus and wired to a real
// go-redis/v8 client instead of the teacher's locally-defined interface.
package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"statecraft/internal/logging"
)

// Message is the envelope carried on a tenant's topic.
type Message struct {
	Event   string         `json:"event"` // fsm_state_changed | fsm_created | fsm_destroyed
	Payload map[string]any `json:"payload"`
}

// Subscription is a live handle to a topic subscription. Close stops
// delivery and releases the underlying Redis or in-memory resources.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Bus publishes and subscribes to per-tenant topics, and separately to
// per-subscriber topics — §3's explicit subscriber lists, kept on their own
// namespace so a subscriber identifier never collides with a tenant_id.
// Navigate's step 10 delivers to both: the tenant-wide channel and every
// id in the transitioning instance's subscriber set.
type Bus interface {
	Publish(ctx context.Context, tenantID string, msg Message) error
	Subscribe(ctx context.Context, tenantID string) (Subscription, error)
	PublishToSubscriber(ctx context.Context, subscriberID string, msg Message) error
	SubscribeAsSubscriber(ctx context.Context, subscriberID string) (Subscription, error)
	Close() error
}

func topicFor(tenantID string) string {
	if tenantID == "" {
		tenantID = "no_tenant"
	}
	return "fsm:" + tenantID
}

// subscriberTopicFor namespaces explicit-subscriber delivery away from
// tenant-channel delivery, per §3/§4.4 step 10's "subscribers and the
// tenant pub/sub channel" being two distinct targets.
func subscriberTopicFor(subscriberID string) string {
	return "fsm:sub:" + subscriberID
}

// --- In-memory fallback ---

type memSub struct {
	ch     chan Message
	bus    *memoryBus
	topic  string
}

func (s *memSub) Channel() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.bus.unsubscribe(s.topic, s)
	return nil
}

// memoryBus fans messages out to every live subscriber of a topic,
// best-effort / fire-and-forget: a slow subscriber's channel is never
// allowed to block a publish.
type memoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

// NewMemoryBus builds a process-local Bus with no external dependency —
// the default when no Redis URL is configured.
func NewMemoryBus() Bus {
	return &memoryBus{subs: make(map[string][]*memSub)}
}

func (b *memoryBus) Publish(_ context.Context, tenantID string, msg Message) error {
	return b.publishTopic(topicFor(tenantID), msg)
}

func (b *memoryBus) Subscribe(_ context.Context, tenantID string) (Subscription, error) {
	return b.subscribeTopic(topicFor(tenantID)), nil
}

func (b *memoryBus) PublishToSubscriber(_ context.Context, subscriberID string, msg Message) error {
	return b.publishTopic(subscriberTopicFor(subscriberID), msg)
}

func (b *memoryBus) SubscribeAsSubscriber(_ context.Context, subscriberID string) (Subscription, error) {
	return b.subscribeTopic(subscriberTopicFor(subscriberID)), nil
}

func (b *memoryBus) publishTopic(topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		default:
			// Drop for slow subscribers — fire-and-forget per §4.6.
		}
	}
	return nil
}

func (b *memoryBus) subscribeTopic(topic string) Subscription {
	s := &memSub{ch: make(chan Message, 64), bus: b, topic: topic}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return s
}

func (b *memoryBus) unsubscribe(topic string, target *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*memSub)
	return nil
}

// --- Redis-backed implementation ---

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan Message
	done   chan struct{}
}

func (s *redisSub) Channel() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

// RedisBus publishes through a real go-redis/v8 client, so the bus works
// across processes/nodes sharing one Redis instance.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an already-configured go-redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, tenantID string, msg Message) error {
	return b.publishTopic(ctx, topicFor(tenantID), msg)
}

func (b *RedisBus) Subscribe(ctx context.Context, tenantID string) (Subscription, error) {
	return b.subscribeTopic(ctx, topicFor(tenantID))
}

func (b *RedisBus) PublishToSubscriber(ctx context.Context, subscriberID string, msg Message) error {
	return b.publishTopic(ctx, subscriberTopicFor(subscriberID), msg)
}

func (b *RedisBus) SubscribeAsSubscriber(ctx context.Context, subscriberID string) (Subscription, error) {
	return b.subscribeTopic(ctx, subscriberTopicFor(subscriberID))
}

func (b *RedisBus) publishTopic(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, data).Err()
}

func (b *RedisBus) subscribeTopic(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}

	sub := &redisSub{pubsub: ps, ch: make(chan Message, 64), done: make(chan struct{})}

	go func() {
		raw := ps.Channel()
		for {
			select {
			case <-sub.done:
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logging.L().Warn("pubsub: dropping undecodable message", zap.Error(err))
					continue
				}
				select {
				case sub.ch <- msg:
				default:
				}
			}
		}
	}()

	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

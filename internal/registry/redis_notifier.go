package registry

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
)

// RedisNotifier is a distributed Notifier backed by Redis PUBLISH/
// SUBSCRIBE, so a runner connecting against one queuer instance wakes the
// discovery passes running on every other instance sharing the same
// VMSSManager state.
type RedisNotifier struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	subs   []chan struct{}
	cancel context.CancelFunc
	closed bool
}

// NewRedisNotifier starts a background subscriber on channel and returns a
// ready-to-use Notifier. The subscription runs until Close is called.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &RedisNotifier{
		client:  client,
		channel: channel,
		cancel:  cancel,
	}
	n.run(ctx)
	return n
}

func (n *RedisNotifier) run(ctx context.Context) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	msgCh := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				n.broadcast()
			}
		}
	}()
}

func (n *RedisNotifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// NotifyConnect publishes a connect event for every subscribed instance,
// including this one (the local registry also subscribes).
func (n *RedisNotifier) NotifyConnect(machineName string) {
	if err := n.client.Publish(context.Background(), n.channel, machineName).Err(); err != nil {
		logging.Op().Warn("failed to publish runner-connect event", "error", err)
	}
}

func (n *RedisNotifier) SubscribeConnect() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch
	}
	n.subs = append(n.subs, ch)
	return ch
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.cancel()
	for _, ch := range n.subs {
		close(ch)
	}
	n.subs = nil
	return nil
}

var _ Notifier = (*RedisNotifier)(nil)

package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	jww "github.com/spf13/jwalterweatherman"
)

// RedisBroker relays events through Redis pub/sub so subscribers attached
// to any API node observe writes made on every other node. Local
// subscribers hang off an embedded Hub fed by a single PSUBSCRIBE pump.
type RedisBroker struct {
	client *redis.Client
	prefix string
	local  *Hub

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "testerhub:rt:"
	}
	return &RedisBroker{client: client, prefix: prefix, local: NewHub()}
}

var _ Broker = (*RedisBroker)(nil)

// Start subscribes to the channel pattern and runs the pump until ctx is
// done or Close is called.
func (b *RedisBroker) Start(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errors.Wrap(err, "redis broker: psubscribe")
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				topic := strings.TrimPrefix(msg.Channel, b.prefix)
				b.local.Dispatch(topic, []byte(msg.Payload))
			}
		}
	}()
	jww.INFO.Printf("[realtime] redis broker started pattern=%s*", b.prefix)
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+topic, payload).Err()
}

func (b *RedisBroker) Subscribe(topic string, h Handler) func() {
	return b.local.Subscribe(topic, h)
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.wg.Wait()
	return err
}

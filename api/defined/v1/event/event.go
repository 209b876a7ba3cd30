package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/maniartech/signals"
)

type Kind string

// TopicKey names a topic and pins its payload type.
type TopicKey[T any] struct {
	name Kind
}

func (t TopicKey[T]) Name() Kind {
	return t.name
}

func NewTopicKey[T any](name Kind) TopicKey[T] {
	return TopicKey[T]{name: name}
}

// Bus routes payloads from publishers to the listeners of a topic.
// Each controller owns its bus; nothing here is process-global.
type Bus struct {
	lock        sync.RWMutex
	subscribers map[Kind]*signals.AsyncSignal[any]
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Kind]*signals.AsyncSignal[any]),
	}
}

func (b *Bus) signal(name Kind) *signals.AsyncSignal[any] {
	b.lock.Lock()
	defer b.lock.Unlock()

	if sig, ok := b.subscribers[name]; ok {
		return sig
	}

	sig := signals.New[any]()
	b.subscribers[name] = sig
	return sig
}

// Topics lists the registered topic names.
func (b *Bus) Topics() []Kind {
	b.lock.RLock()
	defer b.lock.RUnlock()

	out := make([]Kind, 0, len(b.subscribers))
	for k := range b.subscribers {
		out = append(out, k)
	}
	return out
}

// NewPublish registers topic on bus and returns its emitter.
func NewPublish[T any](bus *Bus, topic TopicKey[T]) func(ctx context.Context, payload T) {
	sig := bus.signal(topic.Name())
	return func(ctx context.Context, payload T) {
		sig.Emit(ctx, payload)
	}
}

// Subscribe adds handler to topic, registering the topic when no
// publisher has done so yet.
func Subscribe[T any](bus *Bus, topic TopicKey[T], handler func(ctx context.Context, payload T)) error {
	if bus == nil {
		return fmt.Errorf("subscribe %s: nil bus", topic.Name())
	}

	sig := bus.signal(topic.Name())
	sig.AddListener(func(ctx context.Context, payload any) {
		if v, ok := payload.(T); ok {
			handler(ctx, v)
		}
	})
	return nil
}

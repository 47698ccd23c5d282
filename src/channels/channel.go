package channels

import (
	"sort"
	"sync"

	logger "github.com/sirupsen/logrus"
)

// Channel is a named conduit with a single ordered insertion point and a set
// of filtered consumers. One channel belongs to exactly one exchange
// instance.
type Channel struct {
	name       string
	exchangeID string

	mu        sync.Mutex
	consumers []*Consumer
	paused    bool
	stopped   bool
}

func newChannel(name, exchangeID string) *Channel {
	return &Channel{name: name, exchangeID: exchangeID}
}

func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) ExchangeID() string {
	return ch.exchangeID
}

// NewConsumer registers and starts a consumer. Queue size zero means
// unbounded; a positive size bounds the queue and applies backpressure to
// producers once full.
func (ch *Channel) NewConsumer(callback Callback, filter FilterSpec, priority Priority, queueSize int) *Consumer {
	consumer := newConsumer(callback, filter, priority, queueSize)

	ch.mu.Lock()
	ch.consumers = append(ch.consumers, consumer)
	// Keep delivery order stable: high before medium before low, then
	// registration order.
	sort.SliceStable(ch.consumers, func(i, j int) bool {
		return ch.consumers[i].priority > ch.consumers[j].priority
	})
	ch.mu.Unlock()

	go consumer.run()

	logger.WithFields(map[string]interface{}{
		"component":   "channels",
		"channel":     ch.name,
		"exchange_id": ch.exchangeID,
		"priority":    priority.String(),
	}).Debug("Consumer registered")

	return consumer
}

// RemoveConsumer stops the consumer and detaches it from the channel.
func (ch *Channel) RemoveConsumer(consumer *Consumer) {
	ch.mu.Lock()
	for i, c := range ch.consumers {
		if c == consumer {
			ch.consumers = append(ch.consumers[:i], ch.consumers[i+1:]...)
			break
		}
	}
	ch.mu.Unlock()
	consumer.stop()
}

// Pause marks the channel paused. Producers poll IsPaused and stop pushing.
func (ch *Channel) Pause() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.paused {
		ch.paused = true
		logger.WithFields(map[string]interface{}{
			"component":   "channels",
			"channel":     ch.name,
			"exchange_id": ch.exchangeID,
		}).Info("Channel paused")
	}
}

func (ch *Channel) Resume() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.paused = false
}

func (ch *Channel) IsPaused() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.paused
}

// ConsumerCount is used by the status endpoints.
func (ch *Channel) ConsumerCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.consumers)
}

// send routes an event to every consumer whose filter matches. It returns
// once every matched queue has accepted the item, so a full bounded queue
// suspends the producer.
func (ch *Channel) send(routing map[string]string, payload any) error {
	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		return ErrQueueClosed
	}
	matched := make([]*Consumer, 0, len(ch.consumers))
	for _, c := range ch.consumers {
		if c.filter.Matches(routing) {
			matched = append(matched, c)
		}
	}
	ch.mu.Unlock()

	event := Event{
		Channel:    ch.name,
		ExchangeID: ch.exchangeID,
		Routing:    routing,
		Payload:    payload,
	}
	for _, c := range matched {
		if err := c.queue.Push(event); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts delivery: consumer queues are closed, pending events drained,
// and the consumer list released.
func (ch *Channel) Stop() {
	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		return
	}
	ch.stopped = true
	consumers := ch.consumers
	ch.consumers = nil
	ch.mu.Unlock()

	for _, c := range consumers {
		c.stop()
	}

	logger.WithFields(map[string]interface{}{
		"component":   "channels",
		"channel":     ch.name,
		"exchange_id": ch.exchangeID,
	}).Info("Channel stopped")
}

// NewProducer binds a producer to the channel.
func (ch *Channel) NewProducer() *Producer {
	return &Producer{channel: ch}
}

// Producer is the emitting side of a channel. Events from a single producer
// reach each matched consumer in the order they were sent.
type Producer struct {
	channel *Channel
}

// Send publishes a payload under the given routing keys.
func (p *Producer) Send(routing map[string]string, payload any) error {
	return p.channel.send(routing, payload)
}

// Channel exposes the bound channel, mainly for pause checks.
func (p *Producer) Channel() *Channel {
	return p.channel
}

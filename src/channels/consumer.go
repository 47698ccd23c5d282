package channels

import (
	"sync"

	logger "github.com/sirupsen/logrus"
)

// Priority orders delivery when one Send matches several consumers.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Event is the unit delivered to consumers: the payload plus the routing
// keys it was published under.
type Event struct {
	Channel    string
	ExchangeID string
	Routing    map[string]string
	Payload    any
}

// Callback handles one event. Errors are logged, never fatal to the channel.
type Callback func(Event) error

// Consumer receives the subset of a channel's events matching its filter,
// in publication order, through its own queue and goroutine.
type Consumer struct {
	callback Callback
	priority Priority
	filter   FilterSpec
	queue    *eventQueue

	stopOnce sync.Once
	done     chan struct{}
}

func newConsumer(callback Callback, filter FilterSpec, priority Priority, queueSize int) *Consumer {
	return &Consumer{
		callback: callback,
		priority: priority,
		filter:   filter,
		queue:    newEventQueue(queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Priority() Priority {
	return c.priority
}

func (c *Consumer) QueueLen() int {
	return c.queue.Len()
}

// run drains the queue until it is closed, invoking the callback for each
// event. Runs in its own goroutine so per-consumer order is preserved.
func (c *Consumer) run() {
	defer close(c.done)
	for {
		event, ok := c.queue.Pop()
		if !ok {
			return
		}
		if err := c.callback(event); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "channels",
				"channel":   event.Channel,
			}).WithError(err).Error("Consumer callback failed")
		}
	}
}

// stop closes the queue and waits for pending events to be handled.
func (c *Consumer) stop() {
	c.stopOnce.Do(func() {
		c.queue.Close()
		<-c.done
	})
}

package channels

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateChannel = errors.New("channel already exists")
	ErrChannelNotFound  = errors.New("channel not found")
)

// Registry holds the channels of one exchange instance. It replaces the
// source's global channel container: every exchange manager owns its own
// registry and passes it down explicitly.
type Registry struct {
	exchangeID string

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry(exchangeID string) *Registry {
	return &Registry{
		exchangeID: exchangeID,
		channels:   make(map[string]*Channel),
	}
}

func (r *Registry) ExchangeID() string {
	return r.exchangeID
}

// CreateChannel registers a new channel under the given name.
func (r *Registry) CreateChannel(name string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[name]; exists {
		return nil, fmt.Errorf("%w: %s on exchange %s", ErrDuplicateChannel, name, r.exchangeID)
	}
	ch := newChannel(name, r.exchangeID)
	r.channels[name] = ch
	return ch, nil
}

// GetChannel fetches an existing channel.
func (r *Registry) GetChannel(name string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on exchange %s", ErrChannelNotFound, name, r.exchangeID)
	}
	return ch, nil
}

// ChannelNames lists registered channels, for introspection endpoints.
func (r *Registry) ChannelNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Channels snapshots the registered channels.
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// StopAll stops every channel and evicts the container.
func (r *Registry) StopAll() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Stop()
	}
}

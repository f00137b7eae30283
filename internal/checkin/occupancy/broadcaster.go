package occupancy

import (
	"context"
	"sync"

	"ms-checkin/internal/models"
)

// Publisher delivers occupancy updates to live observers.
type Publisher interface {
	Publish(ctx context.Context, update models.OccupancyUpdate) error
}

type venueKey struct {
	eventID string
	venueID string
}

// Broadcaster fans occupancy updates out to subscribers of an event. Each service
// graph owns its own instance.
type Broadcaster struct {
	// Subscriber channels per event ID
	clients     map[string][]chan models.OccupancyUpdate
	clientMutex sync.RWMutex

	// Highest occupancy emitted per (event, venue)
	highWater      map[venueKey]int
	highWaterMutex sync.Mutex

	bufferSize int
	onDrop     func(update models.OccupancyUpdate)
}

type Option func(*Broadcaster)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) { b.bufferSize = n }
}

// WithDropHandler is called whenever a slow subscriber misses an update.
func WithDropHandler(fn func(update models.OccupancyUpdate)) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clients:    make(map[string][]chan models.OccupancyUpdate),
		highWater:  make(map[venueKey]int),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a receiver for eventID. The channel is closed once ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, eventID string) <-chan models.OccupancyUpdate {
	clientChan := make(chan models.OccupancyUpdate, b.bufferSize)

	b.clientMutex.Lock()
	b.clients[eventID] = append(b.clients[eventID], clientChan)
	b.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		b.removeClient(eventID, clientChan)
	}()

	return clientChan
}

// Publish implements Publisher for single-instance deployments.
func (b *Broadcaster) Publish(_ context.Context, update models.OccupancyUpdate) error {
	b.Emit(update)
	return nil
}

// Emit clamps the update to the venue's high-water mark and delivers it to every
// subscriber of the event without blocking.
func (b *Broadcaster) Emit(update models.OccupancyUpdate) {
	update = b.clamp(update)

	// Sending under the read lock keeps removeClient from closing a channel mid-send.
	b.clientMutex.RLock()
	defer b.clientMutex.RUnlock()

	for _, clientChan := range b.clients[update.EventID] {
		select {
		case clientChan <- update:
		default:
			if b.onDrop != nil {
				b.onDrop(update)
			}
		}
	}
}

func (b *Broadcaster) clamp(update models.OccupancyUpdate) models.OccupancyUpdate {
	key := venueKey{eventID: update.EventID, venueID: update.VenueID}

	b.highWaterMutex.Lock()
	defer b.highWaterMutex.Unlock()

	if seen := b.highWater[key]; update.CurrentOccupancy < seen {
		update.CurrentOccupancy = seen
		update.OccupancyPercentage = models.OccupancyPercentage(seen, update.Capacity)
	} else {
		b.highWater[key] = update.CurrentOccupancy
	}
	return update
}

func (b *Broadcaster) removeClient(eventID string, clientChan chan models.OccupancyUpdate) {
	b.clientMutex.Lock()
	defer b.clientMutex.Unlock()

	clients := b.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			b.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(b.clients[eventID]) == 0 {
		delete(b.clients, eventID)
	}
}

// SubscriberCount returns the number of live subscribers for eventID.
func (b *Broadcaster) SubscriberCount(eventID string) int {
	b.clientMutex.RLock()
	defer b.clientMutex.RUnlock()
	return len(b.clients[eventID])
}

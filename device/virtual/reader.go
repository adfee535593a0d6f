package virtual

import (
	"context"
	"sync"

	"github.com/google/logger"
	"github.com/niclabs/cardmw/device"
)

// Events is an in-memory event source fed by virtual readers.
type Events struct {
	ch chan device.Event
}

// NewEvents returns an event source that buffers up to size events.
func NewEvents(size int) *Events {
	return &Events{ch: make(chan device.Event, size)}
}

// Wait blocks until a reader event happens or ctx is done.
func (e *Events) Wait(ctx context.Context) (device.Event, error) {
	select {
	case ev := <-e.ch:
		return ev, nil
	case <-ctx.Done():
		return device.Event{}, ctx.Err()
	}
}

func (e *Events) publish(ev device.Event) {
	if e == nil {
		return
	}
	select {
	case e.ch <- ev:
	default:
		logger.Warningf("event queue full, dropping event of reader %s", ev.Reader.Name())
	}
}

// Reader is a virtual card reader.
type Reader struct {
	name   string
	events *Events

	mu   sync.Mutex
	card *Card
}

// NewReader returns an empty reader publishing its changes to events,
// which may be nil.
func NewReader(name string, events *Events) *Reader {
	return &Reader{name: name, events: events}
}

func (r *Reader) Name() string {
	return r.name
}

func (r *Reader) CardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.card != nil, nil
}

// Connect returns the inserted card.
func (r *Reader) Connect() (device.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card == nil {
		return nil, device.ErrTokenNotPresent
	}
	return r.card, nil
}

// Insert puts card in the reader.
func (r *Reader) Insert(card *Card) {
	r.mu.Lock()
	r.card = card
	r.mu.Unlock()
	r.events.publish(device.Event{Reader: r, Kind: device.EventCardInserted})
}

// Remove takes the card out of the reader.
func (r *Reader) Remove() {
	r.mu.Lock()
	r.card = nil
	r.mu.Unlock()
	r.events.publish(device.Event{Reader: r, Kind: device.EventCardRemoved})
}

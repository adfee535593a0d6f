package devicetest

import (
	"context"
	"sync"

	"github.com/niclabs/cardmw/device"
)

// Reader is a reader whose card is set by the test. It counts presence
// probes so tests can check caching.
type Reader struct {
	name string

	mu       sync.Mutex
	card     device.Card
	probes   int
	probeErr error
}

// NewReader returns an empty reader.
func NewReader(name string) *Reader {
	return &Reader{name: name}
}

func (r *Reader) Name() string {
	return r.name
}

// SetCard inserts card, or removes the current one when card is nil.
func (r *Reader) SetCard(card device.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.card = card
}

// FailProbes makes CardPresent return err until it is called with nil.
func (r *Reader) FailProbes(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeErr = err
}

// Probes returns the number of CardPresent calls.
func (r *Reader) Probes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

func (r *Reader) CardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
	if r.probeErr != nil {
		return false, r.probeErr
	}
	return r.card != nil, nil
}

func (r *Reader) Connect() (device.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card == nil {
		return nil, device.ErrTokenNotPresent
	}
	return r.card, nil
}

// Readers is a mutable reader list.
type Readers struct {
	mu      sync.Mutex
	readers []device.Reader
}

// NewReaders returns a list holding readers.
func NewReaders(readers ...device.Reader) *Readers {
	return &Readers{readers: readers}
}

// Add appends r to the list.
func (l *Readers) Add(r device.Reader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readers = append(l.readers, r)
}

// Remove drops the reader named name.
func (l *Readers) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.readers {
		if r.Name() == name {
			l.readers = append(l.readers[:i:i], l.readers[i+1:]...)
			return
		}
	}
}

func (l *Readers) Readers() ([]device.Reader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]device.Reader(nil), l.readers...), nil
}

// Events is an unbuffered event source. Waiting is signalled on Waiting so
// tests can act once a waiter is blocked.
type Events struct {
	ch      chan device.Event
	Waiting chan struct{}
}

// NewEvents returns an event source with nothing pending.
func NewEvents() *Events {
	return &Events{
		ch:      make(chan device.Event),
		Waiting: make(chan struct{}, 16),
	}
}

// Send blocks until a waiter takes ev.
func (e *Events) Send(ev device.Event) {
	e.ch <- ev
}

func (e *Events) Wait(ctx context.Context) (device.Event, error) {
	select {
	case e.Waiting <- struct{}{}:
	default:
	}
	select {
	case ev := <-e.ch:
		return ev, nil
	case <-ctx.Done():
		return device.Event{}, ctx.Err()
	}
}

package device

import (
	"context"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/objects"
)

// Reader is a card reader. Connect returns the card currently inserted or
// an error with code CKR_TOKEN_NOT_PRESENT.
type Reader interface {
	Name() string
	CardPresent() (bool, error)
	Connect() (Card, error)
}

// EventKind tells what changed on a reader.
type EventKind int

const (
	EventCardInserted EventKind = iota + 1
	EventCardRemoved
	EventReaderAdded
	EventReaderRemoved
)

// Event is a reader state change.
type Event struct {
	Reader Reader
	Kind   EventKind
}

// EventSource delivers reader events. Wait blocks until an event arrives or
// ctx is done, in which case it returns ctx.Err().
type EventSource interface {
	Wait(ctx context.Context) (Event, error)
}

// ReaderProvider lists the readers known to the host. It is called on
// every slot list refresh.
type ReaderProvider interface {
	Readers() ([]Reader, error)
}

// StaticReaders is a fixed reader list.
type StaticReaders []Reader

// Readers returns the list.
func (s StaticReaders) Readers() ([]Reader, error) {
	return s, nil
}

// ErrTokenNotPresent is returned by readers without a card.
var ErrTokenNotPresent = objects.NewError("Reader.Connect", "token not present", pkcs11.CKR_TOKEN_NOT_PRESENT)

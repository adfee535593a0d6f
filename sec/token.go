// Package sec turns key operations into card command sequences: it builds
// the security environment of a key, negotiates what the card encodes,
// and runs select, set environment and execute under the card lock with a
// single retry after revalidating a cached PIN.
package sec

import (
	"sync"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

// Token binds a card to what the runtime needs to use its keys.
type Token struct {
	Card device.Card
	// AppDir is the application DF that 2-byte key paths are relative to.
	AppDir *objects.Path
	// Supported is the token info supported algorithm table.
	Supported objects.SupportedAlgorithms
	Pins      PinCache
}

// NewToken returns a token for card without application DF.
func NewToken(card device.Card, pins PinCache) *Token {
	return &Token{
		Card: card,
		Pins: pins,
	}
}

// PinCache revalidates the credential of a key after the card reported
// that the security status is not satisfied.
type PinCache interface {
	Revalidate(key *objects.KeyHandle) error
}

// CachedPIN keeps the last PIN that was verified on a card.
type CachedPIN struct {
	mu        sync.Mutex
	card      device.Card
	reference int
	pin       []byte
}

// NewCachedPIN returns an empty cache for the PIN with the given card
// reference.
func NewCachedPIN(card device.Card, reference int) *CachedPIN {
	return &CachedPIN{
		card:      card,
		reference: reference,
	}
}

// Store caches pin.
func (c *CachedPIN) Store(pin []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.pin)
	c.pin = append([]byte(nil), pin...)
}

// Clear forgets the cached PIN.
func (c *CachedPIN) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.pin)
	c.pin = nil
}

// Revalidate verifies the cached PIN again. It is called with the card
// lock held.
func (c *CachedPIN) Revalidate(key *objects.KeyHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pin == nil {
		return objects.NewError("CachedPIN.Revalidate", "no cached PIN", objects.SecurityStatusNotSatisfied)
	}
	verifier, ok := c.card.(device.PINVerifier)
	if !ok {
		return objects.NewError("CachedPIN.Revalidate", "card cannot verify PINs", objects.NotSupported)
	}
	return verifier.VerifyPIN(c.reference, c.pin)
}

// Reference returns the card reference of the PIN.
func (c *CachedPIN) Reference() int {
	return c.reference
}

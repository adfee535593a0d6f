// Package devicetest provides an instrumented device.Card for tests. The
// card records every call with its input, replays scripted errors and
// answers primitives with a copy of their input unless told otherwise.
package devicetest

import (
	"slices"
	"sync"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

// Call names recorded by Card.
const (
	CallLock       = "lock"
	CallUnlock     = "unlock"
	CallSelect     = "select"
	CallSetEnv     = "set_env"
	CallDecipher   = "decipher"
	CallSign       = "sign"
	CallWrap       = "wrap"
	CallUnwrap     = "unwrap"
	CallEncryptSym = "encrypt_sym"
	CallDecryptSym = "decrypt_sym"
	CallVerifyPIN  = "verify_pin"
	CallCancel     = "cancel"
)

// Handler answers a primitive.
type Handler func(in []byte) ([]byte, error)

// Card is a scripted card.
type Card struct {
	Caps device.Capabilities

	lock sync.Mutex

	mu       sync.Mutex
	calls    []string
	inputs   map[string][][]byte
	selected []objects.Path
	envs     []device.SecurityEnv
	errs     map[string][]error
	handlers map[string]Handler
	pins     [][]byte
}

// NewCard returns a card with the given capabilities.
func NewCard(caps ...device.AlgorithmInfo) *Card {
	c := &Card{
		inputs:   make(map[string][][]byte),
		errs:     make(map[string][]error),
		handlers: make(map[string]Handler),
	}
	for _, info := range caps {
		if err := c.Caps.Add(info); err != nil {
			panic(err)
		}
	}
	return c
}

// Fail queues errs for the next calls named call, one per call.
func (c *Card) Fail(call string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[call] = append(c.errs[call], errs...)
}

// Handle installs fn as the answer of the primitive named call.
func (c *Card) Handle(call string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[call] = fn
}

// Respond makes the primitive named call return a copy of out.
func (c *Card) Respond(call string, out []byte) {
	c.Handle(call, func([]byte) ([]byte, error) {
		return slices.Clone(out), nil
	})
}

// Calls returns the recorded call names in order.
func (c *Card) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// Count returns how many times call was made.
func (c *Card) Count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, name := range c.calls {
		if name == call {
			n++
		}
	}
	return n
}

// Inputs returns the inputs given to the primitive named call.
func (c *Card) Inputs(call string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.inputs[call])
}

// Selected returns the selected paths in order.
func (c *Card) Selected() []objects.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.selected)
}

// Envs returns snapshots of the pushed environments in order.
func (c *Card) Envs() []device.SecurityEnv {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.envs)
}

// LastEnv returns the last pushed environment.
func (c *Card) LastEnv() (device.SecurityEnv, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.envs) == 0 {
		return device.SecurityEnv{}, false
	}
	return c.envs[len(c.envs)-1], true
}

// PINs returns the PINs given to VerifyPIN.
func (c *Card) PINs() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pins)
}

func (c *Card) record(call string, in []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if in != nil {
		c.inputs[call] = append(c.inputs[call], slices.Clone(in))
	}
	if q := c.errs[call]; len(q) > 0 {
		c.errs[call] = q[1:]
		return q[0]
	}
	return nil
}

func (c *Card) primitive(call string, in []byte) ([]byte, error) {
	if err := c.record(call, in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	h := c.handlers[call]
	c.mu.Unlock()
	if h != nil {
		return h(in)
	}
	return slices.Clone(in), nil
}

func (c *Card) Lock() error {
	if err := c.record(CallLock, nil); err != nil {
		return err
	}
	c.lock.Lock()
	return nil
}

func (c *Card) Unlock() error {
	c.lock.Unlock()
	return c.record(CallUnlock, nil)
}

func (c *Card) SelectFile(path objects.Path) error {
	if err := c.record(CallSelect, nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = append(c.selected, path.Clone())
	return nil
}

func (c *Card) SetSecurityEnv(env *device.SecurityEnv) error {
	if err := c.record(CallSetEnv, nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, *env.Clone())
	return nil
}

func (c *Card) Decipher(in []byte) ([]byte, error) { return c.primitive(CallDecipher, in) }

func (c *Card) ComputeSignature(in []byte) ([]byte, error) { return c.primitive(CallSign, in) }

func (c *Card) Wrap(in []byte) ([]byte, error) { return c.primitive(CallWrap, in) }

func (c *Card) Unwrap(in []byte) ([]byte, error) { return c.primitive(CallUnwrap, in) }

func (c *Card) EncryptSym(in []byte) ([]byte, error) { return c.primitive(CallEncryptSym, in) }

func (c *Card) DecryptSym(in []byte) ([]byte, error) { return c.primitive(CallDecryptSym, in) }

func (c *Card) FindAlgorithm(alg device.Algorithm, keyLength int) (*device.AlgorithmInfo, bool) {
	return c.Caps.Find(alg, keyLength)
}

// VerifyPIN records pin. It does not take the card lock, the runtime calls
// it while holding it.
func (c *Card) VerifyPIN(reference int, pin []byte) error {
	if err := c.record(CallVerifyPIN, nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins = append(c.pins, slices.Clone(pin))
	return nil
}

// Cancel records the call.
func (c *Card) Cancel() {
	_ = c.record(CallCancel, nil)
}

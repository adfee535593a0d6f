// Package criptoki is the Cryptoki layer of the middleware: module
// lifecycle and locking, the slot and session registry, and the function
// tables handed to applications.
package criptoki

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
)

// Config is the criptoki section of the configuration.
type Config struct {
	ManufacturerID     string
	LibraryDescription string
	VersionMajor       uint8
	VersionMinor       uint8
	// SlotsPerReader is the number of slots created for each reader. The
	// card is bound to the first one.
	SlotsPerReader int
	// PINReference is the card reference of the user PIN.
	PINReference int
	// AppDir is the hex path of the application DF, if any.
	AppDir string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		ManufacturerID:     "NIC Chile Research Labs",
		LibraryDescription: "cardmw PKCS#11 middleware",
		VersionMajor:       1,
		VersionMinor:       0,
		SlotsPerReader:     4,
		PINReference:       1,
	}
}

// Option customizes a Module.
type Option func(*Module)

// WithPID replaces os.Getpid, used to detect forks.
func WithPID(getpid func() int) Option {
	return func(m *Module) { m.getpid = getpid }
}

// WithClock replaces time.Now, used by the slot info cache.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// Module is a Cryptoki module. Its state exists between a successful
// Initialize and the matching Finalize, and is dropped when the process id
// changes.
type Module struct {
	config  Config
	appDir  *objects.Path
	readers device.ReaderProvider
	events  device.EventSource
	getpid  func() int
	now     func() time.Time

	initMu  sync.Mutex
	nesting int
	state   atomic.Pointer[moduleState]

	tablesOnce sync.Once
	tables     []Interface
}

type moduleState struct {
	pid        int
	id         uuid.UUID
	locking    LockingStrategy
	lock       *moduleLock
	ctx        context.Context
	cancel     context.CancelFunc
	finalizing atomic.Bool

	slots       []*Slot
	sessions    map[uint]*Session
	nextSession uint
}

// New returns an uninitialized module that finds cards in the readers
// listed by readers. events may be nil if the host cannot report reader
// events.
func New(cfg Config, readers device.ReaderProvider, events device.EventSource, opts ...Option) (*Module, error) {
	if cfg.SlotsPerReader < 1 {
		cfg.SlotsPerReader = 1
	}
	m := &Module{
		config:  cfg,
		readers: readers,
		events:  events,
		getpid:  os.Getpid,
		now:     time.Now,
	}
	if cfg.AppDir != "" {
		p, err := objects.ParsePath(cfg.AppDir)
		if err != nil {
			return nil, err
		}
		m.appDir = &p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

var errNotInitialized = objects.NewError("criptoki", "cryptoki not initialized", pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED)

// logError logs err the way every entry point reports failures and returns
// it unchanged.
func logError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*objects.Error); ok {
		logger.Errorf("[%s] %s [Code %d]", e.Who, e.Description, int(e.Code))
	} else {
		logger.Errorf("[General error] %+v [Code %d]", err, int(objects.Code(err)))
	}
	return err
}

// checkFork drops the module state when the process id is not the one
// recorded at Initialize. The mutex of the parent is left alone.
func (m *Module) checkFork() {
	st := m.state.Load()
	if st == nil {
		return
	}
	pid := m.getpid()
	if pid == st.pid {
		return
	}
	if !m.state.CompareAndSwap(st, nil) {
		return
	}
	logger.Warningf("process id changed from %d to %d, finalizing module %s", st.pid, pid, st.id)
	st.teardown()
}

// acquire returns the module state with the module lock held.
func (m *Module) acquire() (*moduleState, error) {
	m.checkFork()
	st := m.state.Load()
	if st == nil {
		return nil, errNotInitialized
	}
	if err := st.lock.lock(); err != nil {
		return nil, err
	}
	if m.state.Load() != st {
		st.lock.unlock()
		return nil, errNotInitialized
	}
	return st, nil
}

func (st *moduleState) release() {
	st.lock.unlock()
}

// teardown cancels pending waits and card exchanges and drops every slot
// and session.
func (st *moduleState) teardown() {
	st.finalizing.Store(true)
	st.cancel()
	for _, slot := range st.slots {
		if c, ok := slot.card.(device.Canceller); ok {
			c.Cancel()
		}
		slot.unbind()
	}
	metrics.SessionsOpen.Sub(float64(len(st.sessions)))
	clear(st.sessions)
	st.slots = nil
}

// Initialize negotiates the locking strategy and detects the readers and
// cards present. A nested or concurrent call fails with CKR_GENERAL_ERROR
// and a call on an initialized module with
// CKR_CRYPTOKI_ALREADY_INITIALIZED.
func (m *Module) Initialize(args *InitArgs) error {
	const who = "Module.Initialize"
	m.checkFork()

	m.initMu.Lock()
	m.nesting++
	if m.nesting > 1 {
		m.nesting--
		m.initMu.Unlock()
		return logError(objects.NewError(who, "initialization in progress", pkcs11.CKR_GENERAL_ERROR))
	}
	m.initMu.Unlock()
	defer func() {
		m.initMu.Lock()
		m.nesting--
		m.initMu.Unlock()
	}()

	if st := m.state.Load(); st != nil {
		logger.Infof("module %s already initialized", st.id)
		return objects.NewError(who, "cryptoki already initialized", pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED)
	}

	strategy, lock, err := negotiateLocking(args)
	if err != nil {
		return logError(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &moduleState{
		pid:      m.getpid(),
		id:       uuid.New(),
		locking:  strategy,
		lock:     lock,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uint]*Session),
	}
	if err := lock.lock(); err != nil {
		cancel()
		lock.destroy()
		return logError(err)
	}
	m.detectAll(st)
	st.clearEvents()
	lock.unlock()

	m.state.Store(st)
	logger.Infof("module %s initialized with %s locking, %d slots", st.id, strategy, len(st.slots))
	return nil
}

// Finalize cancels pending slot event waits, removes every card and
// releases all slots, sessions and the module mutex.
func (m *Module) Finalize() error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	logger.Infof("finalizing module %s", st.id)
	m.state.CompareAndSwap(st, nil)
	st.teardown()
	st.lock.free()
	return nil
}

// Initialized reports whether the module has state for this process.
func (m *Module) Initialized() bool {
	m.checkFork()
	return m.state.Load() != nil
}

// Locking returns the negotiated locking strategy.
func (m *Module) Locking() (LockingStrategy, error) {
	st, err := m.acquire()
	if err != nil {
		return LockingNone, err
	}
	defer st.release()
	return st.locking, nil
}

// InstanceID identifies the current initialization of the module.
func (m *Module) InstanceID() (string, error) {
	st, err := m.acquire()
	if err != nil {
		return "", err
	}
	defer st.release()
	return st.id.String(), nil
}

// GetInfo returns the module information with Cryptoki version 3.0.
func (m *Module) GetInfo() (pkcs11.Info, error) {
	return m.info(pkcs11.Version{Major: 3, Minor: 0})
}

// GetInfoV2 returns the module information with Cryptoki version 2.20.
func (m *Module) GetInfoV2() (pkcs11.Info, error) {
	return m.info(pkcs11.Version{Major: 2, Minor: 20})
}

func (m *Module) info(version pkcs11.Version) (pkcs11.Info, error) {
	st, err := m.acquire()
	if err != nil {
		return pkcs11.Info{}, logError(err)
	}
	defer st.release()
	return pkcs11.Info{
		CryptokiVersion:    version,
		ManufacturerID:     m.config.ManufacturerID,
		LibraryDescription: m.config.LibraryDescription,
		LibraryVersion:     pkcs11.Version{Major: m.config.VersionMajor, Minor: m.config.VersionMinor},
	}, nil
}

package criptoki

import (
	"sync"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/objects"
)

// Mutex is an opaque mutex returned by InitArgs.CreateMutex.
type Mutex any

// InitArgs are the arguments of Initialize. The four mutex functions are
// either all set, meaning the caller supplies locking, or ignored.
type InitArgs struct {
	CreateMutex  func() (Mutex, error)
	DestroyMutex func(Mutex) error
	LockMutex    func(Mutex) error
	UnlockMutex  func(Mutex) error
	Flags        uint
	Reserved     any
}

func (a *InitArgs) callerLocking() bool {
	return a.CreateMutex != nil && a.DestroyMutex != nil && a.LockMutex != nil && a.UnlockMutex != nil
}

// LockingStrategy is the module locking negotiated at Initialize.
type LockingStrategy int

const (
	LockingNone LockingStrategy = iota
	LockingOS
	LockingCaller
)

func (s LockingStrategy) String() string {
	switch s {
	case LockingOS:
		return "os"
	case LockingCaller:
		return "caller"
	default:
		return "none"
	}
}

// osMutexes are the built-in mutex functions.
var osMutexes = InitArgs{
	CreateMutex:  func() (Mutex, error) { return new(sync.Mutex), nil },
	DestroyMutex: func(Mutex) error { return nil },
	LockMutex: func(m Mutex) error {
		m.(*sync.Mutex).Lock()
		return nil
	},
	UnlockMutex: func(m Mutex) error {
		m.(*sync.Mutex).Unlock()
		return nil
	},
}

// moduleLock is the global lock of an initialized module. A nil lock means
// no locking.
type moduleLock struct {
	funcs  *InitArgs
	handle Mutex
}

// negotiateLocking picks the locking strategy for args and creates the
// module mutex:
//
//	caller functions, OS locking ok     -> caller
//	no caller functions, OS locking ok  -> OS
//	caller functions, no OS locking     -> caller
//	neither                             -> OS
//
// nil args means the application is not threaded: no lock at all.
func negotiateLocking(args *InitArgs) (LockingStrategy, *moduleLock, error) {
	const who = "criptoki.negotiateLocking"
	if args == nil {
		return LockingNone, nil, nil
	}
	if args.Reserved != nil {
		return LockingNone, nil, objects.NewError(who, "reserved field must be nil", pkcs11.CKR_ARGUMENTS_BAD)
	}

	strategy, funcs := LockingOS, &osMutexes
	if args.callerLocking() {
		strategy, funcs = LockingCaller, args
	}
	handle, err := funcs.CreateMutex()
	if err != nil {
		return LockingNone, nil, objects.NewError(who, "cannot create mutex: "+err.Error(), objects.Code(err))
	}
	return strategy, &moduleLock{funcs: funcs, handle: handle}, nil
}

func (l *moduleLock) lock() error {
	if l == nil {
		return nil
	}
	if err := l.funcs.LockMutex(l.handle); err != nil {
		return objects.NewError("criptoki.lock", err.Error(), pkcs11.CKR_CANT_LOCK)
	}
	return nil
}

func (l *moduleLock) unlock() {
	if l == nil {
		return
	}
	if err := l.funcs.UnlockMutex(l.handle); err != nil {
		logger.Errorf("cannot unlock module mutex: %v", err)
	}
}

// free unlocks and destroys the mutex. The caller holds it.
func (l *moduleLock) free() {
	if l == nil {
		return
	}
	l.unlock()
	l.destroy()
}

// destroy releases a mutex nobody holds.
func (l *moduleLock) destroy() {
	if l == nil {
		return
	}
	if err := l.funcs.DestroyMutex(l.handle); err != nil {
		logger.Errorf("cannot destroy module mutex: %v", err)
	}
}

package criptoki

import (
	"context"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/objects"
)

// changedSlot refreshes every reader and returns the first slot whose state
// changed since the last call, clearing its mark.
func (m *Module) changedSlot(st *moduleState) *Slot {
	m.detectAll(st)
	for _, s := range st.slots {
		if s.changed {
			s.changed = false
			return s
		}
	}
	return nil
}

// clearEvents forgets the changes made by the initial detection.
func (st *moduleState) clearEvents() {
	for _, s := range st.slots {
		s.changed = false
	}
}

// WaitForSlotEvent returns the id of a slot whose card or reader changed.
// With CKF_DONT_BLOCK it fails with CKR_NO_EVENT when nothing changed;
// otherwise it waits for a reader event with the module lock released.
// Finalize ends the wait with CKR_CRYPTOKI_NOT_INITIALIZED and a done ctx
// with CKR_FUNCTION_CANCELED.
func (m *Module) WaitForSlotEvent(ctx context.Context, flags uint) (uint, error) {
	const who = "Module.WaitForSlotEvent"
	st, err := m.acquire()
	if err != nil {
		return 0, logError(err)
	}
	for {
		if s := m.changedSlot(st); s != nil {
			st.release()
			logger.Infof("event on slot %d", s.ID)
			return s.ID, nil
		}
		if flags&pkcs11.CKF_DONT_BLOCK != 0 {
			st.release()
			return 0, objects.NewError(who, "no slot event", pkcs11.CKR_NO_EVENT)
		}
		if m.events == nil {
			st.release()
			return 0, logError(objects.NewError(who, "reader events not available", objects.NotSupported))
		}
		st.release()

		if err := m.waitEvent(ctx, st); err != nil {
			return 0, logError(err)
		}

		next, err := m.acquire()
		if err != nil {
			return 0, logError(err)
		}
		if next != st {
			next.release()
			return 0, logError(errNotInitialized)
		}
	}
}

// waitEvent blocks until the event source reports an event, ctx is done or
// the module state st is finalized.
func (m *Module) waitEvent(ctx context.Context, st *moduleState) error {
	const who = "Module.WaitForSlotEvent"
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(st.ctx, cancel)
	defer stop()

	ev, err := m.events.Wait(waitCtx)
	if st.finalizing.Load() {
		return errNotInitialized
	}
	if err != nil {
		if ctx.Err() != nil {
			return objects.NewError(who, "wait canceled", pkcs11.CKR_FUNCTION_CANCELED)
		}
		return objects.NewError(who, "reader event wait failed: "+err.Error(), objects.DeviceError)
	}
	name := ""
	if ev.Reader != nil {
		name = ev.Reader.Name()
	}
	logger.Infof("reader event %d on %q", int(ev.Kind), name)
	return nil
}

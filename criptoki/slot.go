package criptoki

import (
	"slices"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/sec"
)

// slotInfoTTL is how long a slot presence probe is trusted.
const slotInfoTTL = time.Second

// KeyLister is implemented by cards that enumerate their keys.
type KeyLister interface {
	Keys() []*objects.KeyHandle
}

// AlgorithmLister is implemented by cards that expose their capability
// table.
type AlgorithmLister interface {
	Algorithms() []device.AlgorithmInfo
}

// SupportedAlgorithmsLister is implemented by cards whose token info
// carries a supported algorithm table.
type SupportedAlgorithmsLister interface {
	SupportedAlgorithms() objects.SupportedAlgorithms
}

type labeler interface {
	Label() string
}

type logouter interface {
	Logout()
}

// Slot is a reader position. A reader has one or more slots; the card in
// the reader is bound to the first of them.
type Slot struct {
	ID uint

	reader  device.Reader
	info    pkcs11.SlotInfo
	expires time.Time
	seen    bool
	changed bool

	card     device.Card
	token    *sec.Token
	pins     *sec.CachedPIN
	keys     []*objects.KeyHandle
	loggedIn bool
}

func (s *Slot) tokenPresent() bool {
	return s.info.Flags&pkcs11.CKF_TOKEN_PRESENT != 0
}

// bind attaches card to the slot.
func (m *Module) bind(s *Slot, card device.Card) {
	s.card = card
	s.pins = sec.NewCachedPIN(card, m.config.PINReference)
	s.token = sec.NewToken(card, s.pins)
	s.token.AppDir = m.appDir
	if l, ok := card.(SupportedAlgorithmsLister); ok {
		s.token.Supported = l.SupportedAlgorithms()
	}
	s.loadKeys()
	s.info.Flags |= pkcs11.CKF_TOKEN_PRESENT
	s.changed = true
	logger.Infof("card bound to slot %d with %d keys", s.ID, len(s.keys))
}

func (s *Slot) loadKeys() {
	s.keys = nil
	if l, ok := s.card.(KeyLister); ok {
		s.keys = l.Keys()
	}
}

// unbind forgets the card of the slot.
func (s *Slot) unbind() {
	if s.pins != nil {
		s.pins.Clear()
	}
	s.card = nil
	s.token = nil
	s.pins = nil
	s.keys = nil
	s.loggedIn = false
	s.info.Flags &^= pkcs11.CKF_TOKEN_PRESENT
}

// key returns the key with object handle h.
func (s *Slot) key(h uint) (*objects.KeyHandle, error) {
	if h == 0 || int(h) > len(s.keys) {
		return nil, objects.NewError("Slot.key", "object handle does not name a key", pkcs11.CKR_KEY_HANDLE_INVALID)
	}
	return s.keys[h-1], nil
}

func (m *Module) newSlot(st *moduleState, reader device.Reader) *Slot {
	s := &Slot{
		ID:     uint(len(st.slots)),
		reader: reader,
		info: pkcs11.SlotInfo{
			SlotDescription: reader.Name(),
			ManufacturerID:  m.config.ManufacturerID,
			Flags:           pkcs11.CKF_REMOVABLE_DEVICE | pkcs11.CKF_HW_SLOT,
			HardwareVersion: pkcs11.Version{Major: m.config.VersionMajor, Minor: m.config.VersionMinor},
			FirmwareVersion: pkcs11.Version{Major: m.config.VersionMajor, Minor: m.config.VersionMinor},
		},
		changed: true,
	}
	st.slots = append(st.slots, s)
	return s
}

// readerSlot returns the slot the card of reader is bound to.
func (st *moduleState) readerSlot(reader device.Reader) *Slot {
	for _, s := range st.slots {
		if s.reader != nil && s.reader.Name() == reader.Name() {
			return s
		}
	}
	return nil
}

// detectAll refreshes the reader list and the card of every reader. New
// readers get fresh slots, slots of vanished readers lose their reader.
// Detection errors are logged, not returned.
func (m *Module) detectAll(st *moduleState) {
	readers, err := m.readers.Readers()
	if err != nil {
		logger.Warningf("cannot list readers: %v", err)
		return
	}
	names := make(map[string]bool, len(readers))
	for _, r := range readers {
		names[r.Name()] = true
		if st.readerSlot(r) == nil {
			for range m.config.SlotsPerReader {
				m.newSlot(st, r)
			}
			logger.Infof("reader %q added", r.Name())
		}
	}
	for _, s := range st.slots {
		if s.reader != nil && !names[s.reader.Name()] {
			logger.Infof("reader %q removed", s.reader.Name())
			if s.card != nil {
				m.cardRemoved(st, s)
			}
			s.reader = nil
			s.changed = true
		}
	}
	for _, r := range readers {
		if err := m.detect(st, r); err != nil && !objects.HasCode(err, pkcs11.CKR_TOKEN_NOT_PRESENT) {
			logger.Warningf("card detection failed in reader %q: %v", r.Name(), err)
		}
	}
}

// detect probes reader and binds or unbinds its card. It returns an error
// with CKR_TOKEN_NOT_PRESENT when the reader is empty.
func (m *Module) detect(st *moduleState, reader device.Reader) error {
	const who = "Module.detect"
	s := st.readerSlot(reader)
	if s == nil {
		return objects.NewError(who, "reader has no slot", pkcs11.CKR_SLOT_ID_INVALID)
	}
	present, err := reader.CardPresent()
	if err != nil {
		return objects.NewError(who, err.Error(), pkcs11.CKR_DEVICE_ERROR)
	}
	if !present {
		if s.card != nil {
			m.cardRemoved(st, s)
		}
		return objects.NewError(who, "token not present", pkcs11.CKR_TOKEN_NOT_PRESENT)
	}
	if s.card != nil {
		return nil
	}
	card, err := reader.Connect()
	if err != nil {
		if objects.HasCode(err, pkcs11.CKR_TOKEN_NOT_PRESENT) {
			return err
		}
		return objects.NewError(who, "cannot connect to card: "+err.Error(), pkcs11.CKR_TOKEN_NOT_RECOGNIZED)
	}
	m.bind(s, card)
	return nil
}

// cardRemoved closes the sessions of s and unbinds its card.
func (m *Module) cardRemoved(st *moduleState, s *Slot) {
	logger.Infof("card removed from slot %d", s.ID)
	st.closeSlotSessions(s)
	s.unbind()
	s.changed = true
}

func (st *moduleState) slot(id uint) (*Slot, error) {
	if int(id) >= len(st.slots) {
		return nil, objects.NewError("Module.slot", "slot id out of range", pkcs11.CKR_SLOT_ID_INVALID)
	}
	return st.slots[id], nil
}

// tokenSlot returns slot id if a card is bound to it.
func (st *moduleState) tokenSlot(id uint) (*Slot, error) {
	s, err := st.slot(id)
	if err != nil {
		return nil, err
	}
	if s.card == nil {
		return nil, objects.NewError("Module.tokenSlot", "token not present", pkcs11.CKR_TOKEN_NOT_PRESENT)
	}
	return s, nil
}

// GetSlotList detects readers and cards and returns slot ids. Without
// tokenPresent the list holds the first slot of every reader, every slot
// with a token and every slot returned before; with it, only slots with a
// token.
func (m *Module) GetSlotList(tokenPresent bool) ([]uint, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	m.detectAll(st)

	var ids []uint
	var prev device.Reader
	for _, s := range st.slots {
		if (!tokenPresent && (s.reader != prev || s.seen)) || s.tokenPresent() {
			ids = append(ids, s.ID)
			s.seen = true
		}
		prev = s.reader
	}
	logger.Infof("returned %d slots", len(ids))
	return ids, nil
}

// GetSlotInfo returns the slot information. Card presence is probed again
// only when the last probe of the slot is older than one second.
func (m *Module) GetSlotInfo(id uint) (pkcs11.SlotInfo, error) {
	st, err := m.acquire()
	if err != nil {
		return pkcs11.SlotInfo{}, logError(err)
	}
	defer st.release()

	s, err := st.slot(id)
	if err != nil {
		return pkcs11.SlotInfo{}, logError(err)
	}
	if s.reader == nil {
		err = objects.NewError("Module.GetSlotInfo", "slot has no reader", pkcs11.CKR_TOKEN_NOT_PRESENT)
	} else if now := m.now(); !now.Before(s.expires) {
		err = m.detect(st, s.reader)
		bound := st.readerSlot(s.reader) == s
		if bound && (err == nil || objects.HasCode(err, pkcs11.CKR_TOKEN_NOT_RECOGNIZED)) {
			s.info.Flags |= pkcs11.CKF_TOKEN_PRESENT
		}
		s.expires = now.Add(slotInfoTTL)
	}
	switch objects.Code(err) {
	case pkcs11.CKR_OK, pkcs11.CKR_TOKEN_NOT_PRESENT, pkcs11.CKR_TOKEN_NOT_RECOGNIZED:
		return s.info, nil
	default:
		return pkcs11.SlotInfo{}, logError(err)
	}
}

// GetTokenInfo describes the card bound to slot id.
func (m *Module) GetTokenInfo(id uint) (pkcs11.TokenInfo, error) {
	st, err := m.acquire()
	if err != nil {
		return pkcs11.TokenInfo{}, logError(err)
	}
	defer st.release()

	s, err := st.tokenSlot(id)
	if err != nil {
		return pkcs11.TokenInfo{}, logError(err)
	}
	info := pkcs11.TokenInfo{
		ManufacturerID:  m.config.ManufacturerID,
		Model:           "cardmw",
		Flags:           pkcs11.CKF_TOKEN_INITIALIZED | pkcs11.CKF_USER_PIN_INITIALIZED | pkcs11.CKF_LOGIN_REQUIRED,
		HardwareVersion: s.info.HardwareVersion,
		FirmwareVersion: s.info.FirmwareVersion,
	}
	if l, ok := s.card.(labeler); ok {
		info.Label = l.Label()
	}
	for _, sess := range st.sessions {
		if sess.slot == s {
			info.SessionCount++
			if sess.flags&pkcs11.CKF_RW_SESSION != 0 {
				info.RwSessionCount++
			}
		}
	}
	return info, nil
}

// GetMechanismList returns the mechanisms the card in slot id can run.
func (m *Module) GetMechanismList(id uint) ([]uint, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, err := st.tokenSlot(id)
	if err != nil {
		return nil, logError(err)
	}
	l, ok := s.card.(AlgorithmLister)
	if !ok {
		return nil, nil
	}
	var mechs []uint
	for _, info := range l.Algorithms() {
		for _, mech := range mechanismsFor(info) {
			if !slices.Contains(mechs, mech) {
				mechs = append(mechs, mech)
			}
		}
	}
	slices.Sort(mechs)
	return mechs, nil
}

// InitToken initializes the card in slot id. It fails with
// CKR_SESSION_EXISTS while a session of the slot is open.
func (m *Module) InitToken(id uint, soPIN []byte, label string) error {
	const who = "Module.InitToken"
	if len(label) > 32 {
		label = label[:32]
	}
	label = strings.TrimRight(label, " ")

	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, err := st.tokenSlot(id)
	if err != nil {
		return logError(err)
	}
	initializer, ok := s.card.(device.TokenInitializer)
	if !ok {
		return logError(objects.NewError(who, "card cannot be initialized", objects.NotSupported))
	}
	for _, sess := range st.sessions {
		if sess.slot == s {
			return logError(objects.NewError(who, "a session is open on the token", pkcs11.CKR_SESSION_EXISTS))
		}
	}
	if err := initializer.InitToken(soPIN, label); err != nil {
		return logError(err)
	}
	s.pins.Clear()
	s.loggedIn = false
	s.loadKeys()
	logger.Infof("token in slot %d initialized with label %q", s.ID, label)
	return nil
}

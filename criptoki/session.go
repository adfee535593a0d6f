package criptoki

import (
	"bytes"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
)

// Cryptoki 3.0 values missing in pkcs11 v1.1.1.
const (
	ckkECEdwards    = 0x40
	ckkECMontgomery = 0x41
	ckfFindObjects  = 0x40
)

// Session is an open session of a slot. It holds at most one crypto
// operation and one object search.
type Session struct {
	Handle uint

	slot  *Slot
	flags uint

	op      *operation
	finding bool
	found   []uint
}

func (s *Session) readOnly() bool {
	return s.flags&pkcs11.CKF_RW_SESSION == 0
}

func (s *Session) state() uint {
	switch {
	case s.slot.loggedIn && s.readOnly():
		return pkcs11.CKS_RO_USER_FUNCTIONS
	case s.slot.loggedIn:
		return pkcs11.CKS_RW_USER_FUNCTIONS
	case s.readOnly():
		return pkcs11.CKS_RO_PUBLIC_SESSION
	default:
		return pkcs11.CKS_RW_PUBLIC_SESSION
	}
}

func (st *moduleState) session(h uint) (*Session, error) {
	s, ok := st.sessions[h]
	if !ok {
		return nil, objects.NewError("Module.session", "session handle not found", pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if s.slot.card == nil {
		return nil, objects.NewError("Module.session", "token removed", pkcs11.CKR_DEVICE_REMOVED)
	}
	return s, nil
}

func (st *moduleState) slotSessions(slot *Slot) int {
	n := 0
	for _, s := range st.sessions {
		if s.slot == slot {
			n++
		}
	}
	return n
}

func (st *moduleState) closeSession(s *Session) {
	delete(st.sessions, s.Handle)
	metrics.SessionsOpen.Dec()
	if st.slotSessions(s.slot) == 0 && s.slot.loggedIn {
		s.slot.logout()
	}
}

// closeSlotSessions closes every session of slot.
func (st *moduleState) closeSlotSessions(slot *Slot) {
	for _, s := range st.sessions {
		if s.slot == slot {
			st.closeSession(s)
		}
	}
}

// logout forgets the cached PIN and resets the card security status.
func (s *Slot) logout() {
	if s.pins != nil {
		s.pins.Clear()
	}
	if l, ok := s.card.(logouter); ok {
		l.Logout()
	}
	s.loggedIn = false
}

// OpenSession opens a session with the token in slot id. Only serial
// sessions exist.
func (m *Module) OpenSession(id uint, flags uint) (uint, error) {
	st, err := m.acquire()
	if err != nil {
		return 0, logError(err)
	}
	defer st.release()

	if flags&pkcs11.CKF_SERIAL_SESSION == 0 {
		return 0, logError(objects.NewError("Module.OpenSession", "parallel sessions are not supported", pkcs11.CKR_SESSION_PARALLEL_NOT_SUPPORTED))
	}
	slot, err := st.tokenSlot(id)
	if err != nil {
		return 0, logError(err)
	}
	st.nextSession++
	s := &Session{
		Handle: st.nextSession,
		slot:   slot,
		flags:  flags,
	}
	st.sessions[s.Handle] = s
	metrics.SessionsOpen.Inc()
	logger.Infof("session %d opened on slot %d", s.Handle, slot.ID)
	return s.Handle, nil
}

// CloseSession closes session h. Closing the last session of a slot logs
// the user out.
func (m *Module) CloseSession(h uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, ok := st.sessions[h]
	if !ok {
		return logError(objects.NewError("Module.CloseSession", "session handle not found", pkcs11.CKR_SESSION_HANDLE_INVALID))
	}
	st.closeSession(s)
	return nil
}

// CloseAllSessions closes every session of slot id.
func (m *Module) CloseAllSessions(id uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	slot, err := st.slot(id)
	if err != nil {
		return logError(err)
	}
	st.closeSlotSessions(slot)
	return nil
}

// GetSessionInfo describes session h.
func (m *Module) GetSessionInfo(h uint) (pkcs11.SessionInfo, error) {
	st, err := m.acquire()
	if err != nil {
		return pkcs11.SessionInfo{}, logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return pkcs11.SessionInfo{}, logError(err)
	}
	return pkcs11.SessionInfo{
		SlotID: s.slot.ID,
		State:  s.state(),
		Flags:  s.flags,
	}, nil
}

// Login verifies pin against the card and caches it for revalidation.
// Only the normal user and the context specific user exist.
func (m *Module) Login(h uint, userType uint, pin []byte) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()
	return logError(st.login(h, userType, pin))
}

// LoginUser is the Cryptoki 3.0 login. Cards have a single user, so the
// user name must be empty.
func (m *Module) LoginUser(h uint, userType uint, pin []byte, username string) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()
	if username != "" {
		return logError(objects.NewError("Module.LoginUser", "named users are not supported", pkcs11.CKR_USER_TYPE_INVALID))
	}
	return logError(st.login(h, userType, pin))
}

func (st *moduleState) login(h uint, userType uint, pin []byte) error {
	const who = "Module.Login"
	s, err := st.session(h)
	if err != nil {
		return err
	}
	slot := s.slot
	switch userType {
	case pkcs11.CKU_USER:
		if slot.loggedIn {
			return objects.NewError(who, "user already logged in", pkcs11.CKR_USER_ALREADY_LOGGED_IN)
		}
	case pkcs11.CKU_CONTEXT_SPECIFIC:
		if !slot.loggedIn {
			return objects.NewError(who, "user not logged in", pkcs11.CKR_USER_NOT_LOGGED_IN)
		}
	default:
		return objects.NewError(who, "user type not supported", pkcs11.CKR_USER_TYPE_INVALID)
	}
	verifier, ok := slot.card.(device.PINVerifier)
	if !ok {
		return objects.NewError(who, "card has no PIN", objects.NotSupported)
	}
	if err := slot.card.Lock(); err != nil {
		return err
	}
	err = verifier.VerifyPIN(slot.pins.Reference(), pin)
	slot.card.Unlock()
	if err != nil {
		logger.Warningf("PIN verification failed on slot %d: %v", slot.ID, err)
		return err
	}
	slot.pins.Store(pin)
	slot.loggedIn = true
	logger.Infof("user logged in on slot %d", slot.ID)
	return nil
}

// Logout logs the user out of the token of session h.
func (m *Module) Logout(h uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return logError(err)
	}
	if !s.slot.loggedIn {
		return logError(objects.NewError("Module.Logout", "user not logged in", pkcs11.CKR_USER_NOT_LOGGED_IN))
	}
	s.slot.logout()
	return nil
}

func keyClass(k *objects.KeyHandle) uint {
	switch k.Class {
	case objects.ClassPrivate:
		return pkcs11.CKO_PRIVATE_KEY
	case objects.ClassSecret:
		return pkcs11.CKO_SECRET_KEY
	case objects.ClassCertificate:
		return pkcs11.CKO_CERTIFICATE
	default:
		return pkcs11.CKO_PUBLIC_KEY
	}
}

func keyType(k *objects.KeyHandle) uint {
	switch k.Type {
	case objects.KeyRSA:
		return pkcs11.CKK_RSA
	case objects.KeyEC:
		return pkcs11.CKK_EC
	case objects.KeyEdDSA:
		return ckkECEdwards
	case objects.KeyXEdDSA:
		return ckkECMontgomery
	case objects.KeyGOST:
		return pkcs11.CKK_GOSTR3410
	case objects.KeyAES:
		return pkcs11.CKK_AES
	case objects.KeyDES:
		return pkcs11.CKK_DES
	case objects.Key3DES:
		return pkcs11.CKK_DES3
	default:
		return pkcs11.CKK_GENERIC_SECRET
	}
}

// keyAttribute returns attribute typ of k, or nil if keys do not have it.
func keyAttribute(k *objects.KeyHandle, typ uint) *pkcs11.Attribute {
	switch typ {
	case pkcs11.CKA_CLASS:
		return pkcs11.NewAttribute(typ, keyClass(k))
	case pkcs11.CKA_KEY_TYPE:
		return pkcs11.NewAttribute(typ, keyType(k))
	case pkcs11.CKA_LABEL:
		return pkcs11.NewAttribute(typ, k.Label)
	case pkcs11.CKA_ID:
		return pkcs11.NewAttribute(typ, k.Path.FileID().Value)
	case pkcs11.CKA_TOKEN, pkcs11.CKA_PRIVATE:
		return pkcs11.NewAttribute(typ, true)
	case pkcs11.CKA_SIGN:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageSign|objects.UsageNonRepudiation))
	case pkcs11.CKA_DECRYPT:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageDecrypt))
	case pkcs11.CKA_ENCRYPT:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageEncrypt))
	case pkcs11.CKA_WRAP:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageWrap))
	case pkcs11.CKA_UNWRAP:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageUnwrap))
	case pkcs11.CKA_DERIVE:
		return pkcs11.NewAttribute(typ, k.Usage.Has(objects.UsageDerive))
	case pkcs11.CKA_MODULUS_BITS:
		if k.Type == objects.KeyRSA {
			return pkcs11.NewAttribute(typ, uint(k.Size))
		}
	case pkcs11.CKA_VALUE_LEN:
		if k.IsSecret() {
			return pkcs11.NewAttribute(typ, uint(objects.BytesForBits(k.Size)))
		}
	}
	return nil
}

func matches(k *objects.KeyHandle, template []*pkcs11.Attribute) bool {
	for _, want := range template {
		got := keyAttribute(k, want.Type)
		if got == nil || !bytes.Equal(got.Value, want.Value) {
			return false
		}
	}
	return true
}

// FindObjectsInit starts a search for the keys matching template.
func (m *Module) FindObjectsInit(h uint, template []*pkcs11.Attribute) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return logError(err)
	}
	if s.finding {
		return logError(objects.NewError("Module.FindObjectsInit", "search already active", pkcs11.CKR_OPERATION_ACTIVE))
	}
	s.finding = true
	s.found = nil
	for i, k := range s.slot.keys {
		if k.Class == objects.ClassPrivate && !s.slot.loggedIn {
			continue
		}
		if matches(k, template) {
			s.found = append(s.found, uint(i+1))
		}
	}
	return nil
}

// FindObjects returns up to max handles of the active search.
func (m *Module) FindObjects(h uint, max int) ([]uint, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return nil, logError(err)
	}
	if !s.finding {
		return nil, logError(objects.NewError("Module.FindObjects", "no active search", pkcs11.CKR_OPERATION_NOT_INITIALIZED))
	}
	n := min(max, len(s.found))
	out := s.found[:n:n]
	s.found = s.found[n:]
	return out, nil
}

// FindObjectsFinal ends the active search.
func (m *Module) FindObjectsFinal(h uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return logError(err)
	}
	if !s.finding {
		return logError(objects.NewError("Module.FindObjectsFinal", "no active search", pkcs11.CKR_OPERATION_NOT_INITIALIZED))
	}
	s.finding = false
	s.found = nil
	return nil
}

// GetAttributeValue returns the attributes of key obj named by template.
// Attributes keys do not have fail with CKR_ATTRIBUTE_TYPE_INVALID.
func (m *Module) GetAttributeValue(h, obj uint, template []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return nil, logError(err)
	}
	k, err := s.slot.key(obj)
	if err != nil {
		return nil, logError(err)
	}
	out := make([]*pkcs11.Attribute, 0, len(template))
	for _, a := range template {
		got := keyAttribute(k, a.Type)
		if got == nil {
			return nil, logError(objects.NewError("Module.GetAttributeValue", "attribute not available", pkcs11.CKR_ATTRIBUTE_TYPE_INVALID))
		}
		out = append(out, got)
	}
	return out, nil
}

// SessionCancel aborts the operations of session h named by flags
// (CKF_SIGN, CKF_DECRYPT, CKF_ENCRYPT, CKF_FIND_OBJECTS).
func (m *Module) SessionCancel(h uint, flags uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, err := st.session(h)
	if err != nil {
		return logError(err)
	}
	if s.op != nil && flags&s.op.kind.flag() != 0 {
		s.end()
	}
	if flags&ckfFindObjects != 0 {
		s.finding = false
		s.found = nil
	}
	return nil
}

package criptoki

import (
	"hash"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
	"github.com/niclabs/cardmw/sec"
)

type opKind int

const (
	opSign opKind = iota + 1
	opDecrypt
	opEncrypt
)

// flag is the CKF_ bit SessionCancel uses for k.
func (k opKind) flag() uint {
	switch k {
	case opSign:
		return pkcs11.CKF_SIGN
	case opDecrypt:
		return pkcs11.CKF_DECRYPT
	default:
		return pkcs11.CKF_ENCRYPT
	}
}

// operation is the crypto operation active in a session. Multi-part input
// goes to hash when the mechanism hashes in software, to the card when
// the key is an AES key and to data otherwise.
type operation struct {
	kind  opKind
	mech  uint
	key   *objects.KeyHandle
	flags device.AlgFlags
	pss   *padding.PSSParams
	oaep  *pkcs11.OAEPParams
	iv    []byte
	hash  hash.Hash
	data  []byte
}

func (op *operation) symmetric() bool {
	return op.flags.Has(device.AESModes)
}

func (op *operation) zero() {
	clear(op.data)
	op.data = nil
}

// startOp resolves session h and key, and checks that no operation is
// active.
func (st *moduleState) startOp(who string, h, key uint) (*Session, *objects.KeyHandle, error) {
	s, err := st.session(h)
	if err != nil {
		return nil, nil, err
	}
	if s.op != nil {
		return nil, nil, objects.NewError(who, "operation already active", pkcs11.CKR_OPERATION_ACTIVE)
	}
	k, err := s.slot.key(key)
	if err != nil {
		return nil, nil, err
	}
	return s, k, nil
}

// activeOp returns the operation of kind running in session h.
func (st *moduleState) activeOp(who string, h uint, kind opKind) (*Session, *operation, error) {
	s, err := st.session(h)
	if err != nil {
		return nil, nil, err
	}
	if s.op == nil || s.op.kind != kind {
		return nil, nil, objects.NewError(who, "operation not initialized", pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	return s, s.op, nil
}

// end terminates the operation of s.
func (s *Session) end() {
	if s.op != nil {
		s.op.zero()
		s.op = nil
	}
}

func errKeyType(who string) error {
	return objects.NewError(who, "key type does not match the mechanism", pkcs11.CKR_KEY_TYPE_INCONSISTENT)
}

func errMechanism(who string) error {
	return objects.NewError(who, "mechanism not supported", pkcs11.CKR_MECHANISM_INVALID)
}

// SignInit starts a signature with key.
func (m *Module) SignInit(h uint, mech *Mechanism, key uint) error {
	const who = "Module.SignInit"
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	s, k, err := st.startOp(who, h, key)
	if err != nil {
		return logError(err)
	}
	spec, ok := signMechanisms[mech.Type]
	if !ok {
		return logError(errMechanism(who))
	}
	if spec.alg != keyAlgorithm(k) || !k.IsPrivate() {
		return logError(errKeyType(who))
	}
	flags, pss, err := signFlags(mech, spec)
	if err != nil {
		return logError(err)
	}
	op := &operation{kind: opSign, mech: mech.Type, key: k, flags: flags, pss: pss}
	if spec.hash != 0 {
		op.hash = spec.hash.New()
	}
	s.op = op
	return nil
}

func (op *operation) update(data []byte) {
	if op.hash != nil {
		op.hash.Write(data)
		return
	}
	op.data = append(op.data, data...)
}

// Sign signs data in a single part.
func (m *Module) Sign(h uint, data []byte) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, op, err := st.activeOp("Module.Sign", h, opSign)
	if err != nil {
		return nil, logError(err)
	}
	defer s.end()
	op.update(data)
	return logResult(s.sign(op))
}

// SignUpdate feeds data into the active signature.
func (m *Module) SignUpdate(h uint, data []byte) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()

	_, op, err := st.activeOp("Module.SignUpdate", h, opSign)
	if err != nil {
		return logError(err)
	}
	op.update(data)
	return nil
}

// SignFinal returns the signature of the data fed so far.
func (m *Module) SignFinal(h uint) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, op, err := st.activeOp("Module.SignFinal", h, opSign)
	if err != nil {
		return nil, logError(err)
	}
	defer s.end()
	return logResult(s.sign(op))
}

func (s *Session) sign(op *operation) ([]byte, error) {
	in := op.data
	if op.hash != nil {
		in = op.hash.Sum(nil)
	}
	n, err := sec.SignatureLen(op.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	n, err = s.slot.token.Sign(op.key, op.flags, in, out, op.pss)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func logResult(out []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, logError(err)
	}
	return out, nil
}

// logDecryptResult is logResult for decryptions. Padding failures are
// returned without a log line so they cost the same as a success.
func logDecryptResult(out []byte, err error) ([]byte, error) {
	if objects.HasCode(err, objects.DecryptionFailed) {
		return nil, err
	}
	return logResult(out, err)
}

// cipherInit starts a decryption or encryption with key.
func (st *moduleState) cipherInit(who string, kind opKind, h uint, mech *Mechanism, key uint) error {
	s, k, err := st.startOp(who, h, key)
	if err != nil {
		return err
	}
	op := &operation{kind: kind, mech: mech.Type, key: k}
	if spec, ok := aesMechanisms[mech.Type]; ok {
		if keyAlgorithm(k) != spec.alg {
			return errKeyType(who)
		}
		if op.iv, err = ivOf(mech, spec); err != nil {
			return err
		}
		op.flags = spec.flags
		if _, err := s.symStep(op, sec.SymRequest{IV: op.iv, Init: true}); err != nil {
			return err
		}
		s.op = op
		return nil
	}

	spec, ok := rsaCipherMechanisms[mech.Type]
	if !ok || kind != opDecrypt {
		return errMechanism(who)
	}
	if keyAlgorithm(k) != spec.alg || !k.IsPrivate() {
		return errKeyType(who)
	}
	op.flags = spec.flags
	if mech.Type == pkcs11.CKM_RSA_PKCS_OAEP {
		if op.flags, err = oaepFlags(mech.OAEP); err != nil {
			return err
		}
		op.oaep = mech.OAEP
	}
	s.op = op
	return nil
}

// symStep runs one step of the symmetric operation op.
func (s *Session) symStep(op *operation, req sec.SymRequest) ([]byte, error) {
	req.IV = op.iv
	if op.kind == opEncrypt {
		return s.slot.token.EncryptSym(op.key, op.flags, req)
	}
	return s.slot.token.DecryptSym(op.key, op.flags, req)
}

// cipherUpdate processes data. Symmetric operations stream data through
// the card; RSA decryption buffers it until the final call.
func (s *Session) cipherUpdate(op *operation, data []byte) ([]byte, error) {
	if !op.symmetric() {
		op.data = append(op.data, data...)
		return nil, nil
	}
	if len(data) == 0 {
		return nil, nil
	}
	return s.symStep(op, sec.SymRequest{In: data})
}

func (s *Session) cipherFinal(op *operation) ([]byte, error) {
	if op.symmetric() {
		return s.symStep(op, sec.SymRequest{})
	}
	out := make([]byte, objects.BytesForBits(op.key.Size))
	n, err := s.slot.token.Decipher(op.key, op.flags, op.data, out, op.oaep)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func (st *moduleState) cipher(who string, kind opKind, h uint, data []byte) ([]byte, error) {
	s, op, err := st.activeOp(who, h, kind)
	if err != nil {
		return nil, err
	}
	defer s.end()
	out, err := s.cipherUpdate(op, data)
	if err != nil {
		return nil, err
	}
	rest, err := s.cipherFinal(op)
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}

func (st *moduleState) update(who string, kind opKind, h uint, data []byte) ([]byte, error) {
	s, op, err := st.activeOp(who, h, kind)
	if err != nil {
		return nil, err
	}
	out, err := s.cipherUpdate(op, data)
	if err != nil {
		s.end()
		return nil, err
	}
	return out, nil
}

func (st *moduleState) final(who string, kind opKind, h uint) ([]byte, error) {
	s, op, err := st.activeOp(who, h, kind)
	if err != nil {
		return nil, err
	}
	defer s.end()
	return s.cipherFinal(op)
}

// DecryptInit starts a decryption with key. AES mechanisms select the key
// on the card right away.
func (m *Module) DecryptInit(h uint, mech *Mechanism, key uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()
	return logError(st.cipherInit("Module.DecryptInit", opDecrypt, h, mech, key))
}

// Decrypt decrypts data in a single part.
func (m *Module) Decrypt(h uint, data []byte) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logDecryptResult(st.cipher("Module.Decrypt", opDecrypt, h, data))
}

// DecryptUpdate feeds data into the active decryption.
func (m *Module) DecryptUpdate(h uint, data []byte) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logDecryptResult(st.update("Module.DecryptUpdate", opDecrypt, h, data))
}

// DecryptFinal ends the active decryption.
func (m *Module) DecryptFinal(h uint) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logDecryptResult(st.final("Module.DecryptFinal", opDecrypt, h))
}

// EncryptInit starts an AES encryption with key.
func (m *Module) EncryptInit(h uint, mech *Mechanism, key uint) error {
	st, err := m.acquire()
	if err != nil {
		return logError(err)
	}
	defer st.release()
	return logError(st.cipherInit("Module.EncryptInit", opEncrypt, h, mech, key))
}

// Encrypt encrypts data in a single part.
func (m *Module) Encrypt(h uint, data []byte) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logResult(st.cipher("Module.Encrypt", opEncrypt, h, data))
}

// EncryptUpdate feeds data into the active encryption.
func (m *Module) EncryptUpdate(h uint, data []byte) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logResult(st.update("Module.EncryptUpdate", opEncrypt, h, data))
}

// EncryptFinal ends the active encryption.
func (m *Module) EncryptFinal(h uint) ([]byte, error) {
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()
	return logResult(st.final("Module.EncryptFinal", opEncrypt, h))
}

// DeriveKey runs an ECDH1 key agreement with key and returns the shared
// secret. Only the null key derivation function is supported.
func (m *Module) DeriveKey(h uint, mech *Mechanism, key uint) ([]byte, error) {
	const who = "Module.DeriveKey"
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, k, err := st.startOp(who, h, key)
	if err != nil {
		return nil, logError(err)
	}
	if mech.Type != pkcs11.CKM_ECDH1_DERIVE {
		return nil, logError(errMechanism(who))
	}
	if mech.ECDH == nil || len(mech.ECDH.PublicKeyData) == 0 {
		return nil, logError(errMechanismParam(who, "peer public key required"))
	}
	if mech.ECDH.KDF != pkcs11.CKD_NULL {
		return nil, logError(errMechanismParam(who, "key derivation function not supported"))
	}
	var flags device.AlgFlags
	for _, spec := range deriveMechanisms {
		if spec.alg == keyAlgorithm(k) {
			flags = spec.flags
		}
	}
	if flags == 0 {
		return nil, logError(errKeyType(who))
	}

	_, required, err := s.slot.token.Derive(k, flags, mech.ECDH.PublicKeyData, nil)
	if err != nil {
		return nil, logError(err)
	}
	out := make([]byte, required)
	n, _, err := s.slot.token.Derive(k, flags, mech.ECDH.PublicKeyData, out)
	if err != nil {
		return nil, logError(err)
	}
	return out[:n], nil
}

// wrapFlags returns the flags and IV of a wrapping mechanism for key.
func wrapFlags(who string, mech *Mechanism, key *objects.KeyHandle) (device.AlgFlags, []byte, error) {
	if spec, ok := aesMechanisms[mech.Type]; ok {
		if keyAlgorithm(key) != spec.alg {
			return 0, nil, errKeyType(who)
		}
		iv, err := ivOf(mech, spec)
		return spec.flags, iv, err
	}
	if mech.Type == pkcs11.CKM_RSA_PKCS {
		if key.Type != objects.KeyRSA {
			return 0, nil, errKeyType(who)
		}
		return device.RSAPadPKCS1Type02, nil, nil
	}
	return 0, nil, errMechanism(who)
}

// WrapKey exports key encrypted under wrapping.
func (m *Module) WrapKey(h uint, mech *Mechanism, wrapping, key uint) ([]byte, error) {
	const who = "Module.WrapKey"
	st, err := m.acquire()
	if err != nil {
		return nil, logError(err)
	}
	defer st.release()

	s, wk, err := st.startOp(who, h, wrapping)
	if err != nil {
		return nil, logError(err)
	}
	target, err := s.slot.key(key)
	if err != nil {
		return nil, logError(err)
	}
	flags, iv, err := wrapFlags(who, mech, wk)
	if err != nil {
		return nil, logError(err)
	}
	out, err := s.slot.token.WrapKey(wk, target, flags, iv)
	if err != nil {
		return nil, logError(err)
	}
	return out, nil
}

// UnwrapKey imports wrapped with unwrapping as an AES key. The CKA_ID of
// template is the file of the new key: a 2-byte id under the application
// DF or a full path. The handle of the new key is returned.
func (m *Module) UnwrapKey(h uint, mech *Mechanism, unwrapping uint, wrapped []byte, template []*pkcs11.Attribute) (uint, error) {
	const who = "Module.UnwrapKey"
	st, err := m.acquire()
	if err != nil {
		return 0, logError(err)
	}
	defer st.release()

	s, uk, err := st.startOp(who, h, unwrapping)
	if err != nil {
		return 0, logError(err)
	}
	var id []byte
	for _, a := range template {
		switch a.Type {
		case pkcs11.CKA_ID:
			id = a.Value
		case pkcs11.CKA_KEY_TYPE:
			if !matches(&objects.KeyHandle{Class: objects.ClassSecret, Type: objects.KeyAES}, []*pkcs11.Attribute{a}) {
				return 0, logError(objects.NewError(who, "only AES keys can be unwrapped", pkcs11.CKR_TEMPLATE_INCONSISTENT))
			}
		}
	}
	if len(id) < objects.FileIDLen {
		return 0, logError(objects.NewError(who, "CKA_ID must name the key file", pkcs11.CKR_TEMPLATE_INCOMPLETE))
	}
	flags, iv, err := wrapFlags(who, mech, uk)
	if err != nil {
		return 0, logError(err)
	}
	target := &objects.KeyHandle{
		Class: objects.ClassSecret,
		Type:  objects.KeyAES,
		Path:  objects.NewPath(id...),
	}
	if err := s.slot.token.Unwrap(uk, target, flags, wrapped, iv); err != nil {
		return 0, logError(err)
	}

	s.slot.loadKeys()
	fid := target.Path.FileID()
	for i, k := range s.slot.keys {
		if k.IsSecret() && k.Path.FileID().Equals(fid) {
			logger.Infof("key unwrapped into %s on slot %d", k.Path, s.slot.ID)
			return uint(i + 1), nil
		}
	}
	return 0, logError(objects.NewError(who, "unwrapped key not found on the token", objects.Internal))
}

// Package virtual implements a software card. Keys live in memory, PIN
// verification gates every key operation and the card answers the same
// command sequence a physical token does.
package virtual

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"sync"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// UserPIN is the reference of the user PIN.
const UserPIN = 1

const rsaFlags = device.RSARaw | device.RSAPadPKCS1Type01 | device.RSAPadPKCS1Type02 |
	device.RSAHashNone | device.RSAHashSHA1 | device.RSAHashSHA224 | device.RSAHashSHA256 |
	device.RSAHashSHA384 | device.RSAHashSHA512

const ecFlags = device.ECDSARaw | device.ECDSAHashNone | device.ECDSAHashSHA1 | device.ECDSAHashSHA224 |
	device.ECDSAHashSHA256 | device.ECDSAHashSHA384 | device.ECDSAHashSHA512 | device.ECDHCDHRaw

// Capabilities returns the capability table of a virtual card.
func Capabilities() []device.AlgorithmInfo {
	var caps []device.AlgorithmInfo
	for _, bits := range []int{512, 1024, 2048, 3072, 4096} {
		caps = append(caps, device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: bits, Flags: rsaFlags})
	}
	for _, bits := range []int{256, 384, 521} {
		caps = append(caps, device.AlgorithmInfo{Algorithm: device.AlgorithmEC, KeyLength: bits, Flags: ecFlags})
	}
	caps = append(caps,
		device.AlgorithmInfo{Algorithm: device.AlgorithmEdDSA, KeyLength: 255, Flags: device.EdDSARaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmXEdDSA, KeyLength: 255, Flags: device.XEdDSARaw},
	)
	for _, bits := range []int{128, 192, 256} {
		caps = append(caps, device.AlgorithmInfo{
			Algorithm: device.AlgorithmAES,
			KeyLength: bits,
			Flags:     device.AESECB | device.AESCBC | device.AESCBCPad,
		})
	}
	return caps
}

// Card is a software card.
type Card struct {
	Serial string

	lock sync.Mutex

	mu       sync.Mutex
	caps     device.Capabilities
	label    string
	userPIN  []byte
	soPIN    []byte
	loggedIn bool
	files    map[string]*material
	refs     map[int]string
	nextRef  int
	selected string
	env      *device.SecurityEnv
	key      *material
	stream   *symStream
}

// New returns an empty card.
func New(label string, userPIN, soPIN []byte) *Card {
	c := &Card{
		Serial:  uuid.NewString(),
		label:   label,
		userPIN: bytes.Clone(userPIN),
		soPIN:   bytes.Clone(soPIN),
		files:   make(map[string]*material),
		refs:    make(map[int]string),
	}
	for _, info := range Capabilities() {
		if err := c.caps.Add(info); err != nil {
			panic(err)
		}
	}
	return c
}

func errFileNotFound(p objects.Path) error {
	return objects.NewError("virtual.SelectFile", "file "+p.String()+" not found", pkcs11.CKR_KEY_HANDLE_INVALID)
}

func errNotInitialized(who string) error {
	return objects.NewError(who, "security environment not set", pkcs11.CKR_OPERATION_NOT_INITIALIZED)
}

// Label returns the token label.
func (c *Card) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

func (c *Card) Lock() error {
	c.lock.Lock()
	return nil
}

func (c *Card) Unlock() error {
	c.lock.Unlock()
	return nil
}

// VerifyPIN logs the user in.
func (c *Card) VerifyPIN(reference int, pin []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reference != UserPIN {
		return objects.NewError("virtual.VerifyPIN", "unknown PIN reference", pkcs11.CKR_ARGUMENTS_BAD)
	}
	if !bytes.Equal(pin, c.userPIN) {
		c.loggedIn = false
		return objects.NewError("virtual.VerifyPIN", "wrong PIN", pkcs11.CKR_PIN_INCORRECT)
	}
	c.loggedIn = true
	return nil
}

// Logout drops the verified state, as a card reset would.
func (c *Card) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = false
}

// LoggedIn reports whether the user PIN was verified.
func (c *Card) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// InitToken erases every key and sets a new label.
func (c *Card) InitToken(soPIN []byte, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !bytes.Equal(soPIN, c.soPIN) {
		return objects.NewError("virtual.InitToken", "wrong SO PIN", pkcs11.CKR_PIN_INCORRECT)
	}
	for _, m := range c.files {
		m.zero()
	}
	c.files = make(map[string]*material)
	c.refs = make(map[int]string)
	c.label = label
	c.loggedIn = false
	c.resetLocked()
	logger.Infof("virtual card %s initialized with label %q", c.Serial, label)
	return nil
}

// Cancel aborts the symmetric operation in progress.
func (c *Card) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Card) resetLocked() {
	c.selected = ""
	c.env = nil
	c.key = nil
	if c.stream != nil {
		c.stream.zero()
		c.stream = nil
	}
}

func (c *Card) FindAlgorithm(alg device.Algorithm, keyLength int) (*device.AlgorithmInfo, bool) {
	return c.caps.Find(alg, keyLength)
}

// Algorithms returns the capability table.
func (c *Card) Algorithms() []device.AlgorithmInfo {
	return c.caps.All()
}

// SupportedAlgorithms returns the token info table of the card, with the
// references it expects for the AES modes.
func (c *Card) SupportedAlgorithms() objects.SupportedAlgorithms {
	return objects.SupportedAlgorithms{
		{Reference: 1, Mechanism: pkcs11.CKM_AES_ECB, AlgoRef: 0x04},
		{Reference: 2, Mechanism: pkcs11.CKM_AES_CBC, AlgoRef: 0x02},
		{Reference: 3, Mechanism: pkcs11.CKM_AES_CBC_PAD, AlgoRef: 0x02},
	}
}

func (c *Card) SelectFile(path objects.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := fileKey(path)
	if _, ok := c.files[k]; !ok {
		return errFileNotFound(path)
	}
	c.selected = k
	return nil
}

// SetSecurityEnv resolves the key from the file reference, the selected
// file or the key reference, in that order.
func (c *Card) SetSecurityEnv(env *device.SecurityEnv) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var k string
	switch {
	case env.Has(device.EnvFileRefPresent):
		k = fileKey(env.FileRef)
	case c.selected != "":
		k = c.selected
	case env.Has(device.EnvKeyRefPresent) && len(env.KeyRef) == 1:
		k = c.refs[int(env.KeyRef[0])]
	}
	m, ok := c.files[k]
	if !ok {
		return objects.NewError("virtual.SetSecurityEnv", "no key for environment", pkcs11.CKR_KEY_HANDLE_INVALID)
	}
	if c.stream != nil {
		c.stream.zero()
		c.stream = nil
	}
	c.env = env.Clone()
	c.key = m

	if env.Operation == device.OpEncryptSym || env.Operation == device.OpDecryptSym {
		if m.aes == nil {
			return objects.NewError("virtual.SetSecurityEnv", "not a symmetric key", pkcs11.CKR_KEY_TYPE_INCONSISTENT)
		}
		var iv []byte
		if p, ok := env.Param(device.ParamIV); ok {
			iv = p.Value
		}
		s, err := newSymStream(m.aes, env.AlgorithmFlags, iv, env.Operation == device.OpEncryptSym)
		if err != nil {
			return err
		}
		c.stream = s
	}
	return nil
}

// begin checks the card is ready to run op and returns the environment and
// key. c.mu must be held.
func (c *Card) begin(who string, ops ...device.Operation) (*device.SecurityEnv, *material, error) {
	if !c.loggedIn {
		return nil, nil, objects.NewError(who, "security status not satisfied", objects.SecurityStatusNotSatisfied)
	}
	if c.env == nil || c.key == nil {
		return nil, nil, errNotInitialized(who)
	}
	for _, op := range ops {
		if c.env.Operation == op {
			return c.env, c.key, nil
		}
	}
	return nil, nil, objects.NewError(who, "environment set for "+c.env.Operation.String(), pkcs11.CKR_OPERATION_NOT_INITIALIZED)
}

func (c *Card) Decipher(in []byte) ([]byte, error) {
	const who = "virtual.Decipher"
	c.mu.Lock()
	defer c.mu.Unlock()

	env, m, err := c.begin(who, device.OpDecipher, device.OpDerive)
	if err != nil {
		return nil, err
	}
	if env.Operation == device.OpDerive {
		return derive(m, in)
	}
	if m.rsa == nil {
		return nil, objects.NewError(who, "not an RSA key", pkcs11.CKR_KEY_TYPE_INCONSISTENT)
	}
	res, err := rsaPrivate(m.rsa, in)
	if err != nil {
		return nil, err
	}
	if env.AlgorithmFlags.Has(device.RSAPadPKCS1Type02) {
		defer clear(res)
		return padding.StripPKCS1Type02(m.rsa.size(), res)
	}
	return res, nil
}

// rsaPrivate runs the engine and returns a modulus sized block.
func rsaPrivate(e rsaEngine, in []byte) ([]byte, error) {
	res, err := e.private(in)
	if err != nil {
		return nil, err
	}
	if len(res) < e.size() {
		full := make([]byte, e.size())
		copy(full[e.size()-len(res):], res)
		res = full
	}
	return res, nil
}

func derive(m *material, peer []byte) ([]byte, error) {
	const who = "virtual.Derive"
	switch {
	case m.ec != nil:
		priv, err := m.ec.ECDH()
		if err != nil {
			return nil, errors.Wrap(err, "key cannot be used for ECDH")
		}
		pub, err := priv.Curve().NewPublicKey(peer)
		if err != nil {
			return nil, objects.NewError(who, "invalid peer public key", objects.InvalidData)
		}
		return priv.ECDH(pub)
	case m.x25519 != nil:
		out, err := curve25519.X25519(m.x25519, peer)
		if err != nil {
			return nil, objects.NewError(who, err.Error(), objects.InvalidData)
		}
		return out, nil
	default:
		return nil, objects.NewError(who, "key cannot derive", pkcs11.CKR_KEY_TYPE_INCONSISTENT)
	}
}

func (c *Card) ComputeSignature(in []byte) ([]byte, error) {
	const who = "virtual.ComputeSignature"
	c.mu.Lock()
	defer c.mu.Unlock()

	env, m, err := c.begin(who, device.OpSign)
	if err != nil {
		return nil, err
	}
	flags := env.AlgorithmFlags
	switch {
	case m.rsa != nil:
		if flags.Has(device.RSAPads) {
			em, err := padding.Encode(flags&(device.RSAPads|device.RSAHashes), in, m.handle.Size, nil)
			if err != nil {
				return nil, err
			}
			defer clear(em)
			in = em
		} else if !flags.Has(device.RSARaw) {
			return nil, objects.NewError(who, "unsupported RSA mode "+flags.String(), objects.NotSupported)
		}
		return m.rsa.private(in)
	case m.ec != nil:
		digest := in
		if h := ecdsaHash(flags); h != 0 {
			hh := h.New()
			hh.Write(in)
			digest = hh.Sum(nil)
		}
		r, s, err := ecdsa.Sign(rand.Reader, m.ec, digest)
		if err != nil {
			return nil, errors.Wrap(err, "ecdsa signature failed")
		}
		n := objects.BytesForBits(m.handle.Size)
		out := make([]byte, 2*n)
		r.FillBytes(out[:n])
		s.FillBytes(out[n:])
		return out, nil
	case m.ed != nil:
		return ed25519.Sign(m.ed, in), nil
	default:
		return nil, objects.NewError(who, "key cannot sign", pkcs11.CKR_KEY_TYPE_INCONSISTENT)
	}
}

// target returns the key file named by the target parameter of env.
func (c *Card) target(env *device.SecurityEnv) (objects.Path, string, error) {
	p, ok := env.Param(device.ParamTargetFile)
	if !ok {
		return objects.Path{}, "", objects.NewError("virtual.target", "no target file", pkcs11.CKR_ARGUMENTS_BAD)
	}
	return p.Path, fileKey(p.Path), nil
}

func ivOf(env *device.SecurityEnv) []byte {
	if p, ok := env.Param(device.ParamIV); ok {
		return p.Value
	}
	return nil
}

func (c *Card) Wrap([]byte) ([]byte, error) {
	const who = "virtual.Wrap"
	c.mu.Lock()
	defer c.mu.Unlock()

	env, m, err := c.begin(who, device.OpWrap)
	if err != nil {
		return nil, err
	}
	tpath, k, err := c.target(env)
	if err != nil {
		return nil, err
	}
	t, ok := c.files[k]
	if !ok {
		return nil, errFileNotFound(tpath)
	}
	if t.aes == nil {
		return nil, objects.NewError(who, "only secret keys can be exported", pkcs11.CKR_KEY_NOT_WRAPPABLE)
	}

	switch {
	case m.aes != nil:
		return seal(m.aes, env.AlgorithmFlags, ivOf(env), t.aes)
	case m.rsa != nil:
		pub, ok := m.public.(*rsa.PublicKey)
		if !ok || !env.AlgorithmFlags.Has(device.RSAPadPKCS1Type02) {
			return nil, objects.NewError(who, "unsupported RSA wrapping mode", objects.NotSupported)
		}
		out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, t.aes)
		return out, errors.Wrap(err, "cannot wrap key")
	default:
		return nil, objects.NewError(who, "key cannot wrap", pkcs11.CKR_WRAPPING_KEY_TYPE_INCONSISTENT)
	}
}

func (c *Card) Unwrap(in []byte) ([]byte, error) {
	const who = "virtual.Unwrap"
	c.mu.Lock()
	defer c.mu.Unlock()

	env, m, err := c.begin(who, device.OpUnwrap)
	if err != nil {
		return nil, err
	}
	tpath, _, err := c.target(env)
	if err != nil {
		return nil, err
	}

	var key []byte
	switch {
	case m.aes != nil:
		key, err = open(m.aes, env.AlgorithmFlags, ivOf(env), in)
	case m.rsa != nil:
		var block []byte
		if block, err = rsaPrivate(m.rsa, in); err == nil {
			key, err = padding.StripPKCS1Type02(m.rsa.size(), block)
			clear(block)
		}
	default:
		err = objects.NewError(who, "key cannot unwrap", pkcs11.CKR_UNWRAPPING_KEY_TYPE_INCONSISTENT)
	}
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		clear(key)
		return nil, objects.NewError(who, "unwrapped data is not an AES key", pkcs11.CKR_WRAPPED_KEY_INVALID)
	}
	if _, err := c.storeLocked("unwrapped", tpath, aesMaterial(key)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Card) EncryptSym(in []byte) ([]byte, error) {
	return c.symmetric("virtual.EncryptSym", device.OpEncryptSym, in)
}

func (c *Card) DecryptSym(in []byte) ([]byte, error) {
	return c.symmetric("virtual.DecryptSym", device.OpDecryptSym, in)
}

// symmetric streams in through the operation started by SetSecurityEnv.
// The first call may carry no data; a later call without data finishes
// the operation.
func (c *Card) symmetric(who string, op device.Operation, in []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.begin(who, op); err != nil {
		return nil, err
	}
	if c.stream == nil {
		return nil, errNotInitialized(who)
	}
	if in == nil {
		if !c.stream.started {
			c.stream.started = true
			return nil, nil
		}
		out, err := c.stream.final()
		c.stream.zero()
		c.stream = nil
		return out, err
	}
	return c.stream.update(in), nil
}

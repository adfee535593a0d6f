package virtual

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"slices"

	"github.com/google/uuid"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/tcrsa"
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// material is a key stored on the card.
type material struct {
	handle objects.KeyHandle

	rsa    rsaEngine
	ec     *ecdsa.PrivateKey
	ed     ed25519.PrivateKey
	x25519 []byte
	aes    []byte
	public crypto.PublicKey
}

func (m *material) zero() {
	clear(m.x25519)
	clear(m.aes)
	clear(m.ed)
}

// fileKey indexes key files by file id, or by AID for allocated objects.
func fileKey(p objects.Path) string {
	if p.IsAIDOnly() {
		return p.String()
	}
	return p.FileID().String()
}

func (c *Card) store(label string, path objects.Path, m *material) (*objects.KeyHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(label, path, m)
}

func (c *Card) storeLocked(label string, path objects.Path, m *material) (*objects.KeyHandle, error) {
	if path.IsZero() {
		return nil, objects.NewError("virtual.store", "key path is empty", objects.InvalidArguments)
	}
	k := fileKey(path)
	if old, ok := c.files[k]; ok {
		old.zero()
		delete(c.refs, *old.handle.KeyRef)
	}
	c.nextRef++
	m.handle.ID = uuid.NewString()
	m.handle.Label = label
	m.handle.Path = path.Clone()
	m.handle.Native = true
	m.handle.KeyRef = objects.Ref(c.nextRef)
	c.files[k] = m
	c.refs[c.nextRef] = k

	h := m.handle
	return &h, nil
}

// GenerateRSA creates an RSA key of the given size in the file at path.
func (c *Card) GenerateRSA(label string, path objects.Path, bits int) (*objects.KeyHandle, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot generate %d bit RSA key", bits)
	}
	return c.store(label, path, &material{
		handle: objects.KeyHandle{
			Class: objects.ClassPrivate,
			Type:  objects.KeyRSA,
			Usage: objects.UsageSign | objects.UsageDecrypt | objects.UsageWrap | objects.UsageUnwrap,
			Size:  key.N.BitLen(),
		},
		rsa:    &plainRSA{key: key},
		public: &key.PublicKey,
	})
}

// GenerateThresholdRSA creates an RSA key split in l shares, k of which
// are needed to use it. The card holds every share.
func (c *Card) GenerateThresholdRSA(label string, path objects.Path, bits int, k, l uint16) (*objects.KeyHandle, error) {
	shares, meta, err := tcrsa.NewKey(bits, k, l, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot generate %d bit threshold key (k=%d, l=%d)", bits, k, l)
	}
	return c.store(label, path, &material{
		handle: objects.KeyHandle{
			Class: objects.ClassPrivate,
			Type:  objects.KeyRSA,
			Usage: objects.UsageSign | objects.UsageDecrypt,
			Size:  meta.PublicKey.N.BitLen(),
		},
		rsa:    &thresholdRSA{shares: shares, meta: meta, k: int(k)},
		public: meta.PublicKey,
	})
}

// GenerateEC creates an ECDSA key on curve.
func (c *Card) GenerateEC(label string, path objects.Path, curve elliptic.Curve) (*objects.KeyHandle, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot generate %s key", curve.Params().Name)
	}
	return c.store(label, path, &material{
		handle: objects.KeyHandle{
			Class: objects.ClassPrivate,
			Type:  objects.KeyEC,
			Usage: objects.UsageSign | objects.UsageDerive,
			Size:  curve.Params().BitSize,
		},
		ec:     key,
		public: &key.PublicKey,
	})
}

// GenerateEd25519 creates an EdDSA key.
func (c *Card) GenerateEd25519(label string, path objects.Path) (*objects.KeyHandle, error) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate ed25519 key")
	}
	return c.store(label, path, &material{
		handle: objects.KeyHandle{
			Class: objects.ClassPrivate,
			Type:  objects.KeyEdDSA,
			Usage: objects.UsageSign,
			Size:  255,
		},
		ed:     key,
		public: pub,
	})
}

// GenerateX25519 creates an XEdDSA key used for key agreement.
func (c *Card) GenerateX25519(label string, path objects.Path) (*objects.KeyHandle, error) {
	key := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "cannot generate x25519 key")
	}
	pub, err := curve25519.X25519(key, curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compute x25519 public key")
	}
	return c.store(label, path, &material{
		handle: objects.KeyHandle{
			Class: objects.ClassPrivate,
			Type:  objects.KeyXEdDSA,
			Usage: objects.UsageDerive,
			Size:  255,
		},
		x25519: key,
		public: pub,
	})
}

// GenerateAES creates an AES key of the given size.
func (c *Card) GenerateAES(label string, path objects.Path, bits int) (*objects.KeyHandle, error) {
	switch bits {
	case 128, 192, 256:
	default:
		return nil, objects.NewError("virtual.GenerateAES", "invalid AES key size", objects.InvalidArguments)
	}
	key := make([]byte, bits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "cannot generate AES key")
	}
	return c.store(label, path, aesMaterial(key))
}

func aesMaterial(key []byte) *material {
	return &material{
		handle: objects.KeyHandle{
			Class: objects.ClassSecret,
			Type:  objects.KeyAES,
			Usage: objects.UsageEncrypt | objects.UsageDecrypt | objects.UsageWrap | objects.UsageUnwrap,
			Size:  len(key) * 8,
		},
		aes: key,
	}
}

// PublicKey returns the public part of the key stored at path. AES keys
// have none.
func (c *Card) PublicKey(path objects.Path) (crypto.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.files[fileKey(path)]
	if !ok {
		return nil, errFileNotFound(path)
	}
	if m.public == nil {
		return nil, objects.NewError("virtual.PublicKey", "key has no public part", objects.InvalidArguments)
	}
	return m.public, nil
}

// Keys returns the handles of the stored keys.
func (c *Card) Keys() []*objects.KeyHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*objects.KeyHandle, 0, len(c.files))
	for _, m := range c.files {
		h := m.handle
		out = append(out, &h)
	}
	slices.SortFunc(out, func(a, b *objects.KeyHandle) int {
		return *a.KeyRef - *b.KeyRef
	})
	return out
}

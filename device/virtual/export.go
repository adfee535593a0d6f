package virtual

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/gob"
	"encoding/pem"

	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/tcrsa"
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// PEM block types of exported key material.
const (
	BlockPrivateKey   = "PRIVATE KEY"
	BlockSecretKey    = "AES KEY"
	BlockThresholdKey = "THRESHOLD RSA KEY"
)

// thresholdKey is the gob form of a threshold RSA key.
type thresholdKey struct {
	Shares tcrsa.KeyShareList
	Meta   *tcrsa.KeyMeta
	K      int
}

// Export returns the key stored at path as a PEM block, so it can be kept
// in a key directory and imported into a new card.
func (c *Card) Export(path objects.Path) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.files[fileKey(path)]
	if !ok {
		return nil, errFileNotFound(path)
	}
	block, err := m.pemBlock()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot export key %s", path)
	}
	return pem.EncodeToMemory(block), nil
}

func (m *material) pemBlock() (*pem.Block, error) {
	var key any
	switch {
	case m.aes != nil:
		return &pem.Block{Type: BlockSecretKey, Bytes: bytes.Clone(m.aes)}, nil
	case m.rsa != nil:
		switch r := m.rsa.(type) {
		case *plainRSA:
			key = r.key
		case *thresholdRSA:
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(thresholdKey{Shares: r.shares, Meta: r.meta, K: r.k}); err != nil {
				return nil, errors.Wrap(err, "cannot encode key shares")
			}
			return &pem.Block{Type: BlockThresholdKey, Bytes: buf.Bytes()}, nil
		}
	case m.ec != nil:
		key = m.ec
	case m.ed != nil:
		key = m.ed
	case m.x25519 != nil:
		priv, err := ecdh.X25519().NewPrivateKey(m.x25519)
		if err != nil {
			return nil, err
		}
		key = priv
	}
	if key == nil {
		return nil, objects.NewError("virtual.Export", "key has no material", objects.InvalidArguments)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &pem.Block{Type: BlockPrivateKey, Bytes: der}, nil
}

// Import stores the PEM encoded key data at h.Path with the label, class,
// type, usage and size of h. The key keeps h.ID when it has one.
func (c *Card) Import(h objects.KeyHandle, data []byte) (*objects.KeyHandle, error) {
	const who = "virtual.Import"
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, objects.NewError(who, "key data is not PEM", objects.InvalidData)
	}
	m := &material{handle: objects.KeyHandle{Class: h.Class, Type: h.Type, Usage: h.Usage, Size: h.Size}}
	switch block.Type {
	case BlockSecretKey:
		m.aes = bytes.Clone(block.Bytes)
	case BlockThresholdKey:
		var tk thresholdKey
		if err := gob.NewDecoder(bytes.NewReader(block.Bytes)).Decode(&tk); err != nil {
			return nil, errors.Wrap(err, "cannot decode key shares")
		}
		m.rsa = &thresholdRSA{shares: tk.Shares, meta: tk.Meta, k: tk.K}
		m.public = tk.Meta.PublicKey
	case BlockPrivateKey:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "cannot parse private key")
		}
		if err := m.setPrivate(key); err != nil {
			return nil, err
		}
	default:
		return nil, objects.NewError(who, "unknown key block "+block.Type, objects.InvalidData)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored, err := c.storeLocked(h.Label, h.Path, m)
	if err != nil {
		return nil, err
	}
	if h.ID != "" {
		m.handle.ID = h.ID
		stored.ID = h.ID
	}
	return stored, nil
}

func (m *material) setPrivate(key any) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		m.rsa = &plainRSA{key: k}
		m.public = &k.PublicKey
	case *ecdsa.PrivateKey:
		m.ec = k
		m.public = &k.PublicKey
	case ed25519.PrivateKey:
		m.ed = k
		m.public = k.Public()
	case *ecdh.PrivateKey:
		if k.Curve() != ecdh.X25519() {
			return objects.NewError("virtual.Import", "unsupported key agreement curve", objects.NotSupported)
		}
		m.x25519 = k.Bytes()
		pub, err := curve25519.X25519(m.x25519, curve25519.Basepoint)
		if err != nil {
			return errors.Wrap(err, "cannot compute x25519 public key")
		}
		m.public = pub
	default:
		return objects.NewError("virtual.Import", "unsupported private key", objects.NotSupported)
	}
	return nil
}

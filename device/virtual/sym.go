package virtual

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/pkg/errors"
)

var ecdsaHashes = []struct {
	flag device.AlgFlags
	hash crypto.Hash
}{
	{device.ECDSAHashSHA1, crypto.SHA1},
	{device.ECDSAHashSHA224, crypto.SHA224},
	{device.ECDSAHashSHA256, crypto.SHA256},
	{device.ECDSAHashSHA384, crypto.SHA384},
	{device.ECDSAHashSHA512, crypto.SHA512},
}

// ecdsaHash returns the hash the card applies before signing, or 0.
func ecdsaHash(flags device.AlgFlags) crypto.Hash {
	for _, h := range ecdsaHashes {
		if flags.Has(h.flag) {
			return h.hash
		}
	}
	return 0
}

// ecbMode is the block mode missing from crypto/cipher.
type ecbMode struct {
	b       cipher.Block
	encrypt bool
}

func (m ecbMode) BlockSize() int { return m.b.BlockSize() }

func (m ecbMode) CryptBlocks(dst, src []byte) {
	bs := m.b.BlockSize()
	for i := 0; i < len(src); i += bs {
		if m.encrypt {
			m.b.Encrypt(dst[i:i+bs], src[i:i+bs])
		} else {
			m.b.Decrypt(dst[i:i+bs], src[i:i+bs])
		}
	}
}

// symStream is a symmetric operation in progress. Input is buffered up to
// whole blocks; with CBC-PAD decryption the last block is held back until
// the operation finishes.
type symStream struct {
	mode    cipher.BlockMode
	encrypt bool
	pad     bool
	buf     []byte
	started bool
}

func newSymStream(key []byte, flags device.AlgFlags, iv []byte, encrypt bool) (*symStream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create AES cipher")
	}
	s := &symStream{encrypt: encrypt}
	switch {
	case flags.Has(device.AESCBC), flags.Has(device.AESCBCPad):
		if len(iv) != aes.BlockSize {
			return nil, objects.NewError("virtual.newSymStream", "IV must be one block long", pkcs11.CKR_MECHANISM_PARAM_INVALID)
		}
		if encrypt {
			s.mode = cipher.NewCBCEncrypter(block, iv)
		} else {
			s.mode = cipher.NewCBCDecrypter(block, iv)
		}
		s.pad = flags.Has(device.AESCBCPad)
	case flags.Has(device.AESECB):
		s.mode = ecbMode{b: block, encrypt: encrypt}
	default:
		return nil, objects.NewError("virtual.newSymStream", "unsupported AES mode "+flags.String(), objects.NotSupported)
	}
	return s, nil
}

func (s *symStream) update(in []byte) []byte {
	s.started = true
	s.buf = append(s.buf, in...)
	n := len(s.buf) / aes.BlockSize * aes.BlockSize
	if s.pad && !s.encrypt && n == len(s.buf) && n > 0 {
		n -= aes.BlockSize
	}
	out := make([]byte, n)
	s.mode.CryptBlocks(out, s.buf[:n])
	rest := copy(s.buf, s.buf[n:])
	clear(s.buf[rest:])
	s.buf = s.buf[:rest]
	return out
}

func (s *symStream) final() ([]byte, error) {
	const who = "virtual.final"
	switch {
	case s.pad && s.encrypt:
		padLen := aes.BlockSize - len(s.buf)
		block := append(s.buf, make([]byte, padLen)...)
		for i := len(s.buf); i < len(block); i++ {
			block[i] = byte(padLen)
		}
		out := make([]byte, aes.BlockSize)
		s.mode.CryptBlocks(out, block)
		return out, nil
	case s.pad:
		if len(s.buf) != aes.BlockSize {
			return nil, objects.NewError(who, "encrypted data is not block aligned", pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE)
		}
		out := make([]byte, aes.BlockSize)
		s.mode.CryptBlocks(out, s.buf)
		padLen := int(out[aes.BlockSize-1])
		if !validPadding(out, padLen) {
			clear(out)
			return nil, objects.NewError(who, "invalid padding", objects.DecryptionFailed)
		}
		return out[:aes.BlockSize-padLen], nil
	case len(s.buf) != 0:
		code := pkcs11.Error(pkcs11.CKR_DATA_LEN_RANGE)
		if !s.encrypt {
			code = pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE
		}
		return nil, objects.NewError(who, "data is not block aligned", code)
	default:
		return nil, nil
	}
}

func validPadding(block []byte, padLen int) bool {
	if padLen < 1 || padLen > len(block) {
		return false
	}
	for _, b := range block[len(block)-padLen:] {
		if int(b) != padLen {
			return false
		}
	}
	return true
}

func (s *symStream) zero() {
	clear(s.buf)
	s.buf = nil
}

// seal encrypts a whole message, used to wrap keys.
func seal(key []byte, flags device.AlgFlags, iv, in []byte) ([]byte, error) {
	if flags&device.AESModes == 0 {
		flags |= device.AESECB
	}
	s, err := newSymStream(key, flags, iv, true)
	if err != nil {
		return nil, err
	}
	defer s.zero()
	out := s.update(in)
	last, err := s.final()
	if err != nil {
		return nil, err
	}
	return append(out, last...), nil
}

// open decrypts a whole message, used to unwrap keys.
func open(key []byte, flags device.AlgFlags, iv, in []byte) ([]byte, error) {
	if flags&device.AESModes == 0 {
		flags |= device.AESECB
	}
	s, err := newSymStream(key, flags, iv, false)
	if err != nil {
		return nil, err
	}
	defer s.zero()
	out := s.update(in)
	last, err := s.final()
	if err != nil {
		clear(out)
		return nil, err
	}
	return append(out, last...), nil
}

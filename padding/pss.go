package padding

import (
	"crypto"
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/subtle"
	"hash"
	"io"

	"github.com/niclabs/cardmw/objects"
)

// PSSParams are the PSS options of a signing mechanism. A zero Hash means
// the hash is taken from the request flags, a zero MGF means MGF1 with the
// signing hash and a negative SaltLength means the digest length.
type PSSParams struct {
	Hash       crypto.Hash
	MGF        crypto.Hash
	SaltLength int
}

// mgf1XOR XORs out with the MGF1 mask generated from seed.
func mgf1XOR(out []byte, h hash.Hash, seed []byte) {
	var counter [4]byte
	var digest []byte

	done := 0
	for done < len(out) {
		h.Reset()
		h.Write(seed)
		h.Write(counter[0:4])
		digest = h.Sum(digest[:0])

		for i := 0; i < len(digest) && done < len(out); i++ {
			out[done] ^= digest[i]
			done++
		}
		incCounter(&counter)
	}
}

func incCounter(c *[4]byte) {
	if c[3]++; c[3] != 0 {
		return
	}
	if c[2]++; c[2] != 0 {
		return
	}
	if c[1]++; c[1] != 0 {
		return
	}
	c[0]++
}

// EncodePSS runs EMSA-PSS-ENCODE over an already computed digest and
// returns a block of the modulus length.
func EncodePSS(random io.Reader, digest []byte, modBits int, h, mgf crypto.Hash, saltLen int) ([]byte, error) {
	const who = "padding.EncodePSS"
	if !h.Available() {
		return nil, objects.NewError(who, "hash not available", objects.NotSupported)
	}
	if mgf == 0 {
		mgf = h
	}
	if !mgf.Available() {
		return nil, objects.NewError(who, "mgf hash not available", objects.NotSupported)
	}
	hLen := h.Size()
	if len(digest) != hLen {
		return nil, objects.NewError(who, "digest length does not match hash", objects.InvalidData)
	}
	if saltLen < 0 {
		saltLen = hLen
	}
	emBits := modBits - 1
	emLen := (emBits + 7) / 8
	if emLen < hLen+saltLen+2 {
		return nil, objects.NewError(who, "modulus too short for digest and salt", objects.InvalidData)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, objects.NewError(who, err.Error(), objects.Internal)
	}

	hf := h.New()
	var prefix [8]byte
	hf.Write(prefix[:])
	hf.Write(digest)
	hf.Write(salt)
	hh := hf.Sum(nil)

	em := make([]byte, emLen)
	db := em[:emLen-hLen-1]
	db[emLen-saltLen-hLen-2] = 0x01
	copy(db[emLen-saltLen-hLen-1:], salt)
	mgf1XOR(db, mgf.New(), hh)
	db[0] &= 0xff >> (8*emLen - emBits)
	copy(em[emLen-hLen-1:], hh)
	em[emLen-1] = 0xbc

	modLen := objects.BytesForBits(modBits)
	if emLen == modLen {
		return em, nil
	}
	out := make([]byte, modLen)
	copy(out[modLen-emLen:], em)
	return out, nil
}

// StripOAEP runs EME-OAEP-DECODE on em. Unlike StripPKCS1Type02 it is not
// on the timing sensitive path, but it still compares in constant time.
func StripOAEP(modLen int, em []byte, h, mgf crypto.Hash, label []byte) ([]byte, error) {
	const who = "padding.StripOAEP"
	if h == 0 {
		h = crypto.SHA1
	}
	if mgf == 0 {
		mgf = h
	}
	if !h.Available() || !mgf.Available() {
		return nil, objects.NewError(who, "hash not available", objects.NotSupported)
	}
	hLen := h.Size()
	if modLen < 2*hLen+2 || len(em) > modLen {
		return nil, objects.NewError(who, "invalid OAEP block", objects.DecryptionFailed)
	}
	buf := make([]byte, modLen)
	copy(buf[modLen-len(em):], em)

	hf := h.New()
	hf.Write(label)
	lHash := hf.Sum(nil)

	firstByteIsZero := subtle.ConstantTimeByteEq(buf[0], 0)
	seed := buf[1 : hLen+1]
	db := buf[hLen+1:]

	mgf1XOR(seed, mgf.New(), db)
	mgf1XOR(db, mgf.New(), seed)

	lHash2Good := subtle.ConstantTimeCompare(lHash, db[0:hLen])

	var lookingForIndex, index, invalid int
	lookingForIndex = 1
	rest := db[hLen:]
	for i := 0; i < len(rest); i++ {
		equals0 := subtle.ConstantTimeByteEq(rest[i], 0)
		equals1 := subtle.ConstantTimeByteEq(rest[i], 1)
		index = subtle.ConstantTimeSelect(lookingForIndex&equals1, i, index)
		lookingForIndex = subtle.ConstantTimeSelect(equals1, 0, lookingForIndex)
		invalid = subtle.ConstantTimeSelect(lookingForIndex&^equals0, 1, invalid)
	}

	if firstByteIsZero&lHash2Good&^invalid&^lookingForIndex != 1 {
		return nil, objects.NewError(who, "invalid OAEP padding", objects.DecryptionFailed)
	}
	return rest[index+1:], nil
}

package padding

import (
	"bytes"
	"crypto"
	"crypto/subtle"
	"io"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

// minimum PKCS#1 v1.5 padding: 00 || BT || 8 bytes of PS || 00
const pkcs1MinPadding = 11

// DigestInfo prefixes, DER encoded, for the digests we can sign.
var digestInfoPrefixes = []struct {
	flag   device.AlgFlags
	hash   crypto.Hash
	prefix []byte
}{
	{device.RSAHashMD5, crypto.MD5, []byte{0x30, 0x20, 0x30, 0x0c, 0x06, 0x08, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x02, 0x05, 0x05, 0x00, 0x04, 0x10}},
	{device.RSAHashSHA1, crypto.SHA1, []byte{0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14}},
	{device.RSAHashSHA224, crypto.SHA224, []byte{0x30, 0x2d, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1c}},
	{device.RSAHashSHA256, crypto.SHA256, []byte{0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}},
	{device.RSAHashSHA384, crypto.SHA384, []byte{0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30}},
	{device.RSAHashSHA512, crypto.SHA512, []byte{0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40}},
}

// AddDigestInfoPrefix wraps digest in a DigestInfo for the hash named by
// flag. RSAHashNone returns the input unchanged.
func AddDigestInfoPrefix(flag device.AlgFlags, digest []byte) ([]byte, error) {
	if flag == device.RSAHashNone {
		return digest, nil
	}
	for _, d := range digestInfoPrefixes {
		if d.flag != flag {
			continue
		}
		if len(digest) != d.hash.Size() {
			return nil, objects.NewError("padding.AddDigestInfoPrefix", "digest length does not match hash", objects.InvalidData)
		}
		out := make([]byte, 0, len(d.prefix)+len(digest))
		out = append(out, d.prefix...)
		return append(out, digest...), nil
	}
	return nil, objects.NewError("padding.AddDigestInfoPrefix", "unknown hash "+flag.String(), objects.NotSupported)
}

// StripDigestInfoPrefix recognizes a DigestInfo and returns the hash flag
// and the bare digest.
func StripDigestInfoPrefix(in []byte) (device.AlgFlags, []byte, error) {
	for _, d := range digestInfoPrefixes {
		if len(in) == len(d.prefix)+d.hash.Size() && bytes.HasPrefix(in, d.prefix) {
			return d.flag, in[len(d.prefix):], nil
		}
	}
	return device.RSAHashNone, nil, objects.NewError("padding.StripDigestInfoPrefix", "unrecognized digest info", objects.InvalidData)
}

// PadPKCS1Type01 builds 00 || 01 || FF..FF || 00 || in, modLen bytes long.
func PadPKCS1Type01(in []byte, modLen int) ([]byte, error) {
	if len(in)+pkcs1MinPadding > modLen {
		return nil, objects.NewError("padding.PadPKCS1Type01", "data too long for modulus", objects.InvalidData)
	}
	em := make([]byte, modLen)
	em[1] = 0x01
	ps := em[2 : modLen-len(in)-1]
	for i := range ps {
		ps[i] = 0xff
	}
	copy(em[modLen-len(in):], in)
	return em, nil
}

// PadPKCS1Type02 builds 00 || 02 || random non-zero || 00 || in.
func PadPKCS1Type02(random io.Reader, in []byte, modLen int) ([]byte, error) {
	if len(in)+pkcs1MinPadding > modLen {
		return nil, objects.NewError("padding.PadPKCS1Type02", "data too long for modulus", objects.InvalidData)
	}
	em := make([]byte, modLen)
	em[1] = 0x02
	ps := em[2 : modLen-len(in)-1]
	if _, err := io.ReadFull(random, ps); err != nil {
		return nil, objects.NewError("padding.PadPKCS1Type02", err.Error(), objects.Internal)
	}
	for i := range ps {
		for ps[i] == 0 {
			if _, err := io.ReadFull(random, ps[i:i+1]); err != nil {
				return nil, objects.NewError("padding.PadPKCS1Type02", err.Error(), objects.Internal)
			}
		}
	}
	copy(em[modLen-len(in):], in)
	return em, nil
}

var errDecryption = objects.NewError("padding", "decryption error", objects.DecryptionFailed)

// StripPKCS1Type02 removes type 02 padding. The scan always walks the whole
// block and every failure is the same error, so neither the code nor the
// timing tells where the padding was wrong. Inputs shorter than modLen are
// taken as missing leading zeros.
func StripPKCS1Type02(modLen int, em []byte) ([]byte, error) {
	if modLen < pkcs1MinPadding || len(em) > modLen {
		return nil, errDecryption
	}
	buf := make([]byte, modLen)
	copy(buf[modLen-len(em):], em)

	firstByteIsZero := subtle.ConstantTimeByteEq(buf[0], 0)
	secondByteIsTwo := subtle.ConstantTimeByteEq(buf[1], 2)

	lookingForIndex := 1
	index := 0
	for i := 2; i < len(buf); i++ {
		equals0 := subtle.ConstantTimeByteEq(buf[i], 0)
		index = subtle.ConstantTimeSelect(lookingForIndex&equals0, i, index)
		lookingForIndex = subtle.ConstantTimeSelect(equals0, 0, lookingForIndex)
	}
	validPS := subtle.ConstantTimeLessOrEq(2+8, index)

	valid := firstByteIsZero & secondByteIsTwo & (^lookingForIndex & 1) & validPS
	if valid == 0 {
		return nil, errDecryption
	}
	return buf[index+1:], nil
}

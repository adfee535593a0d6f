package device

import (
	"crypto"
	"fmt"
	"strings"
)

// AlgFlags describe padding, hashing and mode options. The same bits are
// used for three things: what the caller requests, what the card supports
// (AlgorithmInfo.Flags) and what the card is told to do (SecurityEnv).
type AlgFlags uint64

const (
	RSARaw AlgFlags = 1 << iota
	RSAPadPKCS1Type01
	RSAPadPKCS1Type02
	RSAPadPSS
	RSAPadOAEP
	_
	_
	_

	RSAHashNone
	RSAHashSHA1
	RSAHashSHA224
	RSAHashSHA256
	RSAHashSHA384
	RSAHashSHA512
	RSAHashMD5
	_

	MGF1SHA1
	MGF1SHA224
	MGF1SHA256
	MGF1SHA384
	MGF1SHA512
	_
	_
	_

	ECDSARaw
	ECDSAHashNone
	ECDSAHashSHA1
	ECDSAHashSHA224
	ECDSAHashSHA256
	ECDSAHashSHA384
	ECDSAHashSHA512
	ECDHCDHRaw

	EdDSARaw
	XEdDSARaw
	GOSTRaw
	_
	_
	_
	_
	_

	AESECB
	AESCBC
	AESCBCPad
	_
	_
	_
	_
	_

	// NeedUsage marks cards that pick sign or decipher behaviour from the
	// key usage instead of from the security environment.
	NeedUsage
)

// RSAPadNone is the absence of any padding bit.
const RSAPadNone AlgFlags = 0

const (
	RSAPads     = RSAPadPKCS1Type01 | RSAPadPKCS1Type02 | RSAPadPSS | RSAPadOAEP
	RSAHashes   = RSAHashNone | RSAHashSHA1 | RSAHashSHA224 | RSAHashSHA256 | RSAHashSHA384 | RSAHashSHA512 | RSAHashMD5
	MGF1Hashes  = MGF1SHA1 | MGF1SHA224 | MGF1SHA256 | MGF1SHA384 | MGF1SHA512
	ECDSAHashes = ECDSAHashSHA1 | ECDSAHashSHA224 | ECDSAHashSHA256 | ECDSAHashSHA384 | ECDSAHashSHA512
	AESModes    = AESECB | AESCBC | AESCBCPad
	RawMask     = RSARaw | ECDSARaw | ECDHCDHRaw | EdDSARaw | XEdDSARaw | GOSTRaw
)

// Has reports whether any bit of mask is set.
func (f AlgFlags) Has(mask AlgFlags) bool {
	return f&mask != 0
}

// RSAHashOrder lists the RSA hash bits in the order they are negotiated.
var RSAHashOrder = []AlgFlags{
	RSAHashNone, RSAHashMD5, RSAHashSHA1, RSAHashSHA224, RSAHashSHA256, RSAHashSHA384, RSAHashSHA512,
}

var hashOfFlag = map[AlgFlags]crypto.Hash{
	RSAHashMD5:    crypto.MD5,
	RSAHashSHA1:   crypto.SHA1,
	RSAHashSHA224: crypto.SHA224,
	RSAHashSHA256: crypto.SHA256,
	RSAHashSHA384: crypto.SHA384,
	RSAHashSHA512: crypto.SHA512,
	MGF1SHA1:      crypto.SHA1,
	MGF1SHA224:    crypto.SHA224,
	MGF1SHA256:    crypto.SHA256,
	MGF1SHA384:    crypto.SHA384,
	MGF1SHA512:    crypto.SHA512,
}

// RSAHash returns the hash named by the RSA hash bits of f. RSAHashNone and
// no hash bit both return 0.
func (f AlgFlags) RSAHash() crypto.Hash {
	for _, bit := range RSAHashOrder {
		if f&bit != 0 {
			return hashOfFlag[bit]
		}
	}
	return 0
}

// MGF1Hash returns the MGF1 hash named by f, or 0.
func (f AlgFlags) MGF1Hash() crypto.Hash {
	for _, bit := range []AlgFlags{MGF1SHA1, MGF1SHA224, MGF1SHA256, MGF1SHA384, MGF1SHA512} {
		if f&bit != 0 {
			return hashOfFlag[bit]
		}
	}
	return 0
}

// RSAHashFlag is the inverse of RSAHash.
func RSAHashFlag(h crypto.Hash) AlgFlags {
	for bit, hash := range hashOfFlag {
		if hash == h && bit&RSAHashes != 0 {
			return bit
		}
	}
	return RSAHashNone
}

// MGF1Flag returns the MGF1 bit for h.
func MGF1Flag(h crypto.Hash) AlgFlags {
	for bit, hash := range hashOfFlag {
		if hash == h && bit&MGF1Hashes != 0 {
			return bit
		}
	}
	return 0
}

var flagNames = []struct {
	flag AlgFlags
	name string
}{
	{RSARaw, "RSA_RAW"}, {RSAPadPKCS1Type01, "PKCS1_01"}, {RSAPadPKCS1Type02, "PKCS1_02"},
	{RSAPadPSS, "PSS"}, {RSAPadOAEP, "OAEP"},
	{RSAHashNone, "HASH_NONE"}, {RSAHashSHA1, "SHA1"}, {RSAHashSHA224, "SHA224"}, {RSAHashSHA256, "SHA256"},
	{RSAHashSHA384, "SHA384"}, {RSAHashSHA512, "SHA512"}, {RSAHashMD5, "MD5"},
	{MGF1SHA1, "MGF1_SHA1"}, {MGF1SHA224, "MGF1_SHA224"}, {MGF1SHA256, "MGF1_SHA256"},
	{MGF1SHA384, "MGF1_SHA384"}, {MGF1SHA512, "MGF1_SHA512"},
	{ECDSARaw, "ECDSA_RAW"}, {ECDSAHashNone, "ECDSA_HASH_NONE"}, {ECDSAHashSHA1, "ECDSA_SHA1"},
	{ECDSAHashSHA224, "ECDSA_SHA224"}, {ECDSAHashSHA256, "ECDSA_SHA256"}, {ECDSAHashSHA384, "ECDSA_SHA384"},
	{ECDSAHashSHA512, "ECDSA_SHA512"}, {ECDHCDHRaw, "ECDH_CDH_RAW"},
	{EdDSARaw, "EDDSA_RAW"}, {XEdDSARaw, "XEDDSA_RAW"}, {GOSTRaw, "GOST_RAW"},
	{AESECB, "AES_ECB"}, {AESCBC, "AES_CBC"}, {AESCBCPad, "AES_CBC_PAD"},
	{NeedUsage, "NEED_USAGE"},
}

func (f AlgFlags) String() string {
	if f == 0 {
		return "0"
	}
	names := make([]string, 0)
	for _, n := range flagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("0x%x", uint64(f))
	}
	return strings.Join(names, "|")
}

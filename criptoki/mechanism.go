package criptoki

import (
	"crypto"
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

// MechanismEdDSA is CKM_EDDSA of Cryptoki 3.0, missing in pkcs11 v1.1.1.
const MechanismEdDSA = 0x1057

// PSSParams are the parameters of the RSA PSS mechanisms.
type PSSParams struct {
	HashAlg    uint
	MGF        uint
	SaltLength uint
}

// Mechanism is a mechanism with its parameter. Parameter holds the IV of
// the AES CBC mechanisms; the RSA and key agreement mechanisms take their
// parameters in OAEP, PSS and ECDH.
type Mechanism struct {
	Type      uint
	Parameter []byte
	OAEP      *pkcs11.OAEPParams
	PSS       *PSSParams
	ECDH      *pkcs11.ECDH1DeriveParams
}

// NewMechanism returns a mechanism with a raw parameter.
func NewMechanism(typ uint, parameter []byte) *Mechanism {
	return &Mechanism{Type: typ, Parameter: parameter}
}

// mechanismSpec tells how a mechanism is run: the card algorithm it needs,
// the flags requested from the runtime and the hash applied in software
// before the card is called. A mechanism is offered by a card whose
// capability entry has any of the need bits.
type mechanismSpec struct {
	alg   device.Algorithm
	flags device.AlgFlags
	hash  crypto.Hash
	need  device.AlgFlags
}

const (
	rsaSignNeed = device.RSAPadPKCS1Type01 | device.RSARaw
	pssNeed     = device.RSAPadPSS | device.RSARaw
	ecdsaNeed   = device.ECDSARaw | device.ECDSAHashes
)

func rsaPKCS(h crypto.Hash) mechanismSpec {
	return mechanismSpec{device.AlgorithmRSA, device.RSAPadPKCS1Type01 | device.RSAHashFlag(h), h, rsaSignNeed}
}

func rsaPSS(h crypto.Hash) mechanismSpec {
	return mechanismSpec{device.AlgorithmRSA, device.RSAPadPSS | device.RSAHashFlag(h) | device.MGF1Flag(h), h, pssNeed}
}

func ecdsa(h crypto.Hash) mechanismSpec {
	return mechanismSpec{device.AlgorithmEC, device.ECDSARaw, h, ecdsaNeed}
}

var signMechanisms = map[uint]mechanismSpec{
	pkcs11.CKM_RSA_PKCS:        {device.AlgorithmRSA, device.RSAPadPKCS1Type01 | device.RSAHashNone, 0, rsaSignNeed},
	pkcs11.CKM_RSA_X_509:       {device.AlgorithmRSA, device.RSARaw, 0, device.RSARaw},
	pkcs11.CKM_MD5_RSA_PKCS:    rsaPKCS(crypto.MD5),
	pkcs11.CKM_SHA1_RSA_PKCS:   rsaPKCS(crypto.SHA1),
	pkcs11.CKM_SHA224_RSA_PKCS: rsaPKCS(crypto.SHA224),
	pkcs11.CKM_SHA256_RSA_PKCS: rsaPKCS(crypto.SHA256),
	pkcs11.CKM_SHA384_RSA_PKCS: rsaPKCS(crypto.SHA384),
	pkcs11.CKM_SHA512_RSA_PKCS: rsaPKCS(crypto.SHA512),

	pkcs11.CKM_RSA_PKCS_PSS:        {device.AlgorithmRSA, device.RSAPadPSS, 0, pssNeed},
	pkcs11.CKM_SHA1_RSA_PKCS_PSS:   rsaPSS(crypto.SHA1),
	pkcs11.CKM_SHA224_RSA_PKCS_PSS: rsaPSS(crypto.SHA224),
	pkcs11.CKM_SHA256_RSA_PKCS_PSS: rsaPSS(crypto.SHA256),
	pkcs11.CKM_SHA384_RSA_PKCS_PSS: rsaPSS(crypto.SHA384),
	pkcs11.CKM_SHA512_RSA_PKCS_PSS: rsaPSS(crypto.SHA512),

	pkcs11.CKM_ECDSA:        ecdsa(0),
	pkcs11.CKM_ECDSA_SHA1:   ecdsa(crypto.SHA1),
	pkcs11.CKM_ECDSA_SHA224: ecdsa(crypto.SHA224),
	pkcs11.CKM_ECDSA_SHA256: ecdsa(crypto.SHA256),
	pkcs11.CKM_ECDSA_SHA384: ecdsa(crypto.SHA384),
	pkcs11.CKM_ECDSA_SHA512: ecdsa(crypto.SHA512),

	MechanismEdDSA:       {device.AlgorithmEdDSA, device.EdDSARaw, 0, device.EdDSARaw},
	pkcs11.CKM_GOSTR3410: {device.AlgorithmGOST, device.GOSTRaw, 0, device.GOSTRaw},
}

var aesMechanisms = map[uint]mechanismSpec{
	pkcs11.CKM_AES_ECB:     {device.AlgorithmAES, device.AESECB, 0, device.AESECB},
	pkcs11.CKM_AES_CBC:     {device.AlgorithmAES, device.AESCBC, 0, device.AESCBC},
	pkcs11.CKM_AES_CBC_PAD: {device.AlgorithmAES, device.AESCBCPad, 0, device.AESCBCPad},
}

var rsaCipherMechanisms = map[uint]mechanismSpec{
	pkcs11.CKM_RSA_PKCS:      {device.AlgorithmRSA, device.RSAPadPKCS1Type02, 0, device.RSAPadPKCS1Type02 | device.RSARaw},
	pkcs11.CKM_RSA_X_509:     {device.AlgorithmRSA, device.RSARaw, 0, device.RSARaw},
	pkcs11.CKM_RSA_PKCS_OAEP: {device.AlgorithmRSA, device.RSAPadOAEP, 0, device.RSAPadOAEP | device.RSARaw},
}

var deriveMechanisms = []mechanismSpec{
	{device.AlgorithmEC, device.ECDHCDHRaw, 0, device.ECDHCDHRaw},
	{device.AlgorithmXEdDSA, device.XEdDSARaw, 0, device.XEdDSARaw},
}

// mechanismsFor lists the mechanisms a capability entry can serve.
func mechanismsFor(info device.AlgorithmInfo) []uint {
	var out []uint
	add := func(table map[uint]mechanismSpec) {
		for typ, spec := range table {
			if spec.alg == info.Algorithm && info.Flags.Has(spec.need) {
				out = append(out, typ)
			}
		}
	}
	add(signMechanisms)
	add(aesMechanisms)
	add(rsaCipherMechanisms)
	for _, spec := range deriveMechanisms {
		if spec.alg == info.Algorithm && info.Flags.Has(spec.need) {
			out = append(out, pkcs11.CKM_ECDH1_DERIVE)
		}
	}
	return out
}

var digestMechanisms = map[uint]crypto.Hash{
	pkcs11.CKM_MD5:    crypto.MD5,
	pkcs11.CKM_SHA_1:  crypto.SHA1,
	pkcs11.CKM_SHA224: crypto.SHA224,
	pkcs11.CKM_SHA256: crypto.SHA256,
	pkcs11.CKM_SHA384: crypto.SHA384,
	pkcs11.CKM_SHA512: crypto.SHA512,
}

var mgfHashes = map[uint]crypto.Hash{
	pkcs11.CKG_MGF1_SHA1:   crypto.SHA1,
	pkcs11.CKG_MGF1_SHA224: crypto.SHA224,
	pkcs11.CKG_MGF1_SHA256: crypto.SHA256,
	pkcs11.CKG_MGF1_SHA384: crypto.SHA384,
	pkcs11.CKG_MGF1_SHA512: crypto.SHA512,
}

func errMechanismParam(who, msg string) error {
	return objects.NewError(who, msg, pkcs11.CKR_MECHANISM_PARAM_INVALID)
}

// keyAlgorithm is the card algorithm family of k.
func keyAlgorithm(k *objects.KeyHandle) device.Algorithm {
	switch k.Type {
	case objects.KeyRSA:
		return device.AlgorithmRSA
	case objects.KeyEC:
		return device.AlgorithmEC
	case objects.KeyEdDSA:
		return device.AlgorithmEdDSA
	case objects.KeyXEdDSA:
		return device.AlgorithmXEdDSA
	case objects.KeyGOST:
		return device.AlgorithmGOST
	case objects.KeyAES:
		return device.AlgorithmAES
	case objects.KeyDES:
		return device.AlgorithmDES
	case objects.Key3DES:
		return device.Algorithm3DES
	default:
		return 0
	}
}

// signFlags completes the flags of a sign mechanism with its parameters.
func signFlags(mech *Mechanism, spec mechanismSpec) (device.AlgFlags, *padding.PSSParams, error) {
	const who = "criptoki.signFlags"
	flags := spec.flags
	if !flags.Has(device.RSAPadPSS) {
		return flags, nil, nil
	}
	pss := &padding.PSSParams{Hash: spec.hash, MGF: spec.hash, SaltLength: -1}
	if mech.PSS == nil {
		if spec.hash == 0 {
			return 0, nil, errMechanismParam(who, "PSS parameters required")
		}
		return flags, pss, nil
	}
	h, ok := digestMechanisms[mech.PSS.HashAlg]
	if !ok || (spec.hash != 0 && h != spec.hash) {
		return 0, nil, errMechanismParam(who, "PSS hash not supported")
	}
	mgf, ok := mgfHashes[mech.PSS.MGF]
	if !ok {
		return 0, nil, errMechanismParam(who, "PSS mask generation function not supported")
	}
	pss.Hash, pss.MGF, pss.SaltLength = h, mgf, int(mech.PSS.SaltLength)
	flags = device.RSAPadPSS | device.RSAHashFlag(h) | device.MGF1Flag(mgf)
	return flags, pss, nil
}

// oaepFlags returns the flags of an OAEP decryption with params. A nil
// params means SHA-1 with MGF1 SHA-1 and no label.
func oaepFlags(params *pkcs11.OAEPParams) (device.AlgFlags, error) {
	const who = "criptoki.oaepFlags"
	h, mgf := crypto.SHA1, crypto.SHA1
	if params != nil {
		var ok bool
		if h, ok = digestMechanisms[params.HashAlg]; !ok {
			return 0, errMechanismParam(who, "OAEP hash not supported")
		}
		if mgf, ok = mgfHashes[params.MGF]; !ok {
			return 0, errMechanismParam(who, "OAEP mask generation function not supported")
		}
		if params.SourceType != 0 && params.SourceType != pkcs11.CKZ_DATA_SPECIFIED {
			return 0, errMechanismParam(who, "OAEP source not supported")
		}
	}
	return device.RSAPadOAEP | device.RSAHashFlag(h) | device.MGF1Flag(mgf), nil
}

// ivOf returns the IV of an AES mechanism. ECB takes none, the CBC modes
// take a block.
func ivOf(mech *Mechanism, spec mechanismSpec) ([]byte, error) {
	if spec.flags == device.AESECB {
		return nil, nil
	}
	if len(mech.Parameter) != 16 {
		return nil, errMechanismParam("criptoki.ivOf", "IV must be 16 bytes")
	}
	return mech.Parameter, nil
}

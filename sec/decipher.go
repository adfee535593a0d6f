package sec

import (
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

// Decipher decrypts in with key and writes the plaintext to out. Software
// PKCS#1 type 02 padding is removed in constant time; its failures are not
// logged. oaep carries the label for OAEP requests and may be nil.
func (t *Token) Decipher(key *objects.KeyHandle, flags device.AlgFlags, in, out []byte, oaep *pkcs11.OAEPParams) (n int, err error) {
	defer func() { metrics.RecordOperation(device.OpDecipher.String(), err) }()
	return t.decipher(key, flags, in, out, oaep)
}

func (t *Token) decipher(key *objects.KeyHandle, flags device.AlgFlags, in, out []byte, oaep *pkcs11.OAEPParams) (int, error) {
	const who = "sec.Decipher"

	if !key.Usage.Has(objects.UsageAnyDecipher) {
		return 0, objects.NewError(who, "this key cannot be used for decryption", objects.NotAllowed)
	}
	env, info, err := t.BuildEnv(key)
	if err != nil {
		return 0, err
	}
	defer env.Zero()
	env.Operation = device.OpDecipher

	pad, secFlags, err := padding.Negotiate(flags, info.Flags)
	if err != nil {
		return 0, err
	}
	env.AlgorithmFlags = secFlags

	res, err := t.execute(key, env, device.Decipher, in)
	if err != nil {
		return 0, err
	}

	modLen := objects.BytesForBits(key.Size)
	if pad&device.RSAPadPKCS1Type02 != 0 {
		stripped, err := padding.StripPKCS1Type02(modLen, res)
		clear(res)
		if err != nil {
			return 0, err
		}
		res = stripped
	}
	if pad&device.RSAPadOAEP != 0 {
		var label []byte
		if oaep != nil && oaep.SourceType == pkcs11.CKZ_DATA_SPECIFIED {
			label = oaep.SourceData
		}
		stripped, err := padding.StripOAEP(modLen, res, flags.RSAHash(), flags.MGF1Hash(), label)
		clear(res)
		if err != nil {
			return 0, err
		}
		res = stripped
	}
	return copyOut(who, out, res)
}

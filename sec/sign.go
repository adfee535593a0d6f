package sec

import (
	"slices"

	"github.com/google/logger"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

// SignatureLen returns the length of a signature made with key.
func SignatureLen(key *objects.KeyHandle) (int, error) {
	switch key.Type {
	case objects.KeyRSA:
		return objects.BytesForBits(key.Size), nil
	case objects.KeyGOST:
		return objects.BytesForBits(key.Size) * 2, nil
	case objects.KeyEC, objects.KeyEdDSA, objects.KeyXEdDSA:
		return objects.BytesForBits(key.Size) * 2, nil
	default:
		return 0, objects.NewError("sec.SignatureLen", "key type not supported", objects.NotSupported)
	}
}

// Sign signs in with key and writes the signature to out, which must hold
// at least SignatureLen(key) bytes. flags is the requested encoding; pss
// may carry PSS options.
func (t *Token) Sign(key *objects.KeyHandle, flags device.AlgFlags, in, out []byte, pss *padding.PSSParams) (n int, err error) {
	defer func() { metrics.RecordOperation(device.OpSign.String(), err) }()
	const who = "sec.Sign"

	if !key.Usage.Has(objects.UsageSign | objects.UsageSignRecover | objects.UsageNonRepudiation) {
		return 0, objects.NewError(who, "this key cannot be used for signing", objects.NotAllowed)
	}
	env, info, err := t.BuildEnv(key)
	if err != nil {
		return 0, err
	}
	defer env.Zero()
	env.Operation = device.OpSign

	modLen, err := SignatureLen(key)
	if err != nil {
		return 0, err
	}
	if len(out) < modLen {
		return 0, objects.NewBufferError(who, modLen)
	}

	buf := make([]byte, len(in)+modLen)
	defer clear(buf)
	copy(buf, in)
	data := buf[:len(in)]

	if key.Type == objects.KeyGOST {
		slices.Reverse(data)
	}

	if key.Type == objects.KeyRSA {
		// Cards that pick the operation from the key usage cannot tell a
		// sign from a decipher with a dual use key: pad here and decipher.
		if info.Flags.Has(device.NeedUsage) &&
			key.Usage.Has(objects.UsageAnySign) && key.Usage.Has(objects.UsageAnyDecipher) {
			if flags.Has(device.RSARaw) {
				return t.decipher(key, flags, in, out, nil)
			}
			em, err := padding.Encode(flags, in, key.Size, pss)
			if err != nil {
				return 0, err
			}
			defer clear(em)
			flags = flags&^device.RSAPads | device.RSARaw
			return t.decipher(key, flags, em, out, nil)
		}

		// A card that only signs DigestInfo-less hashes can still serve a
		// PKCS#1 request if we recognize the DigestInfo.
		if flags == device.RSAPadPKCS1Type01|device.RSAHashNone &&
			!info.Flags.Has(device.RSARaw) && !info.Flags.Has(device.RSAHashNone) &&
			info.Flags.Has(device.RSAPadPKCS1Type01) {
			algo, digest, err := padding.StripDigestInfoPrefix(data)
			if err != nil || algo == device.RSAHashNone {
				return 0, objects.NewError(who, "unrecognized digest info", objects.InvalidData)
			}
			flags = flags&^device.RSAHashNone | algo
			data = digest
		}
	}

	if key.Type == objects.KeyEC && info.Flags.Has(device.ECDSARaw) && flags&device.ECDSAHashes&info.Flags == 0 {
		logger.Infof("ECDSA using raw mode, flags before %s", flags)
		flags |= device.ECDSARaw
		flags &^= device.ECDSAHashes
	}

	pad, secFlags, err := padding.Negotiate(flags, info.Flags)
	if err != nil {
		return 0, err
	}
	env.AlgorithmFlags = secFlags

	switch {
	case pad != 0:
		encoded, err := padding.Encode(pad, data, key.Size, pss)
		if err != nil {
			return 0, err
		}
		defer clear(encoded)
		data = encoded
	case env.Algorithm == device.AlgorithmRSA && flags&device.RSAPads == device.RSAPadNone:
		if len(data) > modLen {
			return 0, objects.NewError(who, "input longer than the modulus", objects.InvalidData)
		}
		if len(data) < modLen {
			shift := modLen - len(data)
			copy(buf[shift:modLen], data)
			clear(buf[:shift])
		}
		data = buf[:modLen]
	case env.Algorithm == device.AlgorithmEC && secFlags&device.ECDSAHashes == 0:
		if fieldLen := objects.BytesForBits(key.Size); len(data) > fieldLen {
			data = data[:fieldLen]
		}
	}

	res, err := t.execute(key, env, device.ComputeSignature, data)
	if err != nil {
		return 0, err
	}

	// some cards return the signature as an integer without leading zeros
	if key.Type == objects.KeyRSA && len(res) < modLen {
		full := make([]byte, modLen)
		copy(full[modLen-len(res):], res)
		clear(res)
		res = full
	}
	return copyOut(who, out, res)
}

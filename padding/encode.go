package padding

import (
	"crypto/rand"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

// Encode applies the software part of an RSA encoding: the DigestInfo
// prefix for the hash bit in flags, then the padding bit. With PSS the input
// must be a digest and no DigestInfo is added.
func Encode(flags device.AlgFlags, in []byte, modBits int, pss *PSSParams) ([]byte, error) {
	modLen := objects.BytesForBits(modBits)
	pad := flags & device.RSAPads

	if pad == device.RSAPadPSS {
		h := flags.RSAHash()
		mgf := flags.MGF1Hash()
		saltLen := -1
		if pss != nil {
			if h == 0 {
				h = pss.Hash
			}
			if mgf == 0 {
				mgf = pss.MGF
			}
			saltLen = pss.SaltLength
		}
		if h == 0 {
			return nil, objects.NewError("padding.Encode", "PSS needs a hash", objects.InvalidArguments)
		}
		return EncodePSS(rand.Reader, in, modBits, h, mgf, saltLen)
	}

	data := in
	if hashFlag := flags & device.RSAHashes &^ device.RSAHashNone; hashFlag != 0 {
		var err error
		if data, err = AddDigestInfoPrefix(hashFlag, in); err != nil {
			return nil, err
		}
	}

	switch pad {
	case device.RSAPadNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case device.RSAPadPKCS1Type01:
		return PadPKCS1Type01(data, modLen)
	case device.RSAPadPKCS1Type02:
		return PadPKCS1Type02(rand.Reader, data, modLen)
	default:
		return nil, objects.NewError("padding.Encode", "unsupported software padding "+pad.String(), objects.NotSupported)
	}
}

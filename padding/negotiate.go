// Package padding decides which part of a requested encoding runs on the
// card and which part runs here, and implements the software side: PKCS#1
// v1.5 type 01 and 02, PSS, OAEP and DigestInfo handling.
package padding

import (
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

// Negotiate splits requested into the flags applied in software (pad) and
// the flags the card executes (sec), given the card capabilities caps.
//
// Whatever padding ends up in software requires the card to do raw RSA, and
// RSARaw is then added to sec. A request without padding requires a raw
// capability unless the card hashes the input itself.
func Negotiate(requested, caps device.AlgFlags) (pad, sec device.AlgFlags, err error) {
	const who = "padding.Negotiate"

	if requested&device.AESModes != 0 {
		return 0, requested & device.AESModes, nil
	}

	cardHashes := false
	if h := requested & device.ECDSAHashes & caps; h != 0 {
		sec |= h
		cardHashes = true
	}

	for _, bit := range device.RSAHashOrder {
		if requested&bit == 0 {
			continue
		}
		if bit != device.RSAHashNone && caps&bit != 0 {
			sec |= bit
		} else {
			pad |= bit
		}
		break
	}

	switch p := requested & device.RSAPads; p {
	case device.RSAPadPKCS1Type01, device.RSAPadPKCS1Type02:
		if caps&p != 0 {
			sec |= p
		} else {
			pad |= p
		}
	case device.RSAPadPSS, device.RSAPadOAEP:
		if caps&p != 0 {
			sec |= p | requested&device.MGF1Hashes
		} else {
			pad |= p | requested&device.MGF1Hashes
		}
	case device.RSAPadNone:
		if !cardHashes && caps&device.RawMask == 0 {
			return 0, 0, objects.NewError(who, "raw operation is not supported", objects.NotSupported)
		}
		sec |= caps & device.RawMask
	default:
		return 0, 0, objects.NewError(who, "unsupported padding "+p.String(), objects.NotSupported)
	}

	if pad&device.RSAPads != 0 {
		if caps&device.RSARaw == 0 {
			return 0, 0, objects.NewError(who, "raw RSA is not supported", objects.NotSupported)
		}
		// a card doing raw RSA must not hash the encoded block
		pad |= sec & device.RSAHashes
		sec = sec&^device.RSAHashes | device.RSARaw
	}
	return pad, sec, nil
}

package sec

import (
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

// Derive runs a key agreement with key over the peer public value in and
// writes the shared secret to out. When out is nil or too short for the
// secret nothing is sent to the card and the required length is returned
// with a nil error.
func (t *Token) Derive(key *objects.KeyHandle, flags device.AlgFlags, in, out []byte) (n, required int, err error) {
	defer func() { metrics.RecordOperation(device.OpDerive.String(), err) }()
	const who = "sec.Derive"

	if !key.Usage.Has(objects.UsageDerive) {
		return 0, 0, objects.NewError(who, "this key cannot be used for derivation", objects.NotAllowed)
	}

	switch key.Type {
	case objects.KeyEC, objects.KeyXEdDSA:
		required = objects.BytesForBits(key.Size)
		if out == nil || len(out) < required {
			return 0, required, nil
		}
	default:
		return 0, 0, objects.NewError(who, "key type not supported for derivation", objects.NotSupported)
	}

	env, info, err := t.BuildEnv(key)
	if err != nil {
		return 0, required, err
	}
	defer env.Zero()
	env.Operation = device.OpDerive

	_, secFlags, err := padding.Negotiate(flags, info.Flags)
	if err != nil {
		return 0, required, err
	}
	env.AlgorithmFlags = secFlags

	res, err := t.execute(key, env, device.Decipher, in)
	if err != nil {
		return 0, required, err
	}
	n, err = copyOut(who, out, res)
	return n, required, err
}

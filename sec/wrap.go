package sec

import (
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

func checkWrappingKey(who string, key *objects.KeyHandle, usage objects.Usage, action string) error {
	switch {
	case key.IsPrivate() && key.Type == objects.KeyRSA, key.IsSecret():
		if !key.Usage.Has(usage) {
			return objects.NewError(who, "this key cannot be used for "+action, objects.NotAllowed)
		}
		return nil
	default:
		return objects.NewError(who, "wrapping key type not supported", objects.NotSupported)
	}
}

// wrapEnv prepares env for a wrap or unwrap of target: it attaches the
// target location, negotiates flags and attaches iv for the CBC modes.
func (t *Token) wrapEnv(env *device.SecurityEnv, info *device.AlgorithmInfo, target *objects.KeyHandle, flags device.AlgFlags, iv []byte) error {
	tpath, err := t.targetPath(target.Path)
	if err != nil {
		return err
	}
	if err := env.AddParam(device.Param{Kind: device.ParamTargetFile, Path: tpath}); err != nil {
		return err
	}

	_, secFlags, err := padding.Negotiate(flags, info.Flags)
	if err != nil {
		return err
	}
	env.AlgorithmFlags = secFlags

	if secFlags&(device.AESCBC|device.AESCBCPad) != 0 {
		return env.AddParam(device.Param{Kind: device.ParamIV, Value: append([]byte(nil), iv...)})
	}
	return nil
}

func checkTargetKey(who string, target *objects.KeyHandle) error {
	if !(target.IsPrivate() && target.Type == objects.KeyRSA) && !target.IsSecret() {
		return objects.NewError(who, "target key type not supported", objects.NotSupported)
	}
	return nil
}

// Wrap exports target encrypted under key into buf. A nil buf asks only
// for the cryptogram length, which is returned with a nil error; a buf that
// is too short fails with the required length attached.
func (t *Token) Wrap(key, target *objects.KeyHandle, flags device.AlgFlags, iv, buf []byte) (n int, err error) {
	defer func() { metrics.RecordOperation(device.OpWrap.String(), err) }()
	const who = "sec.Wrap"

	res, err := t.wrap(who, key, target, flags, iv)
	if err != nil {
		return 0, err
	}
	if buf == nil {
		clear(res)
		return len(res), nil
	}
	return copyOut(who, buf, res)
}

// WrapKey returns the cryptogram of target under key with a single card
// call.
func (t *Token) WrapKey(key, target *objects.KeyHandle, flags device.AlgFlags, iv []byte) (res []byte, err error) {
	defer func() { metrics.RecordOperation(device.OpWrap.String(), err) }()
	return t.wrap("sec.WrapKey", key, target, flags, iv)
}

func (t *Token) wrap(who string, key, target *objects.KeyHandle, flags device.AlgFlags, iv []byte) ([]byte, error) {
	if err := checkWrappingKey(who, key, objects.UsageWrap, "wrapping"); err != nil {
		return nil, err
	}
	if err := checkTargetKey(who, target); err != nil {
		return nil, err
	}

	env, info, err := t.BuildEnv(key)
	if err != nil {
		return nil, err
	}
	defer env.Zero()
	env.Operation = device.OpWrap

	if err := t.wrapEnv(env, info, target, flags, iv); err != nil {
		return nil, err
	}
	return t.execute(key, env, device.Wrap, nil)
}

// Unwrap imports the cryptogram in with key into the card file of target.
// The target file must exist. The unwrapped key never leaves the card.
func (t *Token) Unwrap(key, target *objects.KeyHandle, flags device.AlgFlags, in, iv []byte) (err error) {
	defer func() { metrics.RecordOperation(device.OpUnwrap.String(), err) }()
	const who = "sec.Unwrap"

	if err := checkWrappingKey(who, key, objects.UsageUnwrap, "unwrapping"); err != nil {
		return err
	}
	if err := checkTargetKey(who, target); err != nil {
		return err
	}

	env, info, err := t.BuildEnv(key)
	if err != nil {
		return err
	}
	defer env.Zero()
	env.Operation = device.OpUnwrap

	if err := t.wrapEnv(env, info, target, flags, iv); err != nil {
		return err
	}

	res, err := t.execute(key, env, device.Unwrap, in)
	clear(res)
	return err
}

package sec

import (
	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
)

// SymRequest is one step of a symmetric operation. The first step of an
// operation has Init set: only then is the key selected and the
// environment pushed, later steps stream In through the card.
type SymRequest struct {
	In   []byte
	IV   []byte
	Init bool
}

var symMechanisms = []struct {
	mechanism uint
	mode      device.AlgFlags
}{
	{pkcs11.CKM_AES_ECB, device.AESECB},
	{pkcs11.CKM_AES_CBC, device.AESCBC},
	{pkcs11.CKM_AES_CBC_PAD, device.AESCBCPad},
}

// resolveAlgorithmRef sets the algorithm reference of env from the first
// supported algorithm entry whose mechanism is the negotiated mode.
func resolveAlgorithmRef(env *device.SecurityEnv, mode device.AlgFlags) {
	for _, alg := range env.Supported {
		for _, m := range symMechanisms {
			if alg.Mechanism == m.mechanism && mode == m.mode {
				env.AlgorithmRef = alg.AlgoRef
				env.Flags |= device.EnvAlgRefPresent
				return
			}
		}
	}
}

// EncryptSym runs one step of a symmetric encryption with key.
func (t *Token) EncryptSym(key *objects.KeyHandle, flags device.AlgFlags, req SymRequest) (out []byte, err error) {
	defer func() { metrics.RecordOperation(device.OpEncryptSym.String(), err) }()
	if !key.Usage.Has(objects.UsageEncrypt) {
		return nil, objects.NewError("sec.EncryptSym", "this key cannot be used for encryption", objects.NotAllowed)
	}
	return t.symmetric(key, flags, device.OpEncryptSym, device.EncryptSym, req)
}

// DecryptSym runs one step of a symmetric decryption with key.
func (t *Token) DecryptSym(key *objects.KeyHandle, flags device.AlgFlags, req SymRequest) (out []byte, err error) {
	defer func() { metrics.RecordOperation(device.OpDecryptSym.String(), err) }()
	if !key.Usage.Has(objects.UsageDecrypt) {
		return nil, objects.NewError("sec.DecryptSym", "this key cannot be used for decryption", objects.NotAllowed)
	}
	return t.symmetric(key, flags, device.OpDecryptSym, device.DecryptSym, req)
}

func (t *Token) symmetric(key *objects.KeyHandle, flags device.AlgFlags, op device.Operation, prim device.Primitive, req SymRequest) ([]byte, error) {
	logger.Infof("%s called with flags %s", op, flags)

	env, info, err := t.BuildEnv(key)
	if err != nil {
		return nil, err
	}
	defer env.Zero()
	env.Operation = op

	_, secFlags, err := padding.Negotiate(flags, info.Flags)
	if err != nil {
		return nil, err
	}
	env.AlgorithmFlags = secFlags

	resolveAlgorithmRef(env, secFlags)

	if secFlags&(device.AESCBC|device.AESCBCPad) != 0 {
		if err := env.AddParam(device.Param{Kind: device.ParamIV, Value: append([]byte(nil), req.IV...)}); err != nil {
			return nil, err
		}
	}

	return t.withCard(op, key, func() ([]byte, error) {
		if req.Init {
			if err := t.prepare(key, env); err != nil {
				return nil, err
			}
		}
		return t.invoke(op, prim, req.In)
	})
}

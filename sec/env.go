package sec

import (
	"fmt"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
)

var privateKeyAlgorithms = map[objects.KeyType]device.Algorithm{
	objects.KeyRSA:    device.AlgorithmRSA,
	objects.KeyGOST:   device.AlgorithmGOST,
	objects.KeyEC:     device.AlgorithmEC,
	objects.KeyEdDSA:  device.AlgorithmEdDSA,
	objects.KeyXEdDSA: device.AlgorithmXEdDSA,
}

// BuildEnv returns a fresh security environment for key and the card
// capability entry it was matched against. Keys that are not private or
// secret, and keys whose material is not on the card, are rejected before
// the card is asked anything.
func (t *Token) BuildEnv(key *objects.KeyHandle) (*device.SecurityEnv, *device.AlgorithmInfo, error) {
	const who = "sec.BuildEnv"

	if !key.IsPrivate() && !key.IsSecret() {
		return nil, nil, objects.NewError(who, "this is not a private or secret key", objects.NotAllowed)
	}
	if !key.Native {
		return nil, nil, objects.NewError(who, "this key is not native, cannot operate with it", objects.NotSupported)
	}

	var alg device.Algorithm
	if key.IsPrivate() {
		var ok bool
		if alg, ok = privateKeyAlgorithms[key.Type]; !ok {
			return nil, nil, objects.NewError(who, "key type not supported", objects.NotSupported)
		}
	} else {
		if key.Type != objects.KeyAES {
			return nil, nil, objects.NewError(who, "key type not supported", objects.NotSupported)
		}
		alg = device.AlgorithmAES
	}

	info, ok := t.Card.FindAlgorithm(alg, key.Size)
	if !ok {
		return nil, nil, objects.NewError(who,
			fmt.Sprintf("card does not support %s with key length %d", alg, key.Size),
			objects.NotSupported)
	}

	env := &device.SecurityEnv{
		Algorithm:   alg,
		KeySizeBits: key.Size,
		Supported:   t.Supported.Clone(),
	}
	switch {
	case alg == device.AlgorithmEC:
		env.Flags |= device.EnvAlgRefPresent
		env.AlgorithmRef = uint(key.Size)
	case info.Reference != 0:
		env.Flags |= device.EnvAlgRefPresent
		env.AlgorithmRef = uint(info.Reference)
	}
	env.Flags |= device.EnvAlgPresent

	if key.KeyRef != nil && *key.KeyRef >= 0 {
		env.KeyRef = []byte{byte(*key.KeyRef & 0xff)}
		env.Flags |= device.EnvKeyRefPresent
	}
	return env, info, nil
}

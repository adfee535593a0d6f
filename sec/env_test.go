package sec

import (
	"testing"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/device/devicetest"
	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyPath = objects.NewPath(0x3F, 0x00, 0x50, 0x15, 0x44, 0x01)

func privateKey(typ objects.KeyType, bits int, usage objects.Usage) *objects.KeyHandle {
	return &objects.KeyHandle{
		ID:     "key-" + typ.String(),
		Label:  typ.String(),
		Class:  objects.ClassPrivate,
		Type:   typ,
		Usage:  usage,
		Path:   keyPath,
		Native: true,
		Size:   bits,
		KeyRef: objects.Ref(1),
	}
}

func secretKey(bits int, usage objects.Usage) *objects.KeyHandle {
	return &objects.KeyHandle{
		ID:     "key-aes",
		Label:  "aes",
		Class:  objects.ClassSecret,
		Type:   objects.KeyAES,
		Usage:  usage,
		Path:   keyPath,
		Native: true,
		Size:   bits,
		KeyRef: objects.Ref(2),
	}
}

func statusNotSatisfied() error {
	return objects.NewError("devicetest", "security status not satisfied", objects.SecurityStatusNotSatisfied)
}

// newToken returns a token over card with a cached PIN.
func newToken(card *devicetest.Card) *Token {
	pins := NewCachedPIN(card, 1)
	pins.Store([]byte("123456"))
	return NewToken(card, pins)
}

func TestBuildEnvKeyTypes(t *testing.T) {
	tests := []struct {
		name   string
		key    *objects.KeyHandle
		alg    device.Algorithm
		algRef uint
	}{
		{name: "rsa", key: privateKey(objects.KeyRSA, 1024, objects.UsageSign), alg: device.AlgorithmRSA},
		{name: "gost", key: privateKey(objects.KeyGOST, 256, objects.UsageSign), alg: device.AlgorithmGOST},
		{name: "ec", key: privateKey(objects.KeyEC, 256, objects.UsageSign), alg: device.AlgorithmEC, algRef: 256},
		{name: "eddsa", key: privateKey(objects.KeyEdDSA, 255, objects.UsageSign), alg: device.AlgorithmEdDSA},
		{name: "xeddsa", key: privateKey(objects.KeyXEdDSA, 255, objects.UsageDerive), alg: device.AlgorithmXEdDSA},
		{name: "aes", key: secretKey(128, objects.UsageEncrypt), alg: device.AlgorithmAES},
	}

	card := devicetest.NewCard(
		device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 1024, Flags: device.RSARaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmGOST, KeyLength: 256, Flags: device.GOSTRaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmEC, KeyLength: 256, Flags: device.ECDSARaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmEdDSA, KeyLength: 255, Flags: device.EdDSARaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmXEdDSA, KeyLength: 255, Flags: device.XEdDSARaw},
		device.AlgorithmInfo{Algorithm: device.AlgorithmAES, KeyLength: 128, Flags: device.AESECB | device.AESCBC},
	)
	tok := newToken(card)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, info, err := tok.BuildEnv(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.alg, env.Algorithm)
			assert.Equal(t, tt.alg, info.Algorithm)
			assert.Equal(t, tt.key.Size, env.KeySizeBits)
			assert.True(t, env.Has(device.EnvAlgPresent))
			assert.Equal(t, tt.algRef != 0, env.Has(device.EnvAlgRefPresent))
			assert.Equal(t, tt.algRef, env.AlgorithmRef)
			assert.True(t, env.Has(device.EnvKeyRefPresent))
			assert.Len(t, env.KeyRef, 1)
		})
	}
	assert.Empty(t, card.Calls())
}

func TestBuildEnvRejectsBeforeTouchingCard(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 1024, Flags: device.RSARaw})
	tok := newToken(card)

	public := privateKey(objects.KeyRSA, 1024, objects.UsageVerify)
	public.Class = objects.ClassPublic
	_, _, err := tok.BuildEnv(public)
	assert.True(t, objects.HasCode(err, objects.NotAllowed))

	foreign := privateKey(objects.KeyRSA, 1024, objects.UsageSign)
	foreign.Native = false
	_, _, err = tok.BuildEnv(foreign)
	assert.True(t, objects.HasCode(err, objects.NotSupported))

	_, err = tok.Sign(foreign, device.RSARaw, make([]byte, 128), make([]byte, 128), nil)
	assert.True(t, objects.HasCode(err, objects.NotSupported))

	desKey := secretKey(64, objects.UsageEncrypt)
	desKey.Type = objects.KeyDES
	_, _, err = tok.BuildEnv(desKey)
	assert.True(t, objects.HasCode(err, objects.NotSupported))

	_, _, err = tok.BuildEnv(privateKey(objects.KeyRSA, 2048, objects.UsageSign))
	assert.True(t, objects.HasCode(err, objects.NotSupported))

	assert.Empty(t, card.Calls())
}

func TestBuildEnvFirstCapabilityWins(t *testing.T) {
	card := devicetest.NewCard(
		device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 1024, Flags: device.RSAPadPKCS1Type01, Reference: 0x11},
		device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 1024, Flags: device.RSARaw, Reference: 0x22},
	)
	tok := newToken(card)

	env, info, err := tok.BuildEnv(privateKey(objects.KeyRSA, 1024, objects.UsageSign))
	require.NoError(t, err)
	assert.Equal(t, device.RSAPadPKCS1Type01, info.Flags)
	assert.Equal(t, uint(0x11), env.AlgorithmRef)
}

func TestBuildEnvWithoutKeyRef(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 1024, Flags: device.RSARaw})
	tok := newToken(card)

	key := privateKey(objects.KeyRSA, 1024, objects.UsageSign)
	key.KeyRef = objects.Ref(-1)
	env, _, err := tok.BuildEnv(key)
	require.NoError(t, err)
	assert.False(t, env.Has(device.EnvKeyRefPresent))
	assert.Empty(t, env.KeyRef)
}

func TestBuildEnvSnapshotsSupportedAlgorithms(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{Algorithm: device.AlgorithmAES, KeyLength: 128, Flags: device.AESECB})
	tok := newToken(card)
	require.NoError(t, tok.Supported.Add(objects.SupportedAlgorithm{Reference: 1, Mechanism: 0x1081, AlgoRef: 0x42}))

	env, _, err := tok.BuildEnv(secretKey(128, objects.UsageEncrypt))
	require.NoError(t, err)
	require.Len(t, env.Supported, 1)

	env.Supported[0].AlgoRef = 0
	assert.Equal(t, uint(0x42), tok.Supported[0].AlgoRef)
}

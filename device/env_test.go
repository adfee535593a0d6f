package device

import (
	"crypto"
	"testing"

	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddParamOverflow(t *testing.T) {
	env := &SecurityEnv{}
	for i := 0; i < MaxEnvParams; i++ {
		require.NoError(t, env.AddParam(Param{Kind: ParamIV, Value: []byte{byte(i)}}))
	}
	err := env.AddParam(Param{Kind: ParamTargetFile})
	assert.True(t, objects.HasCode(err, objects.InvalidArguments))
	assert.Len(t, env.Params, MaxEnvParams)

	p, ok := env.Param(ParamIV)
	require.True(t, ok)
	assert.Equal(t, []byte{0}, p.Value)
	_, ok = env.Param(ParamTargetFile)
	assert.False(t, ok)
}

func TestZeroAndClone(t *testing.T) {
	iv := []byte{1, 2, 3, 4}
	keyRef := []byte{7}
	env := &SecurityEnv{
		Flags:     EnvAlgPresent | EnvKeyRefPresent,
		Operation: OpDecryptSym,
		Algorithm: AlgorithmAES,
		KeyRef:    keyRef,
		Params:    []Param{{Kind: ParamIV, Value: iv}},
	}
	env.SetFileRef(objects.NewPath(0x44, 0x01))
	assert.True(t, env.Has(EnvAlgPresent|EnvFileRefPresent))

	clone := env.Clone()
	env.Zero()

	assert.Equal(t, []byte{0, 0, 0, 0}, iv)
	assert.Equal(t, []byte{0}, keyRef)
	assert.Equal(t, SecurityEnv{}, *env)

	assert.Equal(t, []byte{1, 2, 3, 4}, clone.Params[0].Value)
	assert.Equal(t, []byte{7}, clone.KeyRef)
	assert.Equal(t, OpDecryptSym, clone.Operation)
	assert.Equal(t, "decrypt_sym", clone.Operation.String())
}

func TestCapabilitiesFirstMatch(t *testing.T) {
	var caps Capabilities
	require.NoError(t, caps.Add(AlgorithmInfo{Algorithm: AlgorithmRSA, KeyLength: 2048, Flags: RSARaw}))
	require.NoError(t, caps.Add(AlgorithmInfo{Algorithm: AlgorithmRSA, KeyLength: 2048, Flags: RSAPadPKCS1Type01}))
	require.NoError(t, caps.Add(AlgorithmInfo{Algorithm: AlgorithmEC, KeyLength: 256, Flags: ECDSARaw}))

	info, ok := caps.Find(AlgorithmRSA, 2048)
	require.True(t, ok)
	assert.Equal(t, RSARaw, info.Flags)

	info, ok = caps.Find(AlgorithmEC, 0)
	require.True(t, ok)
	assert.Equal(t, 256, info.KeyLength)

	_, ok = caps.Find(AlgorithmRSA, 1024)
	assert.False(t, ok)

	// returned entries are copies
	info.Flags = 0
	again, _ := caps.Find(AlgorithmEC, 256)
	assert.Equal(t, ECDSARaw, again.Flags)
	assert.Equal(t, 3, caps.Len())
	assert.Len(t, caps.All(), 3)

	for caps.Len() < MaxAlgorithms {
		require.NoError(t, caps.Add(AlgorithmInfo{Algorithm: AlgorithmAES}))
	}
	assert.Error(t, caps.Add(AlgorithmInfo{Algorithm: AlgorithmAES}))
}

func TestAlgFlags(t *testing.T) {
	f := RSAPadPKCS1Type01 | RSAHashSHA256
	assert.True(t, f.Has(RSAPads))
	assert.False(t, f.Has(AESModes))
	assert.Equal(t, crypto.SHA256, f.RSAHash())
	assert.Equal(t, RSAHashSHA384, RSAHashFlag(crypto.SHA384))
	assert.Equal(t, RSAHashNone, RSAHashFlag(crypto.BLAKE2b_256))
	assert.Equal(t, "0", AlgFlags(0).String())
}

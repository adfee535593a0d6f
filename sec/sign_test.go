package sec

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/device/devicetest"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/padding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignBufferTooSmall(t *testing.T) {
	card := rawRSACard()
	tok := newToken(card)

	_, err := tok.Sign(privateKey(objects.KeyRSA, 512, objects.UsageSign), device.RSARaw, make([]byte, 64), make([]byte, 63), nil)
	require.Error(t, err)
	assert.True(t, objects.HasCode(err, objects.BufferTooSmall))
	assert.Equal(t, 64, objects.RequiredSize(err))
	assert.Empty(t, card.Calls())
}

func TestSignUsage(t *testing.T) {
	card := rawRSACard()
	tok := newToken(card)

	_, err := tok.Sign(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	assert.True(t, objects.HasCode(err, objects.NotAllowed))
	assert.Empty(t, card.Calls())
}

func TestSignShortSignatureIsLeftPadded(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmRSA,
		KeyLength: 1024,
		Flags:     device.RSAPadPKCS1Type01 | device.RSAHashNone,
	})
	card.Respond(devicetest.CallSign, []byte{0x01, 0x02, 0x03})
	tok := newToken(card)

	out := bytes.Repeat([]byte{0xFF}, 128)
	n, err := tok.Sign(privateKey(objects.KeyRSA, 1024, objects.UsageSign),
		device.RSAPadPKCS1Type01|device.RSAHashNone, []byte("digest"), out, nil)
	require.NoError(t, err)
	require.Equal(t, 128, n)
	assert.Equal(t, make([]byte, 125), out[:125])
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, out[125:])
}

func TestSignCombinedUsageRoutesThroughDecipher(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmRSA,
		KeyLength: 512,
		Flags:     device.RSARaw | device.NeedUsage,
	})
	tok := newToken(card)
	key := privateKey(objects.KeyRSA, 512, objects.UsageSign|objects.UsageDecrypt)

	in := bytes.Repeat([]byte{0x5A}, 64)
	out := make([]byte, 64)
	n, err := tok.Sign(key, device.RSARaw, in, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Equal(t, in, out)

	assert.Equal(t, 1, card.Count(devicetest.CallDecipher))
	assert.Zero(t, card.Count(devicetest.CallSign))
	env, _ := card.LastEnv()
	assert.Equal(t, device.OpDecipher, env.Operation)
}

func TestSignCombinedUsagePadsInSoftware(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmRSA,
		KeyLength: 512,
		Flags:     device.RSARaw | device.NeedUsage,
	})
	tok := newToken(card)
	key := privateKey(objects.KeyRSA, 512, objects.UsageSign|objects.UsageDecrypt)

	digest := sha256.Sum256([]byte("hello"))
	out := make([]byte, 64)
	_, err := tok.Sign(key, device.RSAPadPKCS1Type01|device.RSAHashSHA256, digest[:], out, nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallDecipher)
	require.Len(t, inputs, 1)
	withPrefix, err := padding.AddDigestInfoPrefix(device.RSAHashSHA256, digest[:])
	require.NoError(t, err)
	expected, err := padding.PadPKCS1Type01(withPrefix, 64)
	require.NoError(t, err)
	assert.Equal(t, expected, inputs[0])
	assert.Zero(t, card.Count(devicetest.CallSign))
}

func TestSignRawRSAInputIsLeftPadded(t *testing.T) {
	card := rawRSACard()
	tok := newToken(card)

	_, err := tok.Sign(privateKey(objects.KeyRSA, 512, objects.UsageSign), device.RSARaw, []byte{0xAB, 0xCD}, make([]byte, 64), nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallSign)
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0], 64)
	assert.Equal(t, make([]byte, 62), inputs[0][:62])
	assert.Equal(t, []byte{0xAB, 0xCD}, inputs[0][62:])

	_, err = tok.Sign(privateKey(objects.KeyRSA, 512, objects.UsageSign), device.RSARaw, make([]byte, 65), make([]byte, 64), nil)
	assert.True(t, objects.HasCode(err, objects.InvalidData))
	assert.Equal(t, 1, card.Count(devicetest.CallSign))
	assert.Equal(t, 1, card.Count(devicetest.CallSelect))
}

func TestSignStripsDigestInfo(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmRSA,
		KeyLength: 512,
		Flags:     device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
	})
	tok := newToken(card)
	key := privateKey(objects.KeyRSA, 512, objects.UsageSign)

	digest := sha256.Sum256([]byte("hello"))
	in, err := padding.AddDigestInfoPrefix(device.RSAHashSHA256, digest[:])
	require.NoError(t, err)

	_, err = tok.Sign(key, device.RSAPadPKCS1Type01|device.RSAHashNone, in, make([]byte, 64), nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallSign)
	require.Len(t, inputs, 1)
	assert.Equal(t, digest[:], inputs[0])
	env, _ := card.LastEnv()
	assert.Equal(t, device.RSAPadPKCS1Type01|device.RSAHashSHA256, env.AlgorithmFlags)

	_, err = tok.Sign(key, device.RSAPadPKCS1Type01|device.RSAHashNone, []byte("not a digest info"), make([]byte, 64), nil)
	assert.True(t, objects.HasCode(err, objects.InvalidData))
	assert.Equal(t, 1, card.Count(devicetest.CallSign))
}

func TestSignECPrefersRawAndTruncates(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmEC,
		KeyLength: 256,
		Flags:     device.ECDSARaw,
	})
	tok := newToken(card)
	key := privateKey(objects.KeyEC, 256, objects.UsageSign)

	in := make([]byte, 48)
	for i := range in {
		in[i] = byte(i)
	}
	_, err := tok.Sign(key, device.ECDSAHashSHA384, in, make([]byte, 64), nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallSign)
	require.Len(t, inputs, 1)
	assert.Equal(t, in[:32], inputs[0])
	env, _ := card.LastEnv()
	assert.Equal(t, device.ECDSARaw, env.AlgorithmFlags)
	assert.Equal(t, uint(256), env.AlgorithmRef)
}

func TestSignECWithCardHashing(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmEC,
		KeyLength: 256,
		Flags:     device.ECDSARaw | device.ECDSAHashSHA256,
	})
	tok := newToken(card)

	in := []byte("a message longer than the thirty two bytes of the field")
	_, err := tok.Sign(privateKey(objects.KeyEC, 256, objects.UsageSign), device.ECDSAHashSHA256, in, make([]byte, 64), nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallSign)
	require.Len(t, inputs, 1)
	assert.Equal(t, in, inputs[0])
	env, _ := card.LastEnv()
	assert.True(t, env.AlgorithmFlags.Has(device.ECDSAHashSHA256))
}

func TestSignGOSTReversesInput(t *testing.T) {
	card := devicetest.NewCard(device.AlgorithmInfo{
		Algorithm: device.AlgorithmGOST,
		KeyLength: 256,
		Flags:     device.GOSTRaw,
	})
	tok := newToken(card)

	out := make([]byte, 64)
	_, err := tok.Sign(privateKey(objects.KeyGOST, 256, objects.UsageSign), 0, []byte{1, 2, 3, 4}, out, nil)
	require.NoError(t, err)

	inputs := card.Inputs(devicetest.CallSign)
	require.Len(t, inputs, 1)
	assert.Equal(t, []byte{4, 3, 2, 1}, inputs[0])
}

func TestSignatureLen(t *testing.T) {
	tests := []struct {
		key *objects.KeyHandle
		len int
	}{
		{privateKey(objects.KeyRSA, 2048, objects.UsageSign), 256},
		{privateKey(objects.KeyGOST, 256, objects.UsageSign), 64},
		{privateKey(objects.KeyEC, 521, objects.UsageSign), 132},
		{privateKey(objects.KeyEdDSA, 255, objects.UsageSign), 64},
	}
	for _, tt := range tests {
		n, err := SignatureLen(tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.len, n, tt.key.String())
	}
	_, err := SignatureLen(secretKey(128, objects.UsageSign))
	assert.True(t, objects.HasCode(err, objects.NotSupported))
}

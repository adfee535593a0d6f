package padding

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRSA(key *rsa.PrivateKey, in []byte) []byte {
	c := new(big.Int).SetBytes(in)
	return c.Exp(c, key.D, key.N).FillBytes(make([]byte, key.Size()))
}

func TestDigestInfoRoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("hello"))
	withPrefix, err := AddDigestInfoPrefix(device.RSAHashSHA256, digest[:])
	require.NoError(t, err)

	flag, stripped, err := StripDigestInfoPrefix(withPrefix)
	require.NoError(t, err)
	assert.Equal(t, device.RSAHashSHA256, flag)
	assert.Equal(t, digest[:], stripped)

	_, _, err = StripDigestInfoPrefix(digest[:])
	assert.True(t, objects.HasCode(err, objects.InvalidData))
}

func TestEncodePKCS1VerifiesWithStdlib(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("to be signed"))

	em, err := Encode(device.RSAPadPKCS1Type01|device.RSAHashSHA256, digest[:], 1024, nil)
	require.NoError(t, err)
	require.Len(t, em, 128)

	sig := rawRSA(key, em)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestEncodePSSVerifiesWithStdlib(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("to be signed"))

	em, err := Encode(device.RSAPadPSS|device.RSAHashSHA256|device.MGF1SHA256, digest[:], 1024, nil)
	require.NoError(t, err)

	sig := rawRSA(key, em)
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	assert.NoError(t, err)
}

func TestStripPKCS1Type02(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	msg := []byte("session key material")

	ct, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, msg)
	require.NoError(t, err)
	em := rawRSA(key, ct)

	out, err := StripPKCS1Type02(key.Size(), em)
	require.NoError(t, err)
	assert.Equal(t, msg, out)

	// devices may drop the leading zero byte
	out, err = StripPKCS1Type02(key.Size(), em[1:])
	require.NoError(t, err)
	assert.Equal(t, msg, out)
}

func TestStripPKCS1Type02FailuresLookAlike(t *testing.T) {
	good, err := PadPKCS1Type02(rand.Reader, []byte("abc"), 64)
	require.NoError(t, err)

	badType := bytes.Clone(good)
	badType[1] = 0x01
	noSeparator := bytes.Repeat([]byte{0x02}, 64)
	noSeparator[0] = 0
	shortPS := make([]byte, 64)
	shortPS[1] = 0x02
	shortPS[2] = 0xaa
	shortPS[3] = 0x00

	var codes []error
	for _, em := range [][]byte{badType, noSeparator, shortPS} {
		_, err := StripPKCS1Type02(64, em)
		require.Error(t, err)
		codes = append(codes, err)
	}
	assert.Equal(t, codes[0], codes[1])
	assert.Equal(t, codes[1], codes[2])
	assert.True(t, objects.HasCode(codes[0], objects.DecryptionFailed))
}

func TestStripOAEP(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	msg := []byte("wrapped secret")
	label := []byte("label")

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, msg, label)
	require.NoError(t, err)
	em := rawRSA(key, ct)

	out, err := StripOAEP(key.Size(), em, crypto.SHA256, crypto.SHA256, label)
	require.NoError(t, err)
	assert.Equal(t, msg, out)

	_, err = StripOAEP(key.Size(), em, crypto.SHA256, crypto.SHA256, []byte("other"))
	assert.True(t, objects.HasCode(err, objects.DecryptionFailed))
}

func TestPadPKCS1Type01TooLong(t *testing.T) {
	_, err := PadPKCS1Type01(make([]byte, 60), 64)
	assert.True(t, objects.HasCode(err, objects.InvalidData))

	em, err := PadPKCS1Type01([]byte{1, 2, 3}, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0xff}, em[:3])
	assert.Equal(t, []byte{0x00, 1, 2, 3}, em[60:])
}

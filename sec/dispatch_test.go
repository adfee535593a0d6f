package sec

import (
	"errors"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/device/devicetest"
	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRSACard() *devicetest.Card {
	return devicetest.NewCard(device.AlgorithmInfo{Algorithm: device.AlgorithmRSA, KeyLength: 512, Flags: device.RSARaw})
}

func TestRetryAfterRevalidation(t *testing.T) {
	card := rawRSACard()
	card.Fail(devicetest.CallDecipher, statusNotSatisfied())
	card.Respond(devicetest.CallDecipher, []byte("plain"))
	tok := newToken(card)

	out := make([]byte, 64)
	n, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), out, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out[:n]))

	assert.Equal(t, 2, card.Count(devicetest.CallDecipher))
	assert.Equal(t, 2, card.Count(devicetest.CallSelect))
	assert.Equal(t, 2, card.Count(devicetest.CallSetEnv))
	assert.Equal(t, 1, card.Count(devicetest.CallVerifyPIN))
	assert.Equal(t, [][]byte{[]byte("123456")}, card.PINs())
	assert.Equal(t, 1, card.Count(devicetest.CallLock))
	assert.Equal(t, 1, card.Count(devicetest.CallUnlock))
}

func TestRetryHappensOnce(t *testing.T) {
	card := rawRSACard()
	second := statusNotSatisfied()
	card.Fail(devicetest.CallDecipher, statusNotSatisfied(), second)
	tok := newToken(card)

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	require.Error(t, err)
	assert.Same(t, second, err)
	assert.Equal(t, 2, card.Count(devicetest.CallDecipher))
	assert.Equal(t, 1, card.Count(devicetest.CallVerifyPIN))
	assert.Equal(t, 1, card.Count(devicetest.CallUnlock))
}

func TestRevalidationFailureIsReturned(t *testing.T) {
	card := rawRSACard()
	card.Fail(devicetest.CallDecipher, statusNotSatisfied())
	pinErr := objects.NewError("devicetest", "pin blocked", pkcs11.CKR_PIN_LOCKED)
	card.Fail(devicetest.CallVerifyPIN, pinErr)
	tok := newToken(card)

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	assert.Same(t, pinErr, err)
	assert.Equal(t, 1, card.Count(devicetest.CallDecipher))
}

func TestNoRetryWithoutCachedPIN(t *testing.T) {
	card := rawRSACard()
	card.Fail(devicetest.CallDecipher, statusNotSatisfied())
	tok := NewToken(card, NewCachedPIN(card, 1))

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	assert.True(t, objects.HasCode(err, objects.SecurityStatusNotSatisfied))
	assert.Equal(t, 1, card.Count(devicetest.CallDecipher))
	assert.Zero(t, card.Count(devicetest.CallVerifyPIN))
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	card := rawRSACard()
	devErr := errors.New("card removed")
	card.Fail(devicetest.CallDecipher, devErr)
	tok := newToken(card)

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	assert.Equal(t, devErr, err)
	assert.Equal(t, 1, card.Count(devicetest.CallDecipher))
	assert.Equal(t, pkcs11.Error(pkcs11.CKR_GENERAL_ERROR), objects.Code(err))
}

func TestLockFailure(t *testing.T) {
	card := rawRSACard()
	lockErr := objects.NewError("devicetest", "reader busy", objects.DeviceError)
	card.Fail(devicetest.CallLock, lockErr)
	tok := newToken(card)

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	assert.Same(t, lockErr, err)
	assert.Equal(t, []string{devicetest.CallLock}, card.Calls())
}

func TestSelectFailureStillUnlocks(t *testing.T) {
	card := rawRSACard()
	card.Fail(devicetest.CallSelect, errors.New("file not found"))
	tok := newToken(card)

	_, err := tok.Decipher(privateKey(objects.KeyRSA, 512, objects.UsageDecrypt), device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
	require.Error(t, err)
	assert.Equal(t, []string{devicetest.CallLock, devicetest.CallSelect, devicetest.CallUnlock}, card.Calls())
}

func TestKeyFileSelection(t *testing.T) {
	appDir := objects.NewPath(0x3F, 0x00, 0x50, 0x15)

	tests := []struct {
		name     string
		path     objects.Path
		appDir   *objects.Path
		selected *objects.Path
		fileRef  []byte
		code     pkcs11.Error
	}{
		{
			name:     "relative to application",
			path:     objects.Path{Value: []byte{0x44, 0x01}, Type: objects.PathTypeFileID},
			appDir:   &appDir,
			selected: &objects.Path{Value: []byte{0x3F, 0x00, 0x50, 0x15, 0x44, 0x01}, Type: objects.PathTypePath},
			fileRef:  []byte{0x44, 0x01},
		},
		{
			name:     "full path",
			path:     keyPath,
			selected: &keyPath,
			fileRef:  []byte{0x44, 0x01},
		},
		{
			name:     "allocated object",
			path:     objects.Path{AID: []byte{0xA0, 0x00, 0x00, 0x00, 0x63}},
			selected: &objects.Path{AID: []byte{0xA0, 0x00, 0x00, 0x00, 0x63}},
		},
		{
			name: "no location",
		},
		{
			name: "file id without application",
			path: objects.Path{Value: []byte{0x44, 0x01}, Type: objects.PathTypeFileID},
			code: objects.InvalidArguments,
		},
		{
			name: "one byte path",
			path: objects.NewPath(0x44),
			code: objects.InvalidArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := rawRSACard()
			tok := newToken(card)
			tok.AppDir = tt.appDir

			key := privateKey(objects.KeyRSA, 512, objects.UsageDecrypt)
			key.Path = tt.path
			_, err := tok.Decipher(key, device.RSARaw, make([]byte, 64), make([]byte, 64), nil)
			if tt.code != 0 {
				assert.Equal(t, tt.code, objects.Code(err))
				assert.Zero(t, card.Count(devicetest.CallDecipher))
				return
			}
			require.NoError(t, err)

			selected := card.Selected()
			if tt.selected == nil {
				assert.Empty(t, selected)
			} else {
				require.Len(t, selected, 1)
				assert.True(t, tt.selected.Equals(selected[0]), "selected %s", selected[0])
			}

			env, ok := card.LastEnv()
			require.True(t, ok)
			if tt.fileRef == nil {
				assert.False(t, env.Has(device.EnvFileRefPresent))
			} else {
				assert.True(t, env.Has(device.EnvFileRefPresent))
				assert.Equal(t, tt.fileRef, env.FileRef.Value)
			}
		})
	}
}

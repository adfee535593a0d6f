package padding

import (
	"testing"

	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name      string
		requested device.AlgFlags
		caps      device.AlgFlags
		pad       device.AlgFlags
		sec       device.AlgFlags
	}{
		{
			name:      "card pads and hashes",
			requested: device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
			caps:      device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
			sec:       device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
		},
		{
			name:      "software digest info, card pads",
			requested: device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
			caps:      device.RSAPadPKCS1Type01,
			pad:       device.RSAHashSHA256,
			sec:       device.RSAPadPKCS1Type01,
		},
		{
			name:      "software padding over raw RSA",
			requested: device.RSAPadPKCS1Type01 | device.RSAHashNone,
			caps:      device.RSARaw,
			pad:       device.RSAPadPKCS1Type01 | device.RSAHashNone,
			sec:       device.RSARaw,
		},
		{
			name:      "software type 02 strip",
			requested: device.RSAPadPKCS1Type02,
			caps:      device.RSARaw | device.RSAPadPKCS1Type01,
			pad:       device.RSAPadPKCS1Type02,
			sec:       device.RSARaw,
		},
		{
			name:      "PSS on card keeps MGF",
			requested: device.RSAPadPSS | device.RSAHashSHA256 | device.MGF1SHA256,
			caps:      device.RSAPadPSS | device.RSAHashSHA256,
			sec:       device.RSAPadPSS | device.RSAHashSHA256 | device.MGF1SHA256,
		},
		{
			name:      "PSS in software keeps the hash off the card",
			requested: device.RSAPadPSS | device.RSAHashSHA256 | device.MGF1SHA256,
			caps:      device.RSARaw | device.RSAPadPKCS1Type01 | device.RSAHashSHA256,
			pad:       device.RSAPadPSS | device.RSAHashSHA256 | device.MGF1SHA256,
			sec:       device.RSARaw,
		},
		{
			name:      "OAEP in software",
			requested: device.RSAPadOAEP | device.RSAHashSHA1 | device.MGF1SHA1,
			caps:      device.RSARaw,
			pad:       device.RSAPadOAEP | device.RSAHashSHA1 | device.MGF1SHA1,
			sec:       device.RSARaw,
		},
		{
			name:      "raw ECDSA",
			requested: device.ECDSARaw,
			caps:      device.ECDSARaw | device.ECDSAHashSHA256,
			sec:       device.ECDSARaw,
		},
		{
			name:      "card hashes ECDSA without raw",
			requested: device.ECDSAHashSHA256,
			caps:      device.ECDSAHashSHA256,
			sec:       device.ECDSAHashSHA256,
		},
		{
			name:      "ECDH",
			requested: device.ECDHCDHRaw,
			caps:      device.ECDHCDHRaw,
			sec:       device.ECDHCDHRaw,
		},
		{
			name:      "AES mode passes through",
			requested: device.AESCBCPad,
			caps:      device.AESECB,
			sec:       device.AESCBCPad,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pad, sec, err := Negotiate(tt.requested, tt.caps)
			require.NoError(t, err)
			assert.Equal(t, tt.pad, pad, "pad %s", pad)
			assert.Equal(t, tt.sec, sec, "sec %s", sec)
		})
	}
}

func TestNegotiateNotSupported(t *testing.T) {
	tests := []struct {
		name      string
		requested device.AlgFlags
		caps      device.AlgFlags
	}{
		{"software padding without raw RSA", device.RSAPadPKCS1Type01, device.RSAPadPSS},
		{"no padding without raw", device.RSAPadNone, device.RSAPadPKCS1Type01},
		{"two paddings", device.RSAPadPKCS1Type01 | device.RSAPadPSS, device.RSARaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Negotiate(tt.requested, tt.caps)
			require.Error(t, err)
			assert.True(t, objects.HasCode(err, objects.NotSupported))
		})
	}
}

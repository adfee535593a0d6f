package virtual

import (
	"crypto/elliptic"
	"testing"

	"github.com/niclabs/cardmw/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport(t *testing.T) {
	src := New("source", userPIN, soPIN)
	gen := []func() (*objects.KeyHandle, error){
		func() (*objects.KeyHandle, error) { return src.GenerateRSA("rsa", path(0x01), 1024) },
		func() (*objects.KeyHandle, error) { return src.GenerateEC("ec", path(0x02), elliptic.P256()) },
		func() (*objects.KeyHandle, error) { return src.GenerateEd25519("ed", path(0x03)) },
		func() (*objects.KeyHandle, error) { return src.GenerateX25519("x", path(0x04)) },
		func() (*objects.KeyHandle, error) { return src.GenerateThresholdRSA("tc", path(0x05), 512, 2, 3) },
	}
	for _, g := range gen {
		_, err := g()
		require.NoError(t, err)
	}
	aes, err := src.GenerateAES("aes", path(0x06), 128)
	require.NoError(t, err)

	dst := New("destination", userPIN, soPIN)
	for _, k := range src.Keys() {
		data, err := src.Export(k.Path)
		require.NoError(t, err)
		imported, err := dst.Import(*k, data)
		require.NoError(t, err, k.Label)
		assert.Equal(t, k.ID, imported.ID)
		assert.Equal(t, k.Label, imported.Label)
		assert.Equal(t, k.Type, imported.Type)
		assert.True(t, k.Path.Equals(imported.Path))

		if k.IsSecret() {
			continue
		}
		want, err := src.PublicKey(k.Path)
		require.NoError(t, err)
		got, err := dst.PublicKey(imported.Path)
		require.NoError(t, err)
		assert.Equal(t, want, got, k.Label)
	}

	want, err := src.Export(aes.Path)
	require.NoError(t, err)
	got, err := dst.Export(aes.Path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, dst.Keys(), 6)
}

func TestImportRejectsGarbage(t *testing.T) {
	card := New("card", userPIN, soPIN)
	_, err := card.Import(objects.KeyHandle{Path: path(0x01)}, []byte("not a key"))
	assert.Equal(t, objects.InvalidData, int(objects.Code(err)))

	_, err = card.Export(path(0x09))
	assert.Error(t, err)
}

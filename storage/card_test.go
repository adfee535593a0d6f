package storage_test

import (
	"crypto/rsa"
	"path/filepath"
	"testing"

	"github.com/niclabs/cardmw/device/virtual"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/storage"
	"github.com/niclabs/cardmw/storage/sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	userPIN = []byte("648219")
	soPIN   = []byte("12345678")
)

func TestRecordHandle(t *testing.T) {
	k := &objects.KeyHandle{
		ID:     "id",
		Label:  "label",
		Class:  objects.ClassPrivate,
		Type:   objects.KeyEC,
		Usage:  objects.UsageSign,
		Size:   256,
		Path:   objects.NewPath(0x3F, 0x00, 0x44, 0x01),
		KeyRef: objects.Ref(2),
	}
	got, err := storage.NewRecord("token", k, nil).Handle()
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = (&storage.KeyRecord{Path: "zz"}).Handle()
	assert.Error(t, err)
}

func TestSaveLoadCard(t *testing.T) {
	dir, err := sqlite3.Open(&sqlite3.Config{Path: filepath.Join(t.TempDir(), "keys.db")})
	require.NoError(t, err)
	defer dir.Close()

	src := virtual.New("token", userPIN, soPIN)
	rsaKey, err := src.GenerateRSA("rsa", objects.NewPath(0x3F, 0x00, 0x44, 0x01), 1024)
	require.NoError(t, err)
	_, err = src.GenerateAES("aes", objects.NewPath(0x3F, 0x00, 0x44, 0x02), 256)
	require.NoError(t, err)
	require.NoError(t, storage.SaveCard(dir, "token", src))

	dst := virtual.New("token", userPIN, soPIN)
	n, err := storage.LoadCard(dir, "token", dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys := dst.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, rsaKey.ID, keys[0].ID)
	assert.Equal(t, "aes", keys[1].Label)

	want, err := src.PublicKey(rsaKey.Path)
	require.NoError(t, err)
	got, err := dst.PublicKey(rsaKey.Path)
	require.NoError(t, err)
	assert.True(t, want.(*rsa.PublicKey).Equal(got))

	n, err = storage.LoadCard(dir, "other", virtual.New("other", userPIN, soPIN))
	require.NoError(t, err)
	assert.Zero(t, n)
}

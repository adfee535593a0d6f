package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/niclabs/cardmw/criptoki"
	"github.com/niclabs/cardmw/objects"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
criptoki:
  description: test middleware
  slotsperreader: 2
  appdir: 3F005015
logging:
  verbose: true
storage:
  type: sqlite3
sqlite3:
  path: %s
readers:
  - name: first
    token: alpha
    userpin: "648219"
    sopin: "12345678"
  - name: second
metrics:
  listen: 127.0.0.1:0
`

func writeConfig(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(testConfig, filepath.Join(dir, "keys.db"))
	require.NoError(t, os.WriteFile(file, []byte(body), 0600))
	return file
}

func TestLoadConfig(t *testing.T) {
	conf, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	def := criptoki.DefaultConfig()
	assert.Equal(t, "test middleware", conf.Criptoki.Description)
	assert.Equal(t, def.ManufacturerID, conf.Criptoki.ManufacturerID)
	assert.Equal(t, 2, conf.Criptoki.SlotsPerReader)
	assert.Equal(t, def.PINReference, conf.Criptoki.PINReference)
	assert.Equal(t, "sqlite3", conf.Storage.Type)
	require.Len(t, conf.Readers, 2)
	assert.Equal(t, "alpha", conf.Readers[0].Token)
	assert.Equal(t, "648219", conf.Readers[0].UserPIN)
	assert.Empty(t, conf.Readers[1].Token)
	assert.Equal(t, "127.0.0.1:0", conf.Metrics.Listen)
	assert.Equal(t, "/metrics", conf.Metrics.Path)
	assert.Equal(t, 5*time.Second, conf.Metrics.Timeout)

	mod := conf.Criptoki.Module()
	assert.Equal(t, "3F005015", mod.AppDir)
	assert.Equal(t, def.VersionMajor, mod.VersionMajor)
}

func TestLoadConfigMissingFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewDirectory(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir, err := NewDirectory("")
	require.NoError(t, err)
	assert.Nil(t, dir)

	_, err = NewDirectory("postgres")
	assert.Error(t, err)

	_, err = NewDirectory("sqlite3")
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	conf, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	env, err := NewEnvironment(conf)
	require.NoError(t, err)
	require.Len(t, env.Readers, 2)
	card := env.Cards["alpha"]
	require.NotNil(t, card)
	key, err := card.GenerateAES("aes", objects.NewPath(0x3F, 0x00, 0x50, 0x15, 0x44, 0x01), 128)
	require.NoError(t, err)
	require.NoError(t, env.Save())

	m, err := env.Module(conf.Criptoki)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(&criptoki.InitArgs{}))
	slots, err := m.GetSlotList(true)
	require.NoError(t, err)
	assert.Equal(t, []uint{0}, slots)
	require.NoError(t, m.Finalize())
	require.NoError(t, env.Close())

	// a new environment finds the saved key
	again, err := NewEnvironment(conf)
	require.NoError(t, err)
	defer again.Close()
	keys := again.Cards["alpha"].Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	orphans, err := again.Orphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// without its reader the saved token is reported
	conf.Readers = conf.Readers[1:]
	moved, err := NewEnvironment(conf)
	require.NoError(t, err)
	defer moved.Close()
	orphans, err = moved.Orphans()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, orphans)
}

func TestEnvironmentDuplicateToken(t *testing.T) {
	conf := &Config{Readers: []*ReaderConfig{
		{Name: "a", Token: "same"},
		{Name: "b", Token: "same"},
	}}
	_, err := NewEnvironment(conf)
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cardmw.log")
	l, err := InitLogger(LogConfig{File: file})
	require.NoError(t, err)
	l.Info("hello")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	_, err = InitLogger(LogConfig{File: filepath.Join(t.TempDir(), "missing", "cardmw.log")})
	assert.Error(t, err)
}

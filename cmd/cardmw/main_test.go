package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/niclabs/cardmw/core"
	"github.com/niclabs/cardmw/metrics"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
criptoki:
  appdir: 3F005015
logging:
  file: %s
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
`

// executeCommand runs a fresh root command with args and returns its
// output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(testConfig, filepath.Join(dir, "cardmw.log"), filepath.Join(dir, "keys.db"))
	require.NoError(t, os.WriteFile(file, []byte(body), 0600))
	return file
}

func TestSlots(t *testing.T) {
	config := writeConfig(t)
	out, err := executeCommand(t, "slots", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "Slot 0:")
	assert.Contains(t, out, "Token Label:  alpha")
	assert.Contains(t, out, "Slot 4:")
	assert.Contains(t, out, "(not present)")

	out, err = executeCommand(t, "slots", "--present", "--config", config)
	require.NoError(t, err)
	assert.NotContains(t, out, "Slot 4:")
}

func TestInterfaces(t *testing.T) {
	out, err := executeCommand(t, "interfaces", "--config", writeConfig(t))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "PKCS 11 3.00 flags=0x0 (default)", lines[0])
	assert.Equal(t, "PKCS 11 2.20 flags=0x0", lines[1])
}

func TestKeygenAndSign(t *testing.T) {
	config := writeConfig(t)
	out, err := executeCommand(t, "keygen", "--config", config,
		"--token", "alpha", "--type", "rsa", "--bits", "1024", "--label", "signing", "--id", "4401")
	require.NoError(t, err)
	assert.Contains(t, out, "3f0050154401")

	doc := filepath.Join(t.TempDir(), "document.txt")
	require.NoError(t, os.WriteFile(doc, []byte("sign me"), 0600))

	// the key survives in the key directory between runs
	out, err = executeCommand(t, "sign", "--config", config,
		"--pin", "648219", "--label", "signing", "--mechanism", "sha256-rsa-pkcs", doc)
	require.NoError(t, err)
	sig, err := hex.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, sig, 128)

	_, err = executeCommand(t, "sign", "--config", config,
		"--pin", "000000", "--label", "signing", doc)
	assert.Error(t, err)

	_, err = executeCommand(t, "sign", "--config", config,
		"--pin", "648219", "--label", "missing", doc)
	assert.ErrorContains(t, err, "no private key")

	_, err = executeCommand(t, "sign", "--config", config,
		"--pin", "648219", "--label", "signing", "--mechanism", "md2", doc)
	assert.ErrorContains(t, err, "unknown mechanism")
}

func TestKeygenErrors(t *testing.T) {
	config := writeConfig(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown token", []string{"--token", "beta", "--label", "k", "--id", "4401"}, "token \"beta\" not found"},
		{"bad file id", []string{"--token", "alpha", "--label", "k", "--id", "44"}, "invalid file id"},
		{"bad curve", []string{"--token", "alpha", "--type", "ec", "--bits", "255", "--label", "k", "--id", "4401"}, "no curve"},
		{"bad threshold", []string{"--token", "alpha", "--threshold", "2", "--label", "k", "--id", "4401"}, "threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"keygen", "--config", config}, tt.args...)
			_, err := executeCommand(t, args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestMetricsServer(t *testing.T) {
	metrics.RecordOperation("sign", nil)
	srv := metricsServer(core.MetricsConfig{Listen: "127.0.0.1:0", Path: "/metrics", Timeout: time.Second})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cardmw_operations_total")
	assert.Contains(t, string(body), "cardmw_sessions_open")
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-timonel/updater"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TIMONEL_LOG_LEVEL", "error")
	t.Setenv("TIMONEL_TIMING_STAR_DELAY", "0s")
	t.Setenv("TIMONEL_TIMING_PAGE_WRITE_DELAY", "0s")
	t.Setenv("TIMONEL_TIMING_DELETE_DELAY", "0s")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeBinary(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	data[0], data[1] = 0x0F, 0xC0
	path := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "timonel-mms 1.5.0\n", out)
}

func TestScanCmdYAML(t *testing.T) {
	out, err := execute(t, "scan", "--simulate", "--output", "yaml")
	require.NoError(t, err)

	var devices []struct {
		Addr     uint16 `yaml:"addr"`
		Firmware string `yaml:"firmware"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, uint16(0x0B), devices[0].Addr)
	assert.Equal(t, "Timonel", devices[0].Firmware)
	assert.Equal(t, uint16(0x0D), devices[1].Addr)
}

func TestStatusCmd(t *testing.T) {
	out, err := execute(t, "status", "0x0B", "--simulate")
	require.NoError(t, err)
	assert.Contains(t, out, "Device address: 0x0B")
	assert.Contains(t, out, "Application start: none")
}

func TestStatusCmdYAML(t *testing.T) {
	out, err := execute(t, "status", "--simulate", "-o", "yaml")
	require.NoError(t, err)

	var views []statusView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "T", views[0].Signature)
	assert.Equal(t, "1.5", views[0].Version)
	assert.Contains(t, views[0].Features, "AUTO_PAGE_ADDR")
}

func TestRunCmd(t *testing.T) {
	path := writeBinary(t, 100)

	out, err := execute(t, "run", "--simulate", "--loops", "1", "--payload", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Cycle 1")
	assert.Contains(t, out, "0x0B: updating application (100 bytes)")
	assert.Contains(t, out, "0x0D: application started on 0x29")
}

func TestRunCmdYAML(t *testing.T) {
	t.Setenv("TIMONEL_LOG_LEVEL", "error")
	t.Setenv("TIMONEL_TIMING_STAR_DELAY", "0s")
	t.Setenv("TIMONEL_TIMING_PAGE_WRITE_DELAY", "0s")
	t.Setenv("TIMONEL_TIMING_DELETE_DELAY", "0s")
	path := writeBinary(t, 100)

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"run", "--simulate", "--loops", "1", "--payload", path, "-o", "yaml"})
	require.NoError(t, root.Execute())

	var cycles []updater.Cycle
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &cycles), stdout.String())
	require.Len(t, cycles, 1)
	require.Len(t, cycles[0].Results, 2)
	assert.True(t, cycles[0].Results[0].Updated)
	assert.NotContains(t, stdout.String(), "Cycle 1")
	assert.Contains(t, stderr.String(), "0x0B: updating application (100 bytes)")
}

func TestUploadCmd(t *testing.T) {
	path := writeBinary(t, 70)

	out, err := execute(t, "upload", "0x0B", path, "--simulate")
	require.NoError(t, err)
	assert.Contains(t, out, "0x0B: 70 bytes written")
	assert.Contains(t, out, "complete")
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"application address", []string{"exec", "0x30", "--simulate"}},
		{"bad address", []string{"delete", "zz", "--simulate"}},
		{"missing payload", []string{"upload", "0x0B", "--simulate"}},
		{"absent slave", []string{"info", "0x10", "--simulate"}},
		{"bad output", []string{"scan", "--simulate", "-o", "json"}},
		{"bad board", []string{"scan", "--simulate", "--board", "uno"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseAddr(t *testing.T) {
	addr, err := parseAddr("11")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0B), addr)

	addr, err = parseAddr("0x23")
	require.NoError(t, err)
	assert.Equal(t, uint16(35), addr)

	_, err = parseAddr("0x24")
	assert.Error(t, err)
}

func TestInspectCmd(t *testing.T) {
	path := writeBinary(t, 300)

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Size:   300 bytes")
	assert.Contains(t, out, "Entry:  0x0020")
	assert.Contains(t, out, "Pages:  5 of 64 bytes")
	assert.Contains(t, out, "... and 1 more pages")
}

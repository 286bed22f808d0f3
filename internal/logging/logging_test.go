package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-timonel/bootloader"
)

var _ bootloader.Logger = (*Logger)(nil)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	log.With("session", "abc").Info("page written", "addr", "0x0B", "page", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "page written", entry["message"])
	assert.Equal(t, "abc", entry["session"])
	assert.Equal(t, "0x0B", entry["addr"])
	assert.Equal(t, float64(3), entry["page"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "error", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Error("shown", "err", "boom")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Console: true, Output: &buf})
	require.NoError(t, err)

	log.Info("hello", "addr", "0x0B")
	out := buf.String()
	assert.True(t, strings.Contains(out, "hello"))
	assert.True(t, strings.Contains(out, "addr="))
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("ignored", "k", 1) })
}

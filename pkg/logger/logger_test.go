package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecificLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := SpecificLevelWriter{Writer: &buf, Levels: []zerolog.Level{zerolog.ErrorLevel}}

	n, err := w.WriteLevel(zerolog.InfoLevel, []byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, len("dropped"), n)
	assert.Empty(t, buf.String())

	_, err = w.WriteLevel(zerolog.ErrorLevel, []byte("kept"))
	require.NoError(t, err)
	assert.Equal(t, "kept", buf.String())
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	err := Configure(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestConfigureWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bootstrap.log")
	require.NoError(t, Configure(Options{Level: "debug", File: path, MaxSizeMB: 1}))
	t.Cleanup(func() { _ = Configure(Options{}) })

	Infof("hello %s", "file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello file"`)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { _ = Configure(Options{}) })

	l := With("packager")
	l.Info().Msg("pruned")
	assert.Contains(t, buf.String(), `"component":"packager"`)
}

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, err := New(Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pitchcoach.log")
	logger, err := New(Options{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	logger.Infow("session started", "id", "abc")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"id":"abc"`), "log file: %s", data)
}

func TestNop(t *testing.T) {
	l := Nop()
	require.NotNil(t, l)
	l.Infof("discarded %d", 1)
}

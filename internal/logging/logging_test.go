package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"study-chat/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "study-chat.log")
	logger, closeFn, err := New(config.LogConfig{File: path, Level: "info"})
	require.NoError(t, err)

	logger.Named("session").Info("stream failed", zap.String("id", "abc"))
	logger.Debug("dropped below level")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "session", entry["logger"])
	assert.Equal(t, "stream failed", entry["message"])
	assert.Equal(t, "abc", entry["id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	assert.Error(t, err)
}

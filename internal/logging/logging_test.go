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
)

func TestInitializeFileJSON(t *testing.T) {
	defer Initialize(DefaultConfig())

	path := filepath.Join(t.TempDir(), "cca.log")
	require.NoError(t, Initialize(Config{Level: "warn", Format: "json", Output: path}))

	Info("hidden")
	Named("allocator").Warn("Dropped cost records", zap.Int("records", 2))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "allocator", entry["logger"])
	assert.Equal(t, "Dropped cost records", entry["msg"])
	assert.Equal(t, 2.0, entry["records"])
	assert.Contains(t, entry, "timestamp")
}

func TestSetLevel(t *testing.T) {
	defer Initialize(DefaultConfig())

	path := filepath.Join(t.TempDir(), "cca.log")
	require.NoError(t, Initialize(Config{Level: "bogus", Format: "console", Output: path}))
	Debug("first")

	require.NoError(t, SetLevel("debug"))
	Debug("second")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "first")
	assert.Contains(t, string(data), "second")
	assert.Contains(t, string(data), "DEBUG")

	assert.Error(t, SetLevel("loud"))
}

func TestInitializeBadOutput(t *testing.T) {
	err := Initialize(Config{Output: filepath.Join(t.TempDir(), "missing", "cca.log")})
	assert.Error(t, err)
}

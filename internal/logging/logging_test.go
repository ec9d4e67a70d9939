package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProductionLevel(t *testing.T) {
	logger, err := New("production", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestInstallWritesRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "shop.log")

	flush, err := Install("development", file)
	require.NoError(t, err)
	zap.S().Infow("sale submitted", "sale_id", "s1")
	flush()

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sale_id":"s1"`)
}

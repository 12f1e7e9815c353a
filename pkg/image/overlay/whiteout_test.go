package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWhiteoutOnlyZeroZero(t *testing.T) {
	assert.True(t, IsWhiteout(0, 0))
	assert.False(t, IsWhiteout(1, 0))
	assert.False(t, IsWhiteout(0, 1))
}

func TestIsOpaqueOnDirectoryWithoutXattrsIsFalse(t *testing.T) {
	isOpaque, err := IsOpaque(t.TempDir())
	assert.NoError(t, err)
	assert.False(t, isOpaque)
}

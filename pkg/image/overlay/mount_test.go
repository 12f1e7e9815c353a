package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareBeforeInitFails(t *testing.T) {
	m := NewMountConfig(t.TempDir())
	assert.Error(t, m.Prepare())
}

func TestInitRejectsEmptyLowerDirs(t *testing.T) {
	m := NewMountConfig(t.TempDir())
	assert.Error(t, m.Init())
}

func TestTeardownOnUnmountedConfigIsNoop(t *testing.T) {
	m := NewMountConfig(t.TempDir())
	assert.NoError(t, m.Teardown())
}

func TestFinishWithoutPrepareFails(t *testing.T) {
	m := NewMountConfig(t.TempDir())
	assert.Error(t, m.Finish())
}

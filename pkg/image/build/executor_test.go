package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageConfigAddEnvPreservesFirstSeenOrder(t *testing.T) {
	c := NewImageConfig()
	c.AddEnv("PATH", "/usr/bin")
	c.AddEnv("LANG", "C")
	c.AddEnv("PATH", "/usr/local/bin:/usr/bin")

	assert.Equal(t, []string{"PATH=/usr/local/bin:/usr/bin", "LANG=C"}, c.Envp())
}

func TestImageConfigAddLabelLastWriteWins(t *testing.T) {
	c := NewImageConfig()
	c.AddLabel("maintainer", "a")
	c.AddLabel("maintainer", "b")
	assert.Equal(t, "b", c.Labels["maintainer"])
}

func TestSplitExecOrShellExecForm(t *testing.T) {
	assert.Equal(t, []string{"/bin/echo", "hi"}, splitExecOrShell(`["/bin/echo", "hi"]`))
}

func TestSplitExecOrShellShellFormPrefixesShC(t *testing.T) {
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi && true"}, splitExecOrShell("echo hi && true"))
}

func TestSplitExecOrShellEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, splitExecOrShell(""))
}

func TestRunInRootRejectsEmptyCommand(t *testing.T) {
	err := runInRoot("/", nil, nil)
	assert.Error(t, err)
}

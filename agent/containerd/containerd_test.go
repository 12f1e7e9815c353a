package containerd

import (
	"testing"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ref string) (string, error) { return "/nonexistent", nil }

func TestEntrypointForPrefersSpecCommand(t *testing.T) {
	rt, err := New(t.TempDir(), stubFetcher{}, 8)
	require.NoError(t, err)

	got, err := rt.entrypointFor("/unused", PodSpec{ID: "p1", Command: []string{"/bin/echo", "hi"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "hi"}, got)
}

func TestStopPodUnknownIDIsInvalidInput(t *testing.T) {
	rt, err := New(t.TempDir(), stubFetcher{}, 8)
	require.NoError(t, err)

	err = rt.StopPod("ghost")
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidInput, errkind.Of(err))
}

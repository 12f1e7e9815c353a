package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSplitsOnFromAndAlias(t *testing.T) {
	stages, err := Parse(`
FROM alpine:3.19 AS builder
RUN echo hi
FROM builder
COPY --from=builder /out /out
`)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "alpine:3.19", stages[0].Base)
	assert.Equal(t, "builder", stages[0].Alias)
	require.Len(t, stages[0].Instructions, 1)
	assert.Equal(t, KindRun, stages[0].Instructions[0].Kind)
}

func TestParseRejectsInstructionBeforeFrom(t *testing.T) {
	_, err := Parse("RUN echo hi\nFROM alpine\n")
	assert.Error(t, err)
}

func TestParseRejectsUnknownInstruction(t *testing.T) {
	_, err := Parse("FROM alpine\nHEALTHCHECK CMD true\n")
	assert.Error(t, err)
}

func TestParseRejectsFromPlatformFlag(t *testing.T) {
	_, err := Parse("FROM --platform=linux/arm64 alpine\n")
	assert.Error(t, err)
}

func TestRejectCopyFlagsAllowsNoFlags(t *testing.T) {
	assert.NoError(t, RejectCopyFlags(nil, 1))
}

func TestRejectCopyFlagsRejectsAny(t *testing.T) {
	assert.Error(t, RejectCopyFlags([]string{"--chown=0:0"}, 4))
}

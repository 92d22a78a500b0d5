package cmd

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestExitCodeForNil(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
}

func TestExitCodeForPlainError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(errors.New("task failed")))
}

func TestExitCodeForWrappedError(t *testing.T) {
	err := withExitCode(errors.New("bad config"), 2)
	assert.Equal(t, 2, exitCodeFor(err))
	assert.ErrorContains(t, err, "bad config")
}

func TestWithExitCodeNilIsNil(t *testing.T) {
	assert.NilError(t, withExitCode(nil, 2))
}

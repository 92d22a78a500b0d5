package ci

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

// clearCIEnv strips every variable the detector consults so tests run
// identically on developer machines and in CI itself.
func clearCIEnv(t *testing.T) {
	t.Helper()
	for _, v := range vendors {
		t.Setenv(v.Env, "")
		os.Unsetenv(v.Env)
	}
	for _, marker := range genericMarkers {
		t.Setenv(marker, "")
		os.Unsetenv(marker)
	}
}

func TestNotCI(t *testing.T) {
	clearCIEnv(t)
	assert.Equal(t, false, IsCi())
	assert.Equal(t, "", Name())
}

func TestDetectsVendorByMarker(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("GITHUB_ACTIONS", "true")

	assert.Equal(t, true, IsCi())
	assert.Equal(t, "GitHub Actions", Name())
	assert.Equal(t, "GITHUB_ACTIONS", Constant())
}

func TestValueGatedMarker(t *testing.T) {
	clearCIEnv(t)

	// Vercel's marker requires the exact value "1".
	t.Setenv("VERCEL", "yes")
	assert.Equal(t, "", Name())

	t.Setenv("VERCEL", "1")
	assert.Equal(t, "Vercel", Name())
}

func TestGenericMarkerWithoutVendor(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("CI", "true")

	assert.Equal(t, true, IsCi())
	assert.Equal(t, "", Name())
}

func TestEmptyMarkerDoesNotMatch(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("GITLAB_CI", "")

	assert.Equal(t, false, IsCi())
}

package toolchainadapter

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/id"
)

func TestVersionRequirement(t *testing.T) {
	ok, err := VersionRequirement("18.12.0", ">=16.0.0, <19.0.0")
	assert.NilError(t, err)
	assert.Assert(t, ok)

	ok, err = VersionRequirement("14.0.0", ">=16.0.0")
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestVersionRequirementInvalidConstraint(t *testing.T) {
	_, err := VersionRequirement("1.0.0", "not-a-constraint")
	assert.ErrorContains(t, err, "invalid constraint")
}

func TestNodeRegisterToolchain(t *testing.T) {
	n := &Node{
		Id:             id.MustNew("node"),
		PackageManager: "npm",
		LockFile:       "package-lock.json",
		ManifestFile:   "package.json",
	}
	resp, err := n.RegisterToolchain()
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"package-lock.json"}, resp.LockFileNames)
	assert.DeepEqual(t, []string{"npm"}, resp.ExeNames)
}

func TestNodeInstallDependenciesCommand(t *testing.T) {
	n := &Node{Id: id.MustNew("node"), PackageManager: "yarn"}
	resp, err := n.InstallDependencies(InstallDependenciesRequest{Root: "/repo"})
	assert.NilError(t, err)
	assert.Assert(t, resp.InstallCommand != nil)
	assert.Equal(t, "yarn", resp.InstallCommand.Command)
	assert.DeepEqual(t, []string{"install"}, resp.InstallCommand.Args)
	assert.Equal(t, "/repo", resp.InstallCommand.WorkingDir)
}

func TestNodeExecCommand(t *testing.T) {
	n := &Node{Id: id.MustNew("node"), PackageManager: "npm"}
	spec := n.ExecCommand("build", []string{"--watch"})
	assert.Equal(t, "npm", spec.Command)
	assert.DeepEqual(t, []string{"run", "build", "--watch"}, spec.Args)
}

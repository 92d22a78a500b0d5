// Package toolchainadapter defines the ToolchainAdapter capability and
// the plugin RPC request/response contract used to talk to it. The plugin
// host runtime lives elsewhere; this package carries the contract as Go
// interfaces/structs, plus one in-process reference adapter exercising it
// (a generalized node-like toolchain).
package toolchainadapter

import (
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver"

	"github.com/moonrepo/moon/internal/id"
)

// CommandSpec is the wire shape of a command value in the plugin RPC
// contract: "{ command, args, env, working_dir?, stream?,
// allow_failure?, retry_count, cache?, inputs }".
type CommandSpec struct {
	Command      string
	Args         []string
	Env          map[string]string
	WorkingDir   string
	Stream       bool
	AllowFailure bool
	RetryCount   int
	Cache        *bool
	Inputs       []string
}

// RegisterToolchainResponse is the response to register_toolchain().
type RegisterToolchainResponse struct {
	LockFileNames     []string
	ManifestFileNames []string
	VendorDirName     string
	ExeNames          []string
}

// InitializeToolchainRequest/Response model initialize_toolchain({context}).
type InitializeToolchainRequest struct {
	WorkspaceRoot string
	Context       map[string]string
}

type InitializeToolchainResponse struct {
	DefaultSettings map[string]string
	Prompts         []string
	DocsURL         string
}

// SyncProjectRequest/Response model sync_project({project, dependencies, config}).
type SyncProjectRequest struct {
	Project      string
	Dependencies []string
	Config       map[string]string
}

type SyncProjectResponse struct {
	ChangedFiles []string
	Operations   []string
}

// InstallDependenciesRequest/Response model install_dependencies({project?, root, config}).
type InstallDependenciesRequest struct {
	Project string
	Root    string
	Config  map[string]string
}

type InstallDependenciesResponse struct {
	InstallCommand *CommandSpec
	DedupeCommand  *CommandSpec
}

// Adapter is the ToolchainAdapter capability: the request/response
// contract a toolchain plugin implements.
type Adapter interface {
	ToolchainId() id.Id
	RegisterToolchain() (RegisterToolchainResponse, error)
	InitializeToolchain(req InitializeToolchainRequest) (InitializeToolchainResponse, error)
	SyncWorkspace() error
	SyncProject(req SyncProjectRequest) (SyncProjectResponse, error)
	InstallDependencies(req InstallDependenciesRequest) (InstallDependenciesResponse, error)
	DetectVersion(root string) (string, error)
	ParseVersionFile(path string) (string, error)
	// ExecCommand builds the base invocation (command, args, env, PATH
	// injections) for a task, consumed by the Command Builder.
	ExecCommand(task string, args []string) CommandSpec
}

// VersionRequirement checks a detected version against a semver
// constraint.
func VersionRequirement(detected, constraint string) (bool, error) {
	v, err := semver.NewVersion(detected)
	if err != nil {
		return false, fmt.Errorf("toolchainadapter: invalid detected version %q: %w", detected, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("toolchainadapter: invalid constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

// Node is a reference ToolchainAdapter for a node-like ecosystem,
// generalized from internal/packagemanager's yarn/npm/pnpm descriptors
// into a single configurable adapter (the host distinguishes ecosystems by
// Id, not by Go type, mirroring how the real system treats toolchains as
// data-described plugins rather than compiled-in cases).
type Node struct {
	Id              id.Id
	PackageManager  string // "npm" | "yarn" | "pnpm" | "bun"
	LockFile        string
	ManifestFile    string
	VendorDir       string
	VersionFilePath string

	detectedVersion string
}

var _ Adapter = (*Node)(nil)

func (n *Node) ToolchainId() id.Id { return n.Id }

func (n *Node) RegisterToolchain() (RegisterToolchainResponse, error) {
	return RegisterToolchainResponse{
		LockFileNames:     []string{n.LockFile},
		ManifestFileNames: []string{n.ManifestFile},
		VendorDirName:     n.VendorDir,
		ExeNames:          []string{n.PackageManager},
	}, nil
}

func (n *Node) InitializeToolchain(InitializeToolchainRequest) (InitializeToolchainResponse, error) {
	return InitializeToolchainResponse{
		DefaultSettings: map[string]string{"packageManager": n.PackageManager},
		DocsURL:         "",
	}, nil
}

func (n *Node) SyncWorkspace() error { return nil }

func (n *Node) SyncProject(req SyncProjectRequest) (SyncProjectResponse, error) {
	return SyncProjectResponse{}, nil
}

func (n *Node) InstallDependencies(req InstallDependenciesRequest) (InstallDependenciesResponse, error) {
	install := CommandSpec{
		Command:    n.PackageManager,
		Args:       []string{"install"},
		WorkingDir: req.Root,
		RetryCount: 2,
	}
	return InstallDependenciesResponse{InstallCommand: &install}, nil
}

func (n *Node) DetectVersion(root string) (string, error) {
	// A plugin-backed adapter invokes `<packageManager> --version`; this
	// in-process reference adapter reports the configured manifest
	// expectation as a stand-in.
	return n.detectedVersion, nil
}

func (n *Node) ParseVersionFile(path string) (string, error) {
	return filepath.Base(path), nil
}

func (n *Node) ExecCommand(task string, args []string) CommandSpec {
	return CommandSpec{
		Command: n.PackageManager,
		Args:    append([]string{"run", task}, args...),
	}
}

// SetDetectedVersion is used by tests/fixtures; a real plugin would compute
// this by invoking the toolchain binary.
func (n *Node) SetDetectedVersion(v string) { n.detectedVersion = v }

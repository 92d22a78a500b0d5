// Package command implements the Command Builder & Executor:
// it turns an expanded Task plus its ToolchainAdapter-built invocation
// into a concrete *exec.Cmd, then runs it with one of three I/O modes,
// line prefixing, a long-running heartbeat, and bounded retries.
package command

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/toolchainadapter"
)

// BuiltCommand is the fully-resolved invocation ready for the Executor.
type BuiltCommand struct {
	Command     string
	Args        []string
	Env         map[string]string
	WorkingDir  string
	Shell       bool
	Interactive bool
	Persistent  bool
	RetryCount  int
	OutputStyle project.OutputStyle
}

// BuildOptions carries the action-graph/pipeline context the Builder needs
// beyond the project and task themselves.
type BuildOptions struct {
	WorkspaceRoot   string
	CacheDir        string
	PassthroughArgs []string
	DepArgs         []string
	DepEnv          map[string]string
	// AffectedFiles is nil/empty when no files are affected; the builder
	// then injects "." so commands still work.
	AffectedFiles     []string
	ProjectSnapshotID string
}

// Build resolves the working directory, asks the toolchain adapter for the
// base invocation, appends passthrough/dependency args and env, and
// injects the standard MOON_* environment.
func Build(p *project.Project, task project.Task, tc toolchainadapter.Adapter, opts BuildOptions) (BuiltCommand, error) {
	workingDir := p.Root
	if task.Options.RunFromWorkspaceRoot {
		workingDir = opts.WorkspaceRoot
	}

	base := tc.ExecCommand(task.Target.Task.String(), task.Args)

	args := append([]string{}, base.Args...)
	args = append(args, opts.PassthroughArgs...)
	args = append(args, opts.DepArgs...)

	env := make(map[string]string, len(base.Env)+len(task.Env)+len(opts.DepEnv)+12)
	for k, v := range base.Env {
		env[k] = v
	}
	for k, v := range task.Env {
		env[k] = v
	}
	for k, v := range opts.DepEnv {
		env[k] = v
	}

	env["MOON_PROJECT_ID"] = p.Id.String()
	env["MOON_PROJECT_ROOT"] = p.Root
	env["MOON_PROJECT_SOURCE"] = p.Source
	env["MOON_WORKSPACE_ROOT"] = opts.WorkspaceRoot
	env["MOON_WORKING_DIR"] = workingDir
	env["MOON_TARGET"] = task.Target.String()
	env["MOON_CACHE_DIR"] = opts.CacheDir
	env["MOON_PROJECT_SNAPSHOT"] = opts.ProjectSnapshotID
	env["PWD"] = workingDir

	if task.Options.AffectedFiles {
		affected := opts.AffectedFiles
		if len(affected) == 0 {
			env["MOON_AFFECTED_FILES"] = "."
			args = append(args, ".")
		} else {
			sorted := append([]string(nil), affected...)
			sort.Strings(sorted)
			env["MOON_AFFECTED_FILES"] = strings.Join(sorted, ",")
			args = append(args, sorted...)
		}
	}

	command := base.Command
	if command == "" {
		command = task.Script
	}
	if len(task.Command) > 0 && command == "" {
		command = task.Command[0]
		args = append(append([]string{}, task.Command[1:]...), args...)
	}
	if command == "" {
		return BuiltCommand{}, fmt.Errorf("command: %s: no command resolved from task or toolchain adapter", task.Target)
	}

	return BuiltCommand{
		Command:     command,
		Args:        args,
		Env:         env,
		WorkingDir:  workingDir,
		Shell:       task.Options.Shell,
		Interactive: task.Options.Interactive,
		Persistent:  task.Options.Persistent,
		RetryCount:  task.Options.RetryCount,
		OutputStyle: task.Options.OutputStyle,
	}, nil
}

// shellInvocation wraps command/args in the platform's configured shell,
// mirroring what "shell: false" disables.
func shellInvocation(cmd BuiltCommand) (string, []string) {
	if !cmd.Shell {
		return cmd.Command, cmd.Args
	}
	full := strings.Join(append([]string{cmd.Command}, cmd.Args...), " ")
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", full}
	}
	return "sh", []string{"-c", full}
}

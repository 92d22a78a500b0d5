package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/moonrepo/moon/internal/actiongraph"
	"github.com/moonrepo/moon/internal/ci"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/signals"
)

// parseDownstreamScope maps the --downstream flag's string values onto
// actiongraph.DownstreamScope.
func parseDownstreamScope(raw string) (actiongraph.DownstreamScope, error) {
	switch raw {
	case "", "none":
		return actiongraph.DownstreamNone, nil
	case "direct":
		return actiongraph.DownstreamDirect, nil
	case "deep":
		return actiongraph.DownstreamDeep, nil
	default:
		return actiongraph.DownstreamNone, withExitCode(fmt.Errorf("cmd: --downstream %q must be one of: none, direct, deep", raw), 2)
	}
}

// splitPassthrough separates the target arguments from anything following a
// literal "--" on the command line.
func splitPassthrough(cmd *cobra.Command, args []string) ([]string, []string) {
	dashAt := cmd.ArgsLenAtDash()
	if dashAt < 0 {
		return args, nil
	}
	return args[:dashAt], args[dashAt:]
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var affected bool
	var baseRevision string
	var downstream string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <target>... [-- <passthrough>]",
		Short: "Run one or more tasks and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			scope, err := parseDownstreamScope(downstream)
			if err != nil {
				return err
			}
			targets, passthrough := splitPassthrough(c, args)
			return execute(rc, runOptions{
				targets:         targets,
				affected:        affected,
				baseRevision:    baseRevision,
				downstream:      scope,
				passthroughArgs: passthrough,
				concurrency:     rc.concurrency,
				quiet:           quiet,
			})
		},
	}

	cmd.Flags().BoolVar(&affected, "affected", false, "only run tasks whose project touches a changed file")
	cmd.Flags().StringVar(&baseRevision, "base", "", "base revision affected-detection diffs against (default: VCS default branch)")
	cmd.Flags().StringVar(&downstream, "downstream", "none", "widen the affected set to dependents: none, direct, deep")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-action checkpoints, print only the summary")
	return cmd
}

// newCheckCmd wraps run with the flag set a local pre-push sanity check
// needs: affected-only, widened to direct dependents, same as `run --affected
// --downstream direct`.
func newCheckCmd(flags *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check <target>...",
		Short: "Run affected tasks and their direct dependents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			targets, passthrough := splitPassthrough(c, args)
			return execute(rc, runOptions{
				targets:         targets,
				affected:        true,
				downstream:      actiongraph.DownstreamDirect,
				passthroughArgs: passthrough,
				concurrency:     rc.concurrency,
				quiet:           quiet,
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-action checkpoints, print only the summary")
	return cmd
}

// newCiCmd wraps run with CI-shaped flags: it sets the CI and CICheck run
// requirements (the builder does not act on CICheck, so tasks with runInCI
// false run like any other) and the dependent closure widens all the
// way out (deep), matching a CI pipeline's need to validate everything a
// change could break. A disabled VCS adapter is a hard error here, not a
// warning, because a CI run that silently skips affected-detection is
// worse than one that fails loudly. signalWatcher gets a close hook so an interrupted CI run still
// announces that its summary is partial before the process exits.
func newCiCmd(flags *globalFlags, signalWatcher *signals.Watcher) *cobra.Command {
	var baseRevision string

	cmd := &cobra.Command{
		Use:   "ci <target>...",
		Short: "Run affected tasks the way a CI pipeline would",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			if !w.ws.Vcs.IsEnabled() {
				vendor := "an unidentified CI vendor"
				if ci.IsCi() {
					vendor = ci.Name()
				}
				return withExitCode(fmt.Errorf("cmd: ci: no usable VCS root detected under %s; affected-detection requires one (running under %s)", rc.root, vendor), 2)
			}

			targetArgs, passthrough := splitPassthrough(c, args)
			targets, err := parseTargets(targetArgs)
			if err != nil {
				return err
			}
			builder := actiongraph.NewBuilder(w.projects)
			graph, err := builder.Build(targets, actiongraph.RunRequirements{
				CI:         true,
				CICheck:    true,
				Dependents: actiongraph.DownstreamDeep,
			}, true)
			if err != nil {
				return withExitCode(fmt.Errorf("cmd: ci: building action graph: %w", err), 2)
			}

			signalWatcher.AddOnClose(func() {
				fmt.Fprintln(os.Stderr, "moon ci: interrupted, partial summary only")
			})

			return executeGraph(rc, w, graph, runOptions{
				affected:        true,
				baseRevision:    baseRevision,
				passthroughArgs: passthrough,
				concurrency:     rc.concurrency,
				quiet:           true,
			})
		},
	}

	cmd.Flags().StringVar(&baseRevision, "base", "", "base revision affected-detection diffs against (default: VCS default branch)")
	return cmd
}

// newQueryCmd exposes read-only JSON dumps over the project graph
// (projects, tasks, changed files), for editor/CI tooling that wants
// the same data the pipeline computes without running anything.
func newQueryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read-only JSON queries over the project and task graphs",
	}
	cmd.AddCommand(newQueryProjectsCmd(flags))
	cmd.AddCommand(newQueryTasksCmd(flags))
	cmd.AddCommand(newQueryChangedFilesCmd(flags))
	return cmd
}

type queryProject struct {
	Id           string   `json:"id"`
	Source       string   `json:"source"`
	Root         string   `json:"root"`
	Language     string   `json:"language"`
	Layer        string   `json:"layer"`
	Stack        string   `json:"stack"`
	Tags         []string `json:"tags"`
	Dependencies []string `json:"dependencies"`
	Tasks        []string `json:"tasks"`
}

func newQueryProjectsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List every project in the workspace as JSON",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			all := w.projects.GetAll()
			out := make([]queryProject, 0, len(all))
			for _, p := range all {
				deps := make([]string, 0, len(p.Dependencies))
				for depId := range p.Dependencies {
					deps = append(deps, depId.String())
				}
				sort.Strings(deps)

				tasks := make([]string, 0, len(p.Tasks))
				for taskId := range p.Tasks {
					tasks = append(tasks, taskId.String())
				}
				sort.Strings(tasks)

				tags := make([]string, 0, len(p.Tags))
				for _, tag := range p.Tags {
					tags = append(tags, tag.String())
				}

				out = append(out, queryProject{
					Id:           p.Id.String(),
					Source:       p.Source,
					Root:         p.Root,
					Language:     p.Language,
					Layer:        p.Layer,
					Stack:        p.Stack,
					Tags:         tags,
					Dependencies: deps,
					Tasks:        tasks,
				})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })

			return printJSON(out)
		},
	}
}

type queryTask struct {
	Target  string   `json:"target"`
	Command []string `json:"command"`
	Script  string   `json:"script,omitempty"`
	Deps    []string `json:"deps"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

func newQueryTasksCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks [project]",
		Short: "List every task in the workspace (or one project) as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			var projects []*project.Project
			if len(args) == 1 {
				p, err := w.projects.Get(args[0])
				if err != nil {
					return err
				}
				projects = []*project.Project{p}
			} else {
				projects = w.projects.GetAll()
			}

			out := map[string][]queryTask{}
			for _, p := range projects {
				tasks := make([]queryTask, 0, len(p.Tasks))
				for _, task := range p.Tasks {
					deps := make([]string, 0, len(task.Deps))
					for _, d := range task.Deps {
						deps = append(deps, d.Target.String())
					}
					tasks = append(tasks, queryTask{
						Target:  task.Target.String(),
						Command: task.Command,
						Script:  task.Script,
						Deps:    deps,
						Inputs:  append(append([]string{}, task.InputFiles...), task.InputGlobs...),
						Outputs: append(append([]string{}, task.OutputFiles...), task.OutputGlobs...),
					})
				}
				sort.Slice(tasks, func(i, j int) bool { return tasks[i].Target < tasks[j].Target })
				out[p.Id.String()] = tasks
			}

			return printJSON(out)
		},
	}
}

func newQueryChangedFilesCmd(flags *globalFlags) *cobra.Command {
	var baseRevision string

	cmd := &cobra.Command{
		Use:   "changed-files",
		Short: "List files touched relative to a base revision as JSON",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			touched, err := w.ws.Vcs.TouchedFiles(baseRevision)
			if err != nil {
				return fmt.Errorf("cmd: query changed-files: %w", err)
			}
			return printJSON(touched)
		},
	}

	cmd.Flags().StringVar(&baseRevision, "base", "", "base revision to diff against (default: VCS default branch)")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newCleanCmd removes the on-disk cache directory entirely; the next run
// re-populates it from scratch.
func newCleanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the .moon/cache directory",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			if err := os.RemoveAll(w.cache.Root.ToString()); err != nil {
				return fmt.Errorf("cmd: clean: removing %s: %w", w.cache.Root.ToString(), err)
			}
			return nil
		},
	}
}

// newSyncCmd drives a sync-only Action Graph (SyncWorkspace, toolchain
// setup/install, and SyncProject for every project, no task execution)
// through the same Pipeline a run uses, so toolchains and project manifests
// can be refreshed without running any tasks.
func newSyncCmd(flags *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the workspace and every project's toolchain without running tasks",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rc, err := flags.resolve()
			if err != nil {
				return err
			}
			w, err := wire(rc)
			if err != nil {
				return err
			}
			defer w.Close()

			builder := actiongraph.NewBuilder(w.projects)
			graph, err := builder.BuildSync()
			if err != nil {
				return withExitCode(fmt.Errorf("cmd: sync: building action graph: %w", err), 2)
			}

			return executeGraph(rc, w, graph, runOptions{
				concurrency: rc.concurrency,
				quiet:       quiet,
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-action checkpoints, print only the summary")
	return cmd
}

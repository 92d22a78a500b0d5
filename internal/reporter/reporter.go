// Package reporter implements the Reporter:
// the capability interface the Action Pipeline calls back into on
// checkpoint/attempt/finish events, plus a console implementation.
package reporter

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/moonrepo/moon/internal/actiongraph"
	"github.com/moonrepo/moon/internal/colorcache"
	"github.com/moonrepo/moon/internal/pipeline"
)

// Reporter is the capability consumed from the Action Pipeline:
// checkpoint (action started), attempt (task still running), and finish
// (action terminal result) callbacks. It mirrors pipeline.Hooks' shape so
// a Reporter implementation can be installed wholesale as Hooks.
type Reporter interface {
	Checkpoint(node actiongraph.ActionNode)
	Attempt(node actiongraph.ActionNode, elapsed time.Duration)
	Finish(node actiongraph.ActionNode, result pipeline.ActionResult)
}

// Console is the default Reporter: prefixed, color-coded lines to stdout
// via a cli.PrefixedUi per target, with a spinner for the overall run
// while any action is in flight.
type Console struct {
	ui     cli.Ui
	colors *colorcache.ColorCache
	logger hclog.Logger

	mu      sync.Mutex
	running int
	spin    *spinner.Spinner
	quiet   bool
}

// NewConsole constructs a Console reporter. quiet suppresses the spinner
// and the per-action lines, leaving only the final summary (used in CI log
// output where a spinner's carriage returns would corrupt the log).
func NewConsole(logger hclog.Logger, quiet bool) *Console {
	c := &Console{
		ui:     &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr},
		colors: colorcache.New(),
		logger: logger.Named("reporter"),
		quiet:  quiet,
	}
	if !quiet {
		c.spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	}
	return c
}

// Hooks adapts Console to pipeline.Hooks, wiring every callback the
// pipeline exposes: action started/finished, task started/finished, and
// the periodic still-running heartbeat.
func (c *Console) Hooks() pipeline.Hooks {
	return pipeline.Hooks{
		OnActionStarted:  c.Checkpoint,
		OnActionFinished: c.Finish,
		OnTaskStarted:    c.Checkpoint,
		OnTaskFinished:   c.Finish,
		OnTaskRunning:    c.Attempt,
	}
}

func (c *Console) prefixFor(node actiongraph.ActionNode) string {
	switch node.Kind {
	case actiongraph.KindRunTask:
		return c.colors.PrefixWithColor(node.Target.String(), node.Target.String())
	case actiongraph.KindSyncProject:
		return c.colors.PrefixWithColor(node.ProjectId.String(), node.ProjectId.String())
	default:
		return c.colors.PrefixWithColor(nodeLabel(node), nodeLabel(node))
	}
}

func nodeLabel(node actiongraph.ActionNode) string {
	switch node.Kind {
	case actiongraph.KindSyncWorkspace:
		return "sync-workspace"
	case actiongraph.KindSetupProto:
		return "setup-proto"
	case actiongraph.KindSetupToolchain:
		return "setup-toolchain:" + node.ToolchainId.String()
	case actiongraph.KindInstallDependencies:
		return "install-deps:" + node.ToolchainId.String()
	default:
		return node.Key()
	}
}

// Checkpoint reports that node has started. It bumps the in-flight count
// and starts the spinner on the first concurrently running action.
func (c *Console) Checkpoint(node actiongraph.ActionNode) {
	c.mu.Lock()
	c.running++
	if !c.quiet && c.running == 1 {
		c.spin.Start()
	}
	c.mu.Unlock()

	c.logger.Debug("action started", "action", node.Key())
}

// Attempt reports that a still-running task has passed another heartbeat
// interval.
func (c *Console) Attempt(node actiongraph.ActionNode, elapsed time.Duration) {
	if c.quiet {
		return
	}
	prefixed := &cli.PrefixedUi{
		Ui:           c.ui,
		OutputPrefix: c.prefixFor(node),
		InfoPrefix:   c.prefixFor(node),
	}
	prefixed.Info(fmt.Sprintf("still running after %s", elapsed.Round(time.Second)))
}

// Finish reports node's terminal ActionResult, stopping the spinner once
// no action remains in flight.
func (c *Console) Finish(node actiongraph.ActionNode, result pipeline.ActionResult) {
	c.mu.Lock()
	c.running--
	if !c.quiet && c.running == 0 {
		c.spin.Stop()
	}
	c.mu.Unlock()

	if c.quiet {
		c.logger.Debug("action finished", "action", node.Key(), "status", result.Status.String(), "detail", result.Detail.String())
		return
	}

	prefixed := &cli.PrefixedUi{
		Ui:           c.ui,
		OutputPrefix: c.prefixFor(node),
		InfoPrefix:   c.prefixFor(node),
		ErrorPrefix:  c.prefixFor(node),
		WarnPrefix:   c.prefixFor(node),
	}

	line := fmt.Sprintf("%s (%s)", result.Detail, result.Duration.Round(time.Millisecond))
	switch result.Detail {
	case pipeline.DetailCached, pipeline.DetailCachedFromRemote:
		prefixed.Info(color.CyanString(line))
	case pipeline.DetailFailed, pipeline.DetailFailedAndAbort, pipeline.DetailInvalid:
		if result.Err != nil {
			line = fmt.Sprintf("%s: %s", line, result.Err)
		}
		prefixed.Error(color.RedString(line))
	case pipeline.DetailSkipped:
		if result.Reason != "" {
			line = fmt.Sprintf("%s: %s", line, result.Reason)
		}
		prefixed.Warn(line)
	default:
		prefixed.Info(color.GreenString(line))
	}

	c.logger.Debug("action finished", "action", node.Key(), "status", result.Status.String(), "detail", result.Detail.String())
}

// Summary renders the pipeline.Summary's final tally to stdout, the way a
// CLI invocation's last line of output does.
func (c *Console) Summary(s *pipeline.Summary) {
	c.ui.Output(fmt.Sprintf(
		"%d total, %d succeeded, %d failed, %d skipped",
		s.Total, s.Succeeded, s.Failed, s.Skipped,
	))
}

// Package pipeline implements the Action Pipeline: it walks an
// ActionGraph in Kahn-topological batches bounded by a concurrency limit,
// hoists persistent and interactive actions into side pools that run
// alongside the main batch sequence, and applies a configurable bail
// policy when an action fails.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/moonrepo/moon/internal/actiongraph"
)

// BailPolicy controls what happens to the rest of the pipeline after an
// action fails.
type BailPolicy int

const (
	// Failed lets independent branches continue; only the failed action's
	// transitive dependents are marked Skipped.
	Failed BailPolicy = iota
	// FailedAndAbort cancels all pending work and drains whatever is
	// already running.
	FailedAndAbort
)

// ActionStatus is the terminal state of one ActionNode's execution.
type ActionStatus int

const (
	StatusSucceeded ActionStatus = iota
	StatusFailed
	StatusSkipped
)

func (s ActionStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// DetailedStatus is the full action status sum type: `Skipped |
// Passed | Cached | CachedFromRemote | Failed | FailedAndAbort | Invalid |
// Running`. It is strictly richer than the scheduler's own
// Succeeded/Failed/Skipped tri-state above, which is all the bail/skip
// propagation logic needs; Detail exists purely so a Reporter can tell a
// cache hit from a fresh pass, and a local cache hit from a remote one.
type DetailedStatus int

const (
	// DetailUnknown is the zero value: no DetailedExecutor reported
	// anything, so only the coarse ActionStatus above is meaningful.
	DetailUnknown DetailedStatus = iota
	DetailSkipped
	DetailPassed
	DetailCached
	DetailCachedFromRemote
	DetailFailed
	DetailFailedAndAbort
	DetailInvalid
	DetailRunning
)

func (s DetailedStatus) String() string {
	switch s {
	case DetailSkipped:
		return "skipped"
	case DetailPassed:
		return "passed"
	case DetailCached:
		return "cached"
	case DetailCachedFromRemote:
		return "cached-from-remote"
	case DetailFailed:
		return "failed"
	case DetailFailedAndAbort:
		return "failed-and-abort"
	case DetailInvalid:
		return "invalid"
	case DetailRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ActionResult records the outcome of one node.
type ActionResult struct {
	Node     actiongraph.ActionNode
	Status   ActionStatus
	Detail   DetailedStatus
	Err      error
	Reason   string // set for Skipped: "dependency failed" or "pipeline aborted"
	Duration time.Duration
}

// ActionExecutor performs the actual work behind a single ActionNode. The
// pipeline itself is oblivious to what a SyncWorkspace, SetupToolchain, or
// RunTask action does; it only owns scheduling, concurrency, and bail
// semantics. ctx is cancelled when FailedAndAbort fires.
type ActionExecutor interface {
	Execute(ctx context.Context, node actiongraph.ActionNode) error
}

// ActionExecutorFunc adapts a plain function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, node actiongraph.ActionNode) error

func (f ActionExecutorFunc) Execute(ctx context.Context, node actiongraph.ActionNode) error {
	return f(ctx, node)
}

// DetailedExecutor is an optional capability an ActionExecutor can
// implement to additionally report which DetailedStatus variant it
// finished with — distinguishing a cache hit
// (local or remote) from a fresh pass, or a validation failure (Invalid)
// from a runtime one (Failed). The scheduler still drives bail/skip
// propagation off the plain Execute/error contract; it only reads
// ExecuteDetailed's status to enrich the reported ActionResult.
type DetailedExecutor interface {
	ActionExecutor
	ExecuteDetailed(ctx context.Context, node actiongraph.ActionNode) (DetailedStatus, error)
}

// Hooks are the reporting callbacks. Any hook left nil is simply not
// called.
type Hooks struct {
	OnActionStarted  func(actiongraph.ActionNode)
	OnActionFinished func(actiongraph.ActionNode, ActionResult)
	OnTaskStarted    func(actiongraph.ActionNode)
	OnTaskFinished   func(actiongraph.ActionNode, ActionResult)
	OnTaskRunning    func(actiongraph.ActionNode, time.Duration)
}

const taskHeartbeatInterval = 30 * time.Second

// Options configures a Pipeline run.
type Options struct {
	// Concurrency bounds how many non-persistent, non-interactive actions
	// run at once. Zero means "detect logical CPU count".
	Concurrency int
	Bail        BailPolicy
	Hooks       Hooks
}

// Summary aggregates terminal statuses across every node in the graph.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Aborted   bool
	Results   map[string]ActionResult
}

// Err collapses every failed ActionResult into a single *multierror.Error,
// ordered deterministically by action key, or nil when nothing failed — the
// form cmd/moon wants for its top-level process exit-code decision.
func (s *Summary) Err() error {
	if s == nil || s.Failed == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Results))
	for k, r := range s.Results {
		if r.Status == StatusFailed {
			keys = append(keys, k)
		}
	}
	sortStrings(keys)

	var merr *multierror.Error
	for _, k := range keys {
		r := s.Results[k]
		if r.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", k, r.Err))
		} else {
			merr = multierror.Append(merr, fmt.Errorf("%s: failed", k))
		}
	}
	return merr.ErrorOrNil()
}

func sortStrings(s []string) {
	sort.Strings(s)
}

// Pipeline executes an actiongraph.Graph.
type Pipeline struct {
	graph    *actiongraph.Graph
	executor ActionExecutor
	opts     Options
}

// New constructs a Pipeline over graph, dispatching each node to executor.
func New(graph *actiongraph.Graph, executor ActionExecutor, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	return &Pipeline{graph: graph, executor: executor, opts: opts}
}

// Run walks the graph to completion and returns the aggregated Summary.
// The only error it can return is ctx's own error from being cancelled
// before the walk started; task failures are reported through Summary,
// never as a Go error.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes := p.graph.Nodes()
	byKey := make(map[string]actiongraph.ActionNode, len(nodes))
	deps := make(map[string][]string, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	remaining := make(map[string]int, len(nodes))

	for _, n := range nodes {
		k := n.Key()
		byKey[k] = n
		d := p.graph.DependsOn(n)
		deps[k] = d
		remaining[k] = len(d)
	}
	for k, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], k)
		}
	}

	s := &scheduler{
		pipeline:       p,
		byKey:          byKey,
		deps:           deps,
		dependents:     dependents,
		remaining:      remaining,
		normalSem:      make(chan struct{}, p.opts.Concurrency),
		interactiveSem: make(chan struct{}, 1),
		results:        make(map[string]ActionResult, len(nodes)),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	var initial []string
	for k, r := range remaining {
		if r == 0 {
			initial = append(initial, k)
		}
	}
	for _, k := range initial {
		s.dispatch(k)
	}
	s.wg.Wait()

	summary := &Summary{Total: len(nodes), Results: s.results}
	s.mu.Lock()
	summary.Aborted = s.aborted
	s.mu.Unlock()
	for _, r := range s.results {
		switch r.Status {
		case StatusSucceeded:
			summary.Succeeded++
		case StatusFailed:
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		}
	}
	return summary, nil
}

// scheduler is the mutable state driving one Pipeline.Run call. Every
// node transitions exactly once from "pending" to a terminal result; the
// transition is what decrements its dependents' remaining counters and,
// when that hits zero, dispatches them in turn.
type scheduler struct {
	pipeline *Pipeline

	byKey      map[string]actiongraph.ActionNode
	deps       map[string][]string
	dependents map[string][]string

	normalSem      chan struct{}
	interactiveSem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	wg        sync.WaitGroup
	remaining map[string]int
	results   map[string]ActionResult
	aborted   bool
}

// dispatch is called exactly once per node, the moment its dependency
// count reaches zero. It either resolves the node immediately as Skipped
// (a dependency failed, or the pipeline has aborted) or spawns a
// goroutine to actually run it.
func (s *scheduler) dispatch(key string) {
	node := s.byKey[key]

	s.mu.Lock()
	aborted := s.aborted
	skip := false
	if !aborted {
		for _, d := range s.deps[key] {
			if r, ok := s.results[d]; ok && r.Status != StatusSucceeded {
				skip = true
				break
			}
		}
	}
	s.mu.Unlock()

	if aborted {
		s.resolve(key, node, ActionResult{Node: node, Status: StatusSkipped, Detail: DetailSkipped, Reason: "pipeline aborted"})
		return
	}
	if skip {
		s.resolve(key, node, ActionResult{Node: node, Status: StatusSkipped, Detail: DetailSkipped, Reason: "dependency failed"})
		return
	}

	s.wg.Add(1)
	go s.run(key, node)
}

func (s *scheduler) run(key string, node actiongraph.ActionNode) {
	defer s.wg.Done()

	sem := s.normalSem
	if node.Interactive {
		sem = s.interactiveSem
	}
	if !node.Persistent {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-s.ctx.Done():
			s.resolve(key, node, ActionResult{Node: node, Status: StatusSkipped, Detail: DetailSkipped, Reason: "pipeline aborted"})
			return
		}
	}

	isTask := node.Kind == actiongraph.KindRunTask
	if h := s.pipeline.opts.Hooks.OnActionStarted; h != nil {
		h(node)
	}
	if isTask {
		if h := s.pipeline.opts.Hooks.OnTaskStarted; h != nil {
			h(node)
		}
	}

	var heartbeatStop chan struct{}
	var heartbeatDone chan struct{}
	if isTask && s.pipeline.opts.Hooks.OnTaskRunning != nil {
		heartbeatStop = make(chan struct{})
		heartbeatDone = make(chan struct{})
		go func() {
			defer close(heartbeatDone)
			start := time.Now()
			ticker := time.NewTicker(taskHeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatStop:
					return
				case <-ticker.C:
					s.pipeline.opts.Hooks.OnTaskRunning(node, time.Since(start))
				}
			}
		}()
	}

	start := time.Now()
	var err error
	var detail DetailedStatus
	if de, ok := s.pipeline.executor.(DetailedExecutor); ok {
		detail, err = de.ExecuteDetailed(s.ctx, node)
	} else {
		err = s.pipeline.executor.Execute(s.ctx, node)
	}
	duration := time.Since(start)

	if heartbeatStop != nil {
		close(heartbeatStop)
		<-heartbeatDone
	}

	result := ActionResult{Node: node, Duration: duration, Detail: detail}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		if detail == DetailUnknown {
			result.Detail = DetailFailed
		}
	} else {
		result.Status = StatusSucceeded
		if detail == DetailUnknown {
			result.Detail = DetailPassed
		}
	}

	if h := s.pipeline.opts.Hooks.OnActionFinished; h != nil {
		h(node, result)
	}
	if isTask {
		if h := s.pipeline.opts.Hooks.OnTaskFinished; h != nil {
			h(node, result)
		}
	}

	s.resolve(key, node, result)
}

// resolve records key's terminal result, applies the bail policy on
// failure, and dispatches every dependent whose remaining count has now
// reached zero.
func (s *scheduler) resolve(key string, node actiongraph.ActionNode, result ActionResult) {
	s.mu.Lock()
	if result.Status == StatusFailed && s.pipeline.opts.Bail == FailedAndAbort && !s.aborted {
		s.aborted = true
		result.Detail = DetailFailedAndAbort
		s.cancel()
	}
	s.results[key] = result

	var ready []string
	for _, dep := range s.dependents[key] {
		s.remaining[dep]--
		if s.remaining[dep] == 0 {
			ready = append(ready, dep)
		}
	}
	s.mu.Unlock()

	for _, k := range ready {
		s.dispatch(k)
	}
}

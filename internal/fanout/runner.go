// Package fanout runs one catalog command against every node at once and
// collects one result per node.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrej220/cassops/internal/catalog"
	"github.com/andrej220/cassops/internal/lg"
	"github.com/andrej220/cassops/pkg/executor"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

// ResultObserver is notified of every node result as it arrives. It is called
// from several goroutines at once.
type ResultObserver interface {
	ObserveResult(result dm.NodeResult)
}

// Report is the aggregated outcome of one fan-out, results in registry order.
type Report struct {
	Command string
	Label   string
	Results []dm.NodeResult
}

func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return len(r.Results) - r.Succeeded() }

// AllFailed is true when there was at least one node and none succeeded.
func (r Report) AllFailed() bool { return len(r.Results) > 0 && r.Succeeded() == 0 }

// Runner dispatches catalog commands through an Executor.
type Runner struct {
	exec        executor.Executor
	catalog     *catalog.Catalog
	concurrency int
	observers   []ResultObserver
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency caps the number of nodes contacted at once. Zero means one
// goroutine per node.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithObserver adds a result observer.
func WithObserver(o ResultObserver) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithTimeSource injects the clock used for per-node durations.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRunner(exec executor.Executor, cat *catalog.Catalog, opts ...Option) (*Runner, error) {
	if exec == nil {
		return nil, errors.New("executor must not be nil")
	}
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	r := &Runner{exec: exec, catalog: cat, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run validates params, then executes the named command on every node
// concurrently. It returns only when every node has a result. Node failures
// are data in the report; the returned error is reserved for problems found
// before any node was contacted.
func (r *Runner) Run(ctx context.Context, name string, nodes []dm.Node, params catalog.Params) (Report, error) {
	cmd, err := r.catalog.Lookup(name)
	if err != nil {
		return Report{}, err
	}
	rendered, err := r.catalog.Render(cmd, params)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Command: cmd.Name,
		Label:   r.catalog.DisplayLabel(cmd, params),
		Results: make([]dm.NodeResult, len(nodes)),
	}
	logger := lg.FromContext(ctx).With(lg.String("command", cmd.Name))
	logger.Info("fan-out started", lg.Int("nodes", len(nodes)), lg.String("remote_command", rendered.Line))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			// each goroutine owns exactly one slot
			report.Results[i] = r.dispatch(ctx, node, cmd, rendered)
			for _, o := range r.observers {
				o.ObserveResult(report.Results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("fan-out finished", lg.Int("succeeded", report.Succeeded()), lg.Int("failed", report.Failed()))
	return report, nil
}

func (r *Runner) dispatch(ctx context.Context, node dm.Node, cmd *catalog.Command, rendered executor.Command) dm.NodeResult {
	logger := lg.FromContext(ctx).With(lg.String("command", cmd.Name), lg.String("node", node.Address))
	start := r.now()
	result := dm.NodeResult{Node: node, Command: cmd.Name}

	out, err := r.exec.Run(ctx, node, rendered)
	if err != nil {
		logger.Warn("node unreachable", lg.Err(err))
		result.Error = err.Error()
		result.Unreachable = errors.Is(err, executor.ErrConnectivity)
		result.Duration = r.now().Sub(start)
		return result
	}

	outcome := r.catalog.Interpret(cmd, out)
	if outcome.Success && cmd.FollowUp != "" {
		outcome = r.requery(ctx, node, cmd.FollowUp)
	}
	result.Success = outcome.Success
	result.Value = outcome.Value
	result.Error = outcome.Error
	if !result.Success {
		logger.Warn("command failed on node", lg.String("error", result.Error))
	} else {
		logger.Debug("command succeeded on node", lg.String("value", result.Value))
	}
	result.Duration = r.now().Sub(start)
	return result
}

// requery runs the parameterless follow-up command and reports its value.
func (r *Runner) requery(ctx context.Context, node dm.Node, name string) catalog.Outcome {
	followUp, err := r.catalog.Lookup(name)
	if err != nil {
		return catalog.Outcome{Error: err.Error()}
	}
	rendered, err := r.catalog.Render(followUp, catalog.Params{})
	if err != nil {
		return catalog.Outcome{Error: err.Error()}
	}
	out, err := r.exec.Run(ctx, node, rendered)
	if err != nil {
		return catalog.Outcome{Error: fmt.Sprintf("applied, but %s re-query failed: %v", name, err)}
	}
	outcome := r.catalog.Interpret(followUp, out)
	if !outcome.Success {
		outcome.Error = fmt.Sprintf("applied, but %s re-query failed: %s", name, outcome.Error)
	}
	return outcome
}

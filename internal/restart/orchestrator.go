// Package restart drives a rolling restart: one node at a time, each one
// drained, restarted, verified and given time to settle before the next.
package restart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/cassops/internal/catalog"
	"github.com/andrej220/cassops/internal/lg"
	"github.com/andrej220/cassops/pkg/executor"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const (
	// RestartSettle lets the service manager finish the restart before status is polled.
	RestartSettle = 10 * time.Second
	// GossipSettle lets gossip and hint handoff settle before the next node is touched.
	GossipSettle = 60 * time.Second
)

// CredentialFunc supplies the sudo password. It is called once per run.
type CredentialFunc func(ctx context.Context) (string, error)

// Event is published on every step entry and step completion.
type Event struct {
	RunID uuid.UUID
	Node  dm.Node
	Index int
	Total int
	Step  Step
	// Result is set once the step's remote call finished.
	Result *dm.NodeResult
	// Wait is set when the step is about to sleep.
	Wait time.Duration
}

// Observer receives run events in order from the orchestrator's goroutine.
type Observer interface {
	OnEvent(Event)
}

// Orchestrator runs rolling restarts.
type Orchestrator struct {
	exec        executor.Executor
	catalog     *catalog.Catalog
	credentials CredentialFunc
	sleep       func(time.Duration)
	observers   []Observer
	now         func() time.Time
	newID       func() uuid.UUID
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleepFunc overrides the function used for the settle waits.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithCredentials sets the sudo password source for the restart command.
func WithCredentials(fn CredentialFunc) Option {
	return func(o *Orchestrator) {
		o.credentials = fn
	}
}

// WithObserver adds an event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithRunID fixes the run identifier.
func WithRunID(id uuid.UUID) Option {
	return func(o *Orchestrator) {
		o.newID = func() uuid.UUID { return id }
	}
}

func NewOrchestrator(exec executor.Executor, cat *catalog.Catalog, opts ...Option) (*Orchestrator, error) {
	if exec == nil {
		return nil, errors.New("executor must not be nil")
	}
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	for _, name := range []string{catalog.Drain, catalog.Restart, catalog.StatusCheck} {
		if _, err := cat.Lookup(name); err != nil {
			return nil, fmt.Errorf("catalog is missing %s: %w", name, err)
		}
	}
	o := &Orchestrator{
		exec:    exec,
		catalog: cat,
		sleep:   time.Sleep,
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run restarts nodes strictly in the given order. It stops at the first node
// whose status check fails and leaves already restarted nodes as they are.
// An abort is reported through Outcome; the error is only returned when the
// run could not start, in which case no node was contacted.
func (o *Orchestrator) Run(ctx context.Context, nodes []dm.Node) (Outcome, error) {
	r := newRun(o.newID(), nodes)
	logger := lg.FromContext(ctx).With(lg.String("run_id", r.id.String()))
	ctx = lg.Attach(ctx, logger)
	started := o.now()

	restartCmd, _ := o.catalog.Lookup(catalog.Restart)
	if restartCmd.Privileged && o.credentials != nil && len(nodes) > 0 {
		pw, err := o.credentials(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("obtain sudo credential: %w", err)
		}
		r.sudoPassword = pw
	}

	logger.Info("rolling restart started", lg.Int("nodes", len(nodes)))
	if len(nodes) > 0 {
		r.enter(StepDraining)
	}
	for !r.terminal() {
		o.step(ctx, r)
	}

	out := Outcome{
		RunID:      r.id,
		Status:     r.status,
		FailedNode: r.failedNode,
		Reason:     r.reason,
		Nodes:      r.progress,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	if out.Status == StatusAborted {
		logger.Error("rolling restart aborted", lg.String("node", out.FailedNode.Address), lg.String("reason", out.Reason),
			lg.Int("completed", out.Completed()))
	} else {
		logger.Info("rolling restart completed", lg.Int("completed", out.Completed()))
	}
	return out, nil
}

// step performs the work of the current node's step and moves the state machine on.
func (o *Orchestrator) step(ctx context.Context, r *run) {
	cur := r.current()
	logger := lg.FromContext(ctx).With(lg.String("node", cur.Node.Address), lg.String("step", string(cur.Step)))

	switch cur.Step {
	case StepDraining:
		o.publish(r, Event{})
		res, _ := o.invoke(ctx, cur.Node, catalog.Drain, "")
		cur.Drain = &res
		if !res.Success {
			// nothing to drain is a legitimate answer
			logger.Warn("drain failed, continuing", lg.String("error", res.Error))
		}
		o.publish(r, Event{Result: &res})
		r.enter(StepRestarting)

	case StepRestarting:
		o.publish(r, Event{})
		res, _ := o.invoke(ctx, cur.Node, catalog.Restart, r.sudoPassword)
		cur.Restart = &res
		if !res.Success {
			logger.Warn("restart reported failure, status check decides", lg.String("error", res.Error))
		}
		o.publish(r, Event{Result: &res})
		o.wait(r, RestartSettle)
		r.enter(StepVerifying)

	case StepVerifying:
		o.publish(r, Event{})
		res, raw := o.invoke(ctx, cur.Node, catalog.StatusCheck, "")
		cur.Verify = &res
		o.publish(r, Event{Result: &res})
		if !res.Success {
			reason := raw
			if reason == "" {
				reason = res.Error
			}
			r.abort(reason)
			o.publish(r, Event{Result: &res})
			return
		}
		r.enter(StepCoolingDown)

	case StepCoolingDown:
		// also after the last node, so the cluster is settled when the run reports done
		o.wait(r, GossipSettle)
		r.enter(StepDone)

	case StepDone:
		o.publish(r, Event{})
		r.next()
		if !r.terminal() {
			r.enter(StepDraining)
		}
	}
}

// invoke runs one catalog command on node and returns its result together with
// the raw output text (or the connectivity error text).
func (o *Orchestrator) invoke(ctx context.Context, node dm.Node, name, sudoPassword string) (dm.NodeResult, string) {
	start := o.now()
	result := dm.NodeResult{Node: node, Command: name}

	cmd, err := o.catalog.Lookup(name)
	if err != nil {
		result.Error = err.Error()
		return result, result.Error
	}
	rendered, err := o.catalog.Render(cmd, catalog.Params{})
	if err != nil {
		result.Error = err.Error()
		return result, result.Error
	}
	rendered.SudoPassword = sudoPassword

	out, err := o.exec.Run(ctx, node, rendered)
	result.Duration = o.now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		result.Unreachable = errors.Is(err, executor.ErrConnectivity)
		return result, result.Error
	}
	outcome := o.catalog.Interpret(cmd, out)
	result.Success = outcome.Success
	result.Value = outcome.Value
	result.Error = outcome.Error
	return result, rawOutput(out)
}

func (o *Orchestrator) wait(r *run, d time.Duration) {
	o.publish(r, Event{Wait: d})
	o.sleep(d)
}

func (o *Orchestrator) publish(r *run, ev Event) {
	cur := r.current()
	ev.RunID = r.id
	ev.Node = cur.Node
	ev.Index = r.index
	ev.Total = len(r.progress)
	ev.Step = cur.Step
	for _, obs := range o.observers {
		obs.OnEvent(ev)
	}
}

func rawOutput(out executor.Output) string {
	text := strings.TrimSpace(strings.Join(out.Stdout, "\n"))
	if text == "" {
		text = strings.TrimSpace(strings.Join(out.Stderr, "\n"))
	}
	return text
}

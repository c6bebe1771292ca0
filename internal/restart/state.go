package restart

import (
	"time"

	"github.com/google/uuid"

	dm "github.com/andrej220/cassops/pkg/shared-models"
)

// Step is the position of one node inside the rolling restart.
type Step string

const (
	StepPending     Step = "pending"
	StepDraining    Step = "draining"
	StepRestarting  Step = "restarting"
	StepVerifying   Step = "verifying_running"
	StepCoolingDown Step = "cooling_down"
	StepDone        Step = "done"
	StepFailed      Step = "failed"
)

// Terminal reports whether a node in this step needs no more work.
func (s Step) Terminal() bool { return s == StepDone || s == StepFailed }

// Status is the state of the whole run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// NodeProgress is everything the run did to one node.
type NodeProgress struct {
	Node    dm.Node
	Step    Step
	Visited []Step
	Drain   *dm.NodeResult
	Restart *dm.NodeResult
	Verify  *dm.NodeResult
}

// Outcome is the terminal state of a run.
type Outcome struct {
	RunID      uuid.UUID
	Status     Status
	FailedNode *dm.Node
	Reason     string
	Nodes      []NodeProgress
	StartedAt  time.Time
	FinishedAt time.Time
}

// Completed counts nodes that reached StepDone.
func (o Outcome) Completed() int {
	n := 0
	for _, p := range o.Nodes {
		if p.Step == StepDone {
			n++
		}
	}
	return n
}

// run is the mutable state of one rolling restart. Only the orchestrator's
// step functions touch it, and only one node is ever outside a terminal or
// pending step.
type run struct {
	id           uuid.UUID
	progress     []NodeProgress
	index        int
	status       Status
	failedNode   *dm.Node
	reason       string
	sudoPassword string
}

func newRun(id uuid.UUID, nodes []dm.Node) *run {
	progress := make([]NodeProgress, len(nodes))
	for i, n := range nodes {
		progress[i] = NodeProgress{Node: n, Step: StepPending}
	}
	r := &run{id: id, progress: progress, status: StatusRunning}
	if len(nodes) == 0 {
		r.status = StatusCompleted
	}
	return r
}

func (r *run) current() *NodeProgress { return &r.progress[r.index] }

func (r *run) terminal() bool { return r.status != StatusRunning }

func (r *run) enter(step Step) {
	cur := r.current()
	cur.Step = step
	cur.Visited = append(cur.Visited, step)
}

func (r *run) abort(reason string) {
	r.enter(StepFailed)
	node := r.current().Node
	r.failedNode = &node
	r.reason = reason
	r.status = StatusAborted
}

// next moves past a node that reached StepDone.
func (r *run) next() {
	r.index++
	if r.index >= len(r.progress) {
		r.index = len(r.progress) - 1
		r.status = StatusCompleted
	}
}

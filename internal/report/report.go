// Package report renders fan-out results and rolling restart progress for the
// operator.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andrej220/cassops/internal/fanout"
	"github.com/andrej220/cassops/internal/restart"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const failedPrefix = "FAILED: "

// Printer writes plain text reports. It is not safe for concurrent use; fan-out
// reports are printed after the join and restart events arrive on one goroutine.
type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// NodeLine formats one node result.
func NodeLine(label string, res dm.NodeResult) string {
	msg := res.Value
	if !res.Success {
		msg = failedPrefix + res.Error
	}
	return strings.TrimRight(fmt.Sprintf("Node: %s  %s %s", res.Node.Address, label, msg), " ")
}

// FanOut prints every node line in registry order followed by a summary.
func (p *Printer) FanOut(r fanout.Report) {
	for _, res := range r.Results {
		fmt.Fprintln(p.w, NodeLine(r.Label, res))
	}
	fmt.Fprintf(p.w, "%s: %d nodes, %d succeeded, %d failed\n", r.Command, len(r.Results), r.Succeeded(), r.Failed())
}

// OnEvent prints the rolling restart narrative.
func (p *Printer) OnEvent(ev restart.Event) {
	prefix := fmt.Sprintf("[%d/%d] %s:", ev.Index+1, ev.Total, ev.Node.Address)

	if ev.Wait > 0 {
		fmt.Fprintf(p.w, "%s waiting %s\n", prefix, ev.Wait.Round(time.Second))
		return
	}
	if ev.Result == nil {
		switch ev.Step {
		case restart.StepDraining:
			fmt.Fprintf(p.w, "%s draining\n", prefix)
		case restart.StepRestarting:
			fmt.Fprintf(p.w, "%s restarting\n", prefix)
		case restart.StepVerifying:
			fmt.Fprintf(p.w, "%s checking status\n", prefix)
		case restart.StepDone:
			fmt.Fprintf(p.w, "%s done\n", prefix)
		}
		return
	}

	res := ev.Result
	switch ev.Step {
	case restart.StepDraining:
		if res.Success {
			fmt.Fprintf(p.w, "%s drained\n", prefix)
		} else {
			fmt.Fprintf(p.w, "%s drain failed, continuing: %s\n", prefix, res.Error)
		}
	case restart.StepRestarting:
		if res.Success {
			fmt.Fprintf(p.w, "%s restart issued\n", prefix)
		} else {
			fmt.Fprintf(p.w, "%s restart reported a failure: %s\n", prefix, res.Error)
		}
	case restart.StepVerifying:
		if res.Success {
			fmt.Fprintf(p.w, "%s running (%s)\n", prefix, res.Value)
		} else {
			fmt.Fprintf(p.w, "%s NOT RUNNING: %s\n", prefix, res.Error)
		}
	}
}

// RollingRestart prints the closing banner.
func (p *Printer) RollingRestart(out restart.Outcome) {
	if out.Status == restart.StatusAborted && out.FailedNode != nil {
		bar := strings.Repeat("!", 60)
		fmt.Fprintln(p.w, bar)
		fmt.Fprintf(p.w, "ROLLING RESTART ABORTED at node %s: %s\n", out.FailedNode.Address, out.Reason)
		fmt.Fprintf(p.w, "%d of %d nodes restarted before the abort; remaining nodes were not touched\n",
			out.Completed(), len(out.Nodes))
		fmt.Fprintln(p.w, bar)
		return
	}
	fmt.Fprintf(p.w, "ROLLING RESTART COMPLETED (%d nodes in %s)\n",
		out.Completed(), out.FinishedAt.Sub(out.StartedAt).Round(time.Second))
}

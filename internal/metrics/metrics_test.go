package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/cassops/internal/restart"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := c.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func counterValue(t *testing.T, mf *dto.MetricFamily, labels map[string]string) float64 {
	t.Helper()
	require.NotNil(t, mf)
	for _, m := range mf.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no sample with labels %v in %s", labels, mf.GetName())
	return 0
}

func TestObserveResultCountsOutcomes(t *testing.T) {
	c := New()
	node := dm.Node{Address: "n1", DataCenter: "dc1"}
	c.ObserveResult(dm.NodeResult{Node: node, Command: "load", Success: true, Duration: 2 * time.Second})
	c.ObserveResult(dm.NodeResult{Node: node, Command: "load", Success: true, Duration: time.Second})
	c.ObserveResult(dm.NodeResult{Node: node, Command: "load", Error: "exit status 1"})
	c.ObserveResult(dm.NodeResult{Node: node, Command: "load", Error: "refused", Unreachable: true})

	mfs := gather(t, c)
	ops := mfs["cassops_node_operations_total"]
	assert.Equal(t, 2.0, counterValue(t, ops, map[string]string{"command": "load", "outcome": OutcomeSuccess}))
	assert.Equal(t, 1.0, counterValue(t, ops, map[string]string{"command": "load", "outcome": OutcomeFailure}))
	assert.Equal(t, 1.0, counterValue(t, ops, map[string]string{"command": "load", "outcome": OutcomeUnreachable}))

	hist := mfs["cassops_node_operation_duration_seconds"]
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(4), hist.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.InDelta(t, 3.0, hist.GetMetric()[0].GetHistogram().GetSampleSum(), 0.001)
}

func TestOnEventCountsRestartedNodes(t *testing.T) {
	c := New()
	n1 := dm.Node{Address: "n1"}
	n2 := dm.Node{Address: "n2"}
	verifyFailed := &dm.NodeResult{Node: n2, Command: "status", Error: "stopped"}

	for _, ev := range []restart.Event{
		{Node: n1, Step: restart.StepDraining},
		{Node: n1, Step: restart.StepDraining, Result: &dm.NodeResult{Node: n1, Command: "drain", Success: true}},
		{Node: n1, Step: restart.StepCoolingDown, Wait: restart.GossipSettle},
		{Node: n1, Step: restart.StepDone},
		{Node: n2, Step: restart.StepVerifying, Result: verifyFailed},
		{Node: n2, Step: restart.StepFailed, Result: verifyFailed},
	} {
		c.OnEvent(ev)
	}

	mfs := gather(t, c)
	nodes := mfs["cassops_rolling_restart_nodes_total"]
	assert.Equal(t, 1.0, counterValue(t, nodes, map[string]string{"outcome": "done"}))
	assert.Equal(t, 1.0, counterValue(t, nodes, map[string]string{"outcome": "failed"}))

	ops := mfs["cassops_node_operations_total"]
	assert.Equal(t, 1.0, counterValue(t, ops, map[string]string{"command": "drain", "outcome": OutcomeSuccess}))
	assert.Equal(t, 1.0, counterValue(t, ops, map[string]string{"command": "status", "outcome": OutcomeFailure}),
		"a failed verification is counted once")
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	c.ObserveResult(dm.NodeResult{Command: "flush", Success: true})

	path := filepath.Join(t.TempDir(), "cassops.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cassops_node_operations_total{command="flush",outcome="success"} 1`)

	assert.Error(t, c.WriteTextfile(""))
}

// Package metrics counts node operations of one invocation in a dedicated
// Prometheus registry that can be dumped for node_exporter's textfile collector.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrej220/cassops/internal/fanout"
	"github.com/andrej220/cassops/internal/restart"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const namespace = "cassops"

const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUnreachable = "unreachable"
)

// Collector records fan-out results and rolling restart events.
type Collector struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	restartNodes *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_operations_total",
			Help:      "Remote operations by command and outcome.",
		}, []string{"command", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_operation_duration_seconds",
			Help:      "Wall time of one remote operation including connection setup.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"command"}),
		restartNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rolling_restart_nodes_total",
			Help:      "Nodes that finished a rolling restart, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(c.operations, c.durations, c.restartNodes)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveResult implements fanout.ResultObserver.
func (c *Collector) ObserveResult(res dm.NodeResult) {
	c.operations.WithLabelValues(res.Command, Outcome(res)).Inc()
	c.durations.WithLabelValues(res.Command).Observe(res.Duration.Seconds())
}

// OnEvent implements restart.Observer.
func (c *Collector) OnEvent(ev restart.Event) {
	switch {
	case ev.Step == restart.StepFailed:
		// the verification result was already counted when its step finished
		c.restartNodes.WithLabelValues(string(restart.StepFailed)).Inc()
	case ev.Result != nil:
		c.ObserveResult(*ev.Result)
	case ev.Step == restart.StepDone && ev.Wait == 0:
		c.restartNodes.WithLabelValues(string(restart.StepDone)).Inc()
	}
}

// WriteTextfile writes the registry atomically in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics file path is empty")
	}
	return prometheus.WriteToTextfile(path, c.registry)
}

// Outcome classifies a node result for the outcome label.
func Outcome(res dm.NodeResult) string {
	switch {
	case res.Success:
		return OutcomeSuccess
	case res.Unreachable:
		return OutcomeUnreachable
	default:
		return OutcomeFailure
	}
}

var (
	_ fanout.ResultObserver = (*Collector)(nil)
	_ restart.Observer      = (*Collector)(nil)
)

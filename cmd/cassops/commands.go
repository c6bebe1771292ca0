package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/cassops/internal/catalog"
	"github.com/andrej220/cassops/internal/fanout"
	"github.com/andrej220/cassops/internal/lg"
	"github.com/andrej220/cassops/internal/persistence"
	"github.com/andrej220/cassops/internal/report"
	"github.com/andrej220/cassops/internal/restart"
)

const rollingRestartCommand = "rolling-restart"

func init() {
	for _, name := range []string{
		catalog.Version,
		catalog.Load,
		catalog.GetStreamThroughput,
		catalog.SetStreamThroughput,
		catalog.GetCompactionThroughput,
		catalog.SetCompactionThroughput,
		catalog.DisableCompaction,
		catalog.EnableCompaction,
		catalog.Flush,
		catalog.Drain,
		catalog.StatusCheck,
	} {
		registerCommand(name, fanOut(name), fanOutUsage(name), name)
	}
	registerCommand(rollingRestartCommand, rollingRestart, rollingRestartUsage, "")
}

func fanOutUsage(name string) string {
	switch name {
	case catalog.SetStreamThroughput, catalog.SetCompactionThroughput:
		return fmt.Sprintf("Usage: %s [flags] %s [-limit=N]\n", SERVICENAME, name)
	case catalog.DisableCompaction:
		return fmt.Sprintf("Usage: %s [flags] %s [-keyspace=NAME]\n", SERVICENAME, name)
	case catalog.EnableCompaction:
		return fmt.Sprintf("Usage: %s [flags] %s -keyspace=NAME\n", SERVICENAME, name)
	default:
		return fmt.Sprintf("Usage: %s [flags] %s\n", SERVICENAME, name)
	}
}

var rollingRestartUsage = `Usage: cassops [flags] rolling-restart

Drains, restarts and verifies every node, one at a time, in inventory order.
The sudo password is read from ` + sudoPasswordEnv + ` or asked for once.
`

// fanOut runs one catalog command on every node and prints a line per node.
func fanOut(name string) runFunc {
	return func(ctx context.Context, a *app, env *environment) int {
		logger := lg.FromContext(ctx)
		runner, err := fanout.NewRunner(env.exec, env.catalog,
			fanout.WithConcurrency(env.cfg.Fanout.Concurrency),
			fanout.WithObserver(env.metrics),
			fanout.WithTimeSource(a.now),
		)
		if err != nil {
			fmt.Fprintf(a.stderr, "%s: %v\n", name, err)
			return exitFailure
		}

		started := a.now()
		rep, err := runner.Run(ctx, name, env.nodes, env.params)
		if err != nil {
			logger.Error("command rejected", lg.Err(err))
			fmt.Fprintf(a.stderr, "%s: %v\n", name, err)
			if errors.Is(err, catalog.ErrValidation) {
				return exitUsage
			}
			return exitFailure
		}

		report.New(a.stdout).FanOut(rep)
		env.finish(ctx, persistence.FromFanOut(env.runID.String(), rep, started, a.now()))

		if env.failOnAllFailed && rep.AllFailed() {
			return exitFailure
		}
		return exitOK
	}
}

func rollingRestart(ctx context.Context, a *app, env *environment) int {
	printer := report.New(a.stdout)
	orch, err := restart.NewOrchestrator(env.exec, env.catalog,
		restart.WithSleepFunc(a.sleep),
		restart.WithCredentials(a.sudoCredentials()),
		restart.WithObserver(printer),
		restart.WithObserver(env.metrics),
		restart.WithTimeSource(a.now),
		restart.WithRunID(env.runID),
	)
	if err != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", rollingRestartCommand, err)
		return exitFailure
	}

	out, err := orch.Run(ctx, env.nodes)
	if err != nil {
		lg.FromContext(ctx).Error("rolling restart did not start", lg.Err(err))
		fmt.Fprintf(a.stderr, "%s: %v\n", rollingRestartCommand, err)
		return exitFailure
	}

	printer.RollingRestart(out)
	env.finish(ctx, persistence.FromRestart(rollingRestartCommand, out))

	if out.Status == restart.StatusAborted {
		return exitFailure
	}
	return exitOK
}

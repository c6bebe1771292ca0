package executor

import (
	"context"
	"errors"

	dm "github.com/andrej220/cassops/pkg/shared-models"
)

// ErrConnectivity marks failures to reach a node or to run anything on it.
// A command that ran and exited non-zero is not a connectivity error.
var ErrConnectivity = errors.New("remote connectivity error")

// Command is one remote shell invocation.
type Command struct {
	Line string
	// Privileged commands run through sudo. SudoPassword, when set, is fed on stdin.
	Privileged   bool
	SudoPassword string
}

// Output is what a command left behind on the remote side.
type Output struct {
	ExitStatus int
	Stdout     []string
	Stderr     []string
}

// Succeeded reports a zero exit status.
func (o Output) Succeeded() bool { return o.ExitStatus == 0 }

// Executor runs a command on a node over SSH (or any transport) and returns the
// captured output. The returned error wraps ErrConnectivity; command failures
// are reported through Output.ExitStatus.
type Executor interface {
	Run(ctx context.Context, node dm.Node, cmd Command) (Output, error)
}

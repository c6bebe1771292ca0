package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/andrej220/cassops/internal/lg"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const defaultSSHPort = 22

var _ Executor = (*SSHExecutor)(nil)

// SSHExecutor runs commands over one cached SSH connection per node.
// It is safe for concurrent use by the fan-out runner.
type SSHExecutor struct {
	cfg       ClientConfig
	sshConfig *ssh.ClientConfig

	mu      sync.Mutex
	clients map[string]*ResilientSSHClient
}

func NewSSHExecutor(cfg ClientConfig) (*SSHExecutor, error) {
	sshConfig, err := SSHClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	return &SSHExecutor{
		cfg:       cfg,
		sshConfig: sshConfig,
		clients:   make(map[string]*ResilientSSHClient),
	}, nil
}

func (e *SSHExecutor) Run(ctx context.Context, node dm.Node, cmd Command) (Output, error) {
	logger := lg.FromContext(ctx).With(lg.String("node", node.Address))

	client, err := e.client(ctx, node)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		// the connection may have gone away; the next call redials
		e.evict(node, client)
		return Output{}, fmt.Errorf("%w: new session: %v", ErrConnectivity, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	line := cmd.Line
	if cmd.Privileged {
		line = sudoLine(cmd)
		if cmd.SudoPassword != "" {
			sess.Stdin = strings.NewReader(cmd.SudoPassword + "\n")
		}
	}

	logger.Debug("running remote command", lg.String("command", cmd.Line), lg.Bool("privileged", cmd.Privileged))

	done := make(chan error, 1)
	go func() { done <- sess.Run(line) }()

	var runErr error
	select {
	case <-ctx.Done():
		sess.Close()
		return Output{}, fmt.Errorf("%w: %v", ErrConnectivity, ctx.Err())
	case runErr = <-done:
	}

	out := Output{
		Stdout: scanLines(&stdout),
		Stderr: scanLines(&stderr),
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return out, nil
	case errors.As(runErr, &exitErr):
		out.ExitStatus = exitErr.ExitStatus()
		return out, nil
	default:
		e.evict(node, client)
		return out, fmt.Errorf("%w: run: %v", ErrConnectivity, runErr)
	}
}

// Close closes every cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for addr, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(e.clients, addr)
	}
	return errors.Join(errs...)
}

func (e *SSHExecutor) client(ctx context.Context, node dm.Node) (*ResilientSSHClient, error) {
	addr := e.dialAddress(node)

	e.mu.Lock()
	c, ok := e.clients[addr]
	e.mu.Unlock()
	if ok {
		return c, nil
	}

	// dial outside the lock so nodes connect in parallel
	c, err := NewResilientClient(ctx, addr, e.sshConfig, NewResilienceConfig("ssh-"+addr, e.cfg.DialRetries))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.clients[addr]; ok {
		c.Close()
		return existing, nil
	}
	e.clients[addr] = c
	return c, nil
}

func (e *SSHExecutor) evict(node dm.Node, c *ResilientSSHClient) {
	addr := e.dialAddress(node)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clients[addr] == c {
		delete(e.clients, addr)
		c.Close()
	}
}

func (e *SSHExecutor) dialAddress(node dm.Node) string {
	if _, _, err := net.SplitHostPort(node.Address); err == nil {
		return node.Address
	}
	return net.JoinHostPort(node.Address, strconv.Itoa(e.cfg.Port))
}

// sudoLine wraps the command for sudo. With a password sudo reads it from
// stdin (-S) without printing a prompt; without one it must not block (-n).
func sudoLine(cmd Command) string {
	if cmd.SudoPassword != "" {
		return "sudo -S -p '' " + cmd.Line
	}
	return "sudo -n " + cmd.Line
}

func scanLines(r io.Reader) []string {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

package executor

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const (
	testUser     = "admin"
	testPassword = "secret"
)

type execHandler func(command string, stdin *bufio.Reader) (stdout string, status uint32)

type testServer struct {
	addr        string
	connections atomic.Int32
}

// startTestServer runs a minimal SSH server that only understands "exec" requests.
func startTestServer(t *testing.T, handler execHandler) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	cfg.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	srv := &testServer{addr: l.Addr().String()}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg, handler)
		}
	}()
	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig, handler execHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	s.connections.Add(1)
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				req.Reply(true, nil)
				out, status := handler(payload.Command, bufio.NewReader(ch))
				io.WriteString(ch, out)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
				return
			}
		}()
	}
}

func newTestExecutor(t *testing.T, password string) *SSHExecutor {
	t.Helper()
	exec, err := NewSSHExecutor(ClientConfig{
		User:            testUser,
		Password:        password,
		InsecureHostKey: true,
		DialTimeout:     2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func TestSSHExecutorRun(t *testing.T) {
	srv := startTestServer(t, func(command string, _ *bufio.Reader) (string, uint32) {
		switch command {
		case "/usr/sbin/cassandra -v":
			return "3.11.4\n", 0
		case "nodetool flush":
			return "nodetool: Failed to connect to '127.0.0.1:7199'\n", 1
		default:
			return "", 127
		}
	})
	exec := newTestExecutor(t, testPassword)
	node := dm.Node{Address: srv.addr, DataCenter: "dc1"}

	out, err := exec.Run(context.Background(), node, Command{Line: "/usr/sbin/cassandra -v"})
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, []string{"3.11.4"}, out.Stdout)

	out, err = exec.Run(context.Background(), node, Command{Line: "nodetool flush"})
	require.NoError(t, err, "a non-zero exit is a command failure, not a connectivity error")
	assert.False(t, out.Succeeded())
	assert.Equal(t, 1, out.ExitStatus)

	assert.EqualValues(t, 1, srv.connections.Load(), "connection should be reused per node")
}

func TestSSHExecutorPrivilegedFeedsSudoPassword(t *testing.T) {
	srv := startTestServer(t, func(command string, stdin *bufio.Reader) (string, uint32) {
		if command != "sudo -S -p '' service cassandra restart" {
			return "unexpected command " + command, 1
		}
		pw, _ := stdin.ReadString('\n')
		if strings.TrimSpace(pw) != "sudo-pw" {
			return "Sorry, try again.", 1
		}
		return "Restarting Cassandra: OK\n", 0
	})
	exec := newTestExecutor(t, testPassword)
	node := dm.Node{Address: srv.addr}

	out, err := exec.Run(context.Background(), node, Command{
		Line:         "service cassandra restart",
		Privileged:   true,
		SudoPassword: "sudo-pw",
	})
	require.NoError(t, err)
	assert.True(t, out.Succeeded(), "stdout: %v", out.Stdout)
}

func TestSSHExecutorConnectivityErrors(t *testing.T) {
	// grab a free port and release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := l.Addr().String()
	l.Close()

	_, err = newTestExecutor(t, testPassword).Run(context.Background(), dm.Node{Address: closedAddr}, Command{Line: "true"})
	assert.ErrorIs(t, err, ErrConnectivity)

	srv := startTestServer(t, func(string, *bufio.Reader) (string, uint32) { return "", 0 })
	_, err = newTestExecutor(t, "wrong").Run(context.Background(), dm.Node{Address: srv.addr}, Command{Line: "true"})
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestSSHClientConfig(t *testing.T) {
	_, err := SSHClientConfig(ClientConfig{User: "admin", InsecureHostKey: true})
	assert.Error(t, err, "no auth method")

	_, err = SSHClientConfig(ClientConfig{User: "admin", Password: "x"})
	assert.Error(t, err, "host key checking without known_hosts")

	_, err = SSHClientConfig(ClientConfig{User: "admin", KeyPath: "/nonexistent/id_ed25519", InsecureHostKey: true})
	assert.Error(t, err)

	cfg, err := SSHClientConfig(ClientConfig{User: "admin", Password: "x", InsecureHostKey: true, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.User)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestDialAddress(t *testing.T) {
	exec := &SSHExecutor{cfg: ClientConfig{Port: 2222}}
	assert.Equal(t, "10.0.0.1:2222", exec.dialAddress(dm.Node{Address: "10.0.0.1"}))
	assert.Equal(t, "10.0.0.1:22", exec.dialAddress(dm.Node{Address: "10.0.0.1:22"}))
	assert.Equal(t, "[fe80::1]:2222", exec.dialAddress(dm.Node{Address: "fe80::1"}))
}

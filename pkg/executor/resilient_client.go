package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ClientConfig describes how to reach and authenticate against nodes.
type ClientConfig struct {
	User            string
	Port            int
	KeyPath         string
	Password        string
	KnownHostsPath  string
	InsecureHostKey bool
	DialTimeout     time.Duration
	DialRetries     uint64
}

type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	MaxDialRetries         uint64
	CircuitBreakerSettings gobreaker.Settings
}

// ResilientSSHClient is one node's SSH connection with its own session breaker.
type ResilientSSHClient struct {
	SSHClient      *ssh.Client
	CircuitBreaker *gobreaker.CircuitBreaker
}

func NewResilienceConfig(name string, dialRetries uint64) *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings: &backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		MaxDialRetries: dialRetries,
		CircuitBreakerSettings: gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

// NewResilientClient dials addr, retrying only the dial itself. Authentication
// failures are not retried.
func NewResilientClient(ctx context.Context, addr string, config *ssh.ClientConfig, res *ResilienceConfig) (*ResilientSSHClient, error) {
	var client *ssh.Client
	operation := func() error {
		var err error
		client, err = ssh.Dial("tcp", addr, config)
		if err != nil && strings.Contains(err.Error(), "unable to authenticate") {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := res.BackoffSettings
	bo.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(bo, res.MaxDialRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &ResilientSSHClient{
		SSHClient:      client,
		CircuitBreaker: gobreaker.NewCircuitBreaker(res.CircuitBreakerSettings),
	}, nil
}

// NewSession opens a session through the circuit breaker.
// The caller is responsible for closing the returned session.
func (c *ResilientSSHClient) NewSession() (*ssh.Session, error) {
	res, err := c.CircuitBreaker.Execute(func() (any, error) {
		return c.SSHClient.NewSession()
	})
	if err != nil {
		return nil, err
	}
	return res.(*ssh.Session), nil
}

func (c *ResilientSSHClient) Close() error {
	return c.SSHClient.Close()
}

// SSHClientConfig turns cfg into an *ssh.ClientConfig.
func SSHClientConfig(cfg ClientConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		keyAuth, err := publicKeyAuth(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, keyAuth)
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh authentication method configured")
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}, nil
}

func hostKeyCallback(cfg ClientConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHostsPath == "" {
		return nil, fmt.Errorf("no known_hosts file configured and host key checking is enabled")
	}
	cb, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHostsPath, err)
	}
	return cb, nil
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %v", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %v", err)
	}
	return ssh.PublicKeys(signer), nil
}

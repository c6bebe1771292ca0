package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/andrej220/cassops/pkg/config"
	"github.com/andrej220/cassops/pkg/config/filestore"
	"github.com/andrej220/cassops/pkg/executor"
)

const SERVICENAME = "cassops"

const (
	sudoPasswordEnv = "CASSOPS_SUDO_PASSWORD"
	sshPasswordEnv  = "CASSOPS_SSH_PASSWORD"
)

// CassopsConfig is the optional -config file. Command line flags win over it.
type CassopsConfig struct {
	SSH struct {
		User            string        `yaml:"user" json:"user"`
		Port            int           `yaml:"port" json:"port"`
		KeyPath         string        `yaml:"keyPath" json:"keyPath"`
		KnownHostsPath  string        `yaml:"knownHostsPath" json:"knownHostsPath"`
		InsecureHostKey bool          `yaml:"insecureHostKey" json:"insecureHostKey"`
		DialTimeout     time.Duration `yaml:"dialTimeout" json:"dialTimeout"`
		DialRetries     uint64        `yaml:"dialRetries" json:"dialRetries"`
	} `yaml:"ssh" json:"ssh"`

	Inventory struct {
		Source string             `yaml:"source" json:"source"`
		Path   string             `yaml:"path" json:"path"`
		Mongo  config.MongoConfig `yaml:"mongo" json:"mongo"`
	} `yaml:"inventory" json:"inventory"`

	Fanout struct {
		// Concurrency caps parallel node calls; 0 contacts every node at once.
		Concurrency int `yaml:"concurrency" json:"concurrency"`
	} `yaml:"fanout" json:"fanout"`
}

func NewCassopsConfig() *CassopsConfig {
	cfg := &CassopsConfig{}
	cfg.SSH.User = "admin"
	cfg.SSH.Port = 22
	cfg.SSH.DialTimeout = 10 * time.Second
	cfg.SSH.DialRetries = 2
	if home, err := os.UserHomeDir(); err == nil {
		cfg.SSH.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	cfg.Inventory.Source = "file"
	cfg.Inventory.Path = "inventory.yaml"
	return cfg
}

// LoadCassopsConfig reads path over the defaults.
func LoadCassopsConfig(path string) (*CassopsConfig, error) {
	cfg := NewCassopsConfig()
	if path == "" {
		return cfg, nil
	}
	if err := filestore.New(path).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CassopsConfig) clientConfig(password string) executor.ClientConfig {
	return executor.ClientConfig{
		User:            c.SSH.User,
		Port:            c.SSH.Port,
		KeyPath:         c.SSH.KeyPath,
		Password:        password,
		KnownHostsPath:  c.SSH.KnownHostsPath,
		InsecureHostKey: c.SSH.InsecureHostKey,
		DialTimeout:     c.SSH.DialTimeout,
		DialRetries:     c.SSH.DialRetries,
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/cassops/internal/catalog"
	"github.com/andrej220/cassops/internal/lg"
	"github.com/andrej220/cassops/internal/metrics"
	"github.com/andrej220/cassops/internal/persistence"
	"github.com/andrej220/cassops/pkg/config"
	"github.com/andrej220/cassops/pkg/executor"
	"github.com/andrej220/cassops/pkg/registry"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type runFunc func(ctx context.Context, a *app, env *environment) int

type command struct {
	name  string
	usage string
	run   runFunc
	// catalog names the catalog entry whose parameters become command flags.
	catalog string
}

var commands = make(map[string]command)

func registerCommand(name string, run runFunc, usage string, catalogName string) {
	commands[name] = command{name: name, usage: usage, run: run, catalog: catalogName}
}

// app holds everything main wires from the process; tests replace the parts
// that would reach a real node or terminal.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	getenv      func(string) string
	newExecutor func(cfg executor.ClientConfig) (executor.Executor, error)
	prompt      func(label string) (string, error)
	sleep       func(time.Duration)
	now         func() time.Time
}

// environment is what a command needs once flags, config and inventory are resolved.
type environment struct {
	command         string
	runID           uuid.UUID
	cfg             *CassopsConfig
	catalog         *catalog.Catalog
	params          catalog.Params
	nodes           []dm.Node
	exec            executor.Executor
	metrics         *metrics.Collector
	failOnAllFailed bool
	metricsFile     string
	reportFile      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		newExecutor: func(cfg executor.ClientConfig) (executor.Executor, error) {
			return executor.NewSSHExecutor(cfg)
		},
		prompt: func(label string) (string, error) {
			return promptPassword(os.Stdin, os.Stderr, label)
		},
		sleep: time.Sleep,
		now:   time.Now,
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet(SERVICENAME, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() { a.usage(fs) }

	configFile := fs.String("config", "", "YAML config file")
	inventory := fs.String("inventory", "", "inventory file, YAML or JSON")
	inventorySource := fs.String("inventory-source", "", "inventory source: file or mongo")
	mongoURI := fs.String("mongo-uri", "", "MongoDB URI for -inventory-source mongo")
	mongoDB := fs.String("mongo-db", "", "MongoDB database holding the inventory")
	mongoColl := fs.String("mongo-collection", "", "MongoDB collection holding the inventory")
	mongoID := fs.String("mongo-id", "", "_id of the inventory document")
	user := fs.String("user", "", "SSH user (default admin)")
	key := fs.String("key", "", "SSH private key file")
	knownHosts := fs.String("known-hosts", "", "known_hosts file for host key checking")
	insecure := fs.Bool("insecure-host-key", false, "skip host key verification")
	concurrency := fs.Int("concurrency", 0, "maximum nodes contacted at once, 0 for all")
	failOnAllFailed := fs.Bool("fail-on-all-failed", false, "exit 1 when a command failed on every node")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this textfile")
	reportFile := fs.String("report-file", "", "write this run's results as JSON to this file")
	logCfg := lg.RegisterFlags(fs, SERVICENAME)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		a.usage(fs)
		return exitUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(a.stderr, "unknown command %q\n", fs.Arg(0))
		a.usage(fs)
		return exitUsage
	}

	cfg, err := LoadCassopsConfig(*configFile)
	if err != nil {
		fmt.Fprintf(a.stderr, "configuration error: %v\n", err)
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "inventory":
			cfg.Inventory.Path = *inventory
			if *inventorySource == "" {
				cfg.Inventory.Source = "file"
			}
		case "inventory-source":
			cfg.Inventory.Source = *inventorySource
		case "mongo-uri":
			cfg.Inventory.Mongo.URI = *mongoURI
		case "mongo-db":
			cfg.Inventory.Mongo.DBName = *mongoDB
		case "mongo-collection":
			cfg.Inventory.Mongo.CollName = *mongoColl
		case "mongo-id":
			cfg.Inventory.Mongo.ID = *mongoID
		case "user":
			cfg.SSH.User = *user
		case "key":
			cfg.SSH.KeyPath = *key
		case "known-hosts":
			cfg.SSH.KnownHostsPath = *knownHosts
		case "insecure-host-key":
			cfg.SSH.InsecureHostKey = *insecure
		case "concurrency":
			cfg.Fanout.Concurrency = *concurrency
		}
	})

	cat := catalog.New()
	params, err := parseCommandFlags(cmd, cat, fs.Args()[1:], a.stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	logger := lg.New(logCfg)
	defer logger.Sync()
	runID := uuid.New()
	logger = logger.With(lg.String("run_id", runID.String()), lg.String("command", cmd.name))
	ctx = lg.Attach(ctx, logger)

	nodes, err := a.loadNodes(ctx, cfg)
	if err != nil {
		logger.Error("cannot load inventory", lg.Err(err))
		fmt.Fprintf(a.stderr, "configuration error: %v\n", err)
		return exitUsage
	}
	logger.Info("inventory loaded", lg.Int("nodes", len(nodes)), lg.String("source", cfg.Inventory.Source))

	exec, err := a.newExecutor(cfg.clientConfig(a.getenv(sshPasswordEnv)))
	if err != nil {
		logger.Error("cannot set up ssh", lg.Err(err))
		fmt.Fprintf(a.stderr, "configuration error: %v\n", err)
		return exitUsage
	}
	if closer, ok := exec.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("closing ssh connections", lg.Err(err))
			}
		}()
	}

	env := &environment{
		command:         cmd.name,
		runID:           runID,
		cfg:             cfg,
		catalog:         cat,
		params:          params,
		nodes:           nodes,
		exec:            exec,
		metrics:         metrics.New(),
		failOnAllFailed: *failOnAllFailed,
		metricsFile:     *metricsFile,
		reportFile:      *reportFile,
	}
	return cmd.run(ctx, a, env)
}

func (a *app) loadNodes(ctx context.Context, cfg *CassopsConfig) ([]dm.Node, error) {
	storeType, err := config.ParseStoreType(cfg.Inventory.Source)
	if err != nil {
		return nil, err
	}
	var storeCfg any
	switch storeType {
	case config.MongoStore:
		storeCfg = &cfg.Inventory.Mongo
	default:
		storeCfg = &config.FileConfig{Path: cfg.Inventory.Path}
	}
	store, err := config.NewStore(ctx, storeType, storeCfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		defer closer.Close(context.Background())
	}
	reg, err := registry.Load(store)
	if err != nil {
		return nil, err
	}
	return reg.Nodes(), nil
}

// optionalInt is an int flag that remembers whether it was given.
type optionalInt struct {
	value *int
}

func (o *optionalInt) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return fmt.Sprint(*o.value)
}

func (o *optionalInt) Set(s string) error {
	var v int
	if _, err := fmt.Sscan(s, &v); err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	o.value = &v
	return nil
}

// parseCommandFlags exposes the parameters of cmd's catalog entry as flags.
func parseCommandFlags(cmd command, cat *catalog.Catalog, args []string, stderr io.Writer) (catalog.Params, error) {
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, cmd.usage) }

	var params catalog.Params
	limit := &optionalInt{}
	if cmd.catalog != "" {
		entry, err := cat.Lookup(cmd.catalog)
		if err != nil {
			return params, err
		}
		if entry.UsesKeyspace {
			fs.StringVar(&params.Keyspace, "keyspace", "", "keyspace name")
		}
		if entry.UsesLimit {
			fs.Var(limit, "limit", fmt.Sprintf("throughput limit in MB/s, 0 for unthrottled (default %d)", entry.DefaultLimit))
		}
	}
	if err := fs.Parse(args); err != nil {
		return params, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return params, errors.New("unexpected arguments")
	}
	params.Limit = limit.value
	return params, nil
}

func (a *app) usage(fs *flag.FlagSet) {
	fmt.Fprintf(a.stderr, "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", SERVICENAME)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.stderr, "  %s\n", name)
	}
	fmt.Fprintln(a.stderr, "\nFlags:")
	fs.PrintDefaults()
}

// finish writes the optional metrics textfile and JSON export. Neither changes
// the exit code; the operator report has already been printed.
func (env *environment) finish(ctx context.Context, export persistence.RunExport) {
	logger := lg.FromContext(ctx)
	if env.metricsFile != "" {
		if err := env.metrics.WriteTextfile(env.metricsFile); err != nil {
			logger.Error("cannot write metrics file", lg.String("path", env.metricsFile), lg.Err(err))
		}
	}
	if env.reportFile != "" {
		if err := persistence.WriteJSON(export, env.reportFile); err != nil {
			logger.Error("cannot write report file", lg.String("path", env.reportFile), lg.Err(err))
		}
	}
}

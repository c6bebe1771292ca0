// Package catalog holds the named remote operations: how each one is rendered
// into a shell command and how its output is interpreted.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/andrej220/cassops/internal/processor"
	"github.com/andrej220/cassops/pkg/executor"
)

const (
	Version                 = "version"
	Load                    = "load"
	GetStreamThroughput     = "get-stream-throughput"
	SetStreamThroughput     = "set-stream-throughput"
	GetCompactionThroughput = "get-compaction-throughput"
	SetCompactionThroughput = "set-compaction-throughput"
	DisableCompaction       = "disable-compaction"
	EnableCompaction        = "enable-compaction"
	Flush                   = "flush"
	Drain                   = "drain"
	Restart                 = "restart"
	StatusCheck             = "status"
)

const (
	DefaultStreamThroughput     = 200
	DefaultCompactionThroughput = 64

	// RunningMarker must appear in the status output of a healthy node.
	RunningMarker = "running"
)

// ValueKind says how a successful outcome is presented.
type ValueKind int

const (
	// ValueParsed runs the output through the command's processor chain.
	ValueParsed ValueKind = iota
	// ValueBool reports the outcome itself, "true" on success.
	ValueBool
	// ValueRaw reports the whole output as text, empty output allowed.
	ValueRaw
)

// Params are the operator supplied command parameters.
type Params struct {
	Keyspace string
	// Limit is nil when the operator did not pass one; the command default applies.
	Limit *int
}

// Command is one catalog entry.
type Command struct {
	Name  string
	Label string
	// Template is the remote command line. {keyspace} and {limit} are substituted.
	Template   string
	Privileged bool
	// RequiresKeyspace rejects empty keyspaces before any node is contacted.
	RequiresKeyspace bool
	UsesKeyspace     bool
	UsesLimit        bool
	DefaultLimit     int
	Kind             ValueKind
	// Parse names the processors applied to stdout for ValueParsed.
	Parse []string
	// Marker, when set, must appear in stdout for the command to count as successful.
	Marker string
	// FollowUp is re-queried on the same node after success; its value is reported.
	FollowUp string
	// BestEffort commands never fail a caller's workflow.
	BestEffort bool
}

// Outcome is the interpretation of one executor.Output.
type Outcome struct {
	Success bool
	Value   string
	Error   string
}

// Catalog is the set of commands plus the shared processor chains.
type Catalog struct {
	commands map[string]*Command
	strict   *processor.ProcessorChain
	lenient  *processor.ProcessorChain
}

// New returns the catalog of Cassandra node operations.
func New() *Catalog {
	c := &Catalog{commands: make(map[string]*Command)}
	chain := processor.NewProcessorChain()
	loadLine := processor.NewMatchLine("Load")
	chain.Register(loadLine)
	c.strict = chain
	c.lenient = chain.Lenient()

	raw := []string{processor.ProcessorTypeTrim, processor.ProcessorTypeDropEmpty, processor.ProcessorTypeJoin}
	afterColon := []string{processor.ProcessorTypeDropEmpty, processor.ProcessorTypeAfterColon, processor.ProcessorTypeFirstLine}

	c.register(&Command{Name: Version, Label: "Version:", Template: "/usr/sbin/cassandra -v", Kind: ValueParsed, Parse: raw})
	c.register(&Command{Name: Load, Label: "Load:", Template: "nodetool info", Kind: ValueParsed,
		Parse: []string{loadLine.Name(), processor.ProcessorTypeAfterColon, processor.ProcessorTypeFirstLine}})
	c.register(&Command{Name: GetStreamThroughput, Label: "Stream throughput:", Template: "nodetool getstreamthroughput", Kind: ValueParsed, Parse: afterColon})
	c.register(&Command{Name: SetStreamThroughput, Label: "Stream throughput set to", Template: "nodetool setstreamthroughput {limit}",
		UsesLimit: true, DefaultLimit: DefaultStreamThroughput, Kind: ValueBool, FollowUp: GetStreamThroughput})
	c.register(&Command{Name: GetCompactionThroughput, Label: "Compaction throughput:", Template: "nodetool getcompactionthroughput", Kind: ValueParsed, Parse: afterColon})
	c.register(&Command{Name: SetCompactionThroughput, Label: "Compaction throughput set to", Template: "nodetool setcompactionthroughput {limit}",
		UsesLimit: true, DefaultLimit: DefaultCompactionThroughput, Kind: ValueBool, FollowUp: GetCompactionThroughput})
	// An empty keyspace disables compaction for every keyspace; only enabling insists on one.
	c.register(&Command{Name: DisableCompaction, Label: "Compaction disabled for '{keyspace}'", Template: "nodetool disableautocompaction -- {keyspace}",
		UsesKeyspace: true, Kind: ValueBool})
	c.register(&Command{Name: EnableCompaction, Label: "Compaction enabled for '{keyspace}'", Template: "nodetool enableautocompaction -- {keyspace}",
		UsesKeyspace: true, RequiresKeyspace: true, Kind: ValueBool})
	c.register(&Command{Name: Flush, Label: "Flushed:", Template: "nodetool flush", Kind: ValueBool})
	c.register(&Command{Name: Drain, Label: "Drained:", Template: "nodetool drain", Kind: ValueBool, BestEffort: true})
	c.register(&Command{Name: Restart, Label: "Restart:", Template: "service cassandra restart", Privileged: true, Kind: ValueRaw})
	c.register(&Command{Name: StatusCheck, Label: "Status:", Template: "service cassandra status", Kind: ValueRaw, Marker: RunningMarker})
	return c
}

func (c *Catalog) register(cmd *Command) {
	c.commands[cmd.Name] = cmd
}

// Lookup returns the command registered under name.
func (c *Catalog) Lookup(name string) (*Command, error) {
	cmd, ok := c.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

// Names lists the registered command names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render validates params and builds the remote command. It never contacts a node.
func (c *Catalog) Render(cmd *Command, params Params) (executor.Command, error) {
	if err := ValidateParams(cmd, params); err != nil {
		return executor.Command{}, err
	}
	line := cmd.Template
	if cmd.UsesKeyspace {
		line = strings.TrimSpace(strings.ReplaceAll(line, "{keyspace}", params.Keyspace))
	}
	if cmd.UsesLimit {
		line = strings.ReplaceAll(line, "{limit}", strconv.Itoa(EffectiveLimit(cmd, params)))
	}
	return executor.Command{Line: line, Privileged: cmd.Privileged}, nil
}

// DisplayLabel fills the label template with params.
func (c *Catalog) DisplayLabel(cmd *Command, params Params) string {
	label := strings.ReplaceAll(cmd.Label, "{keyspace}", params.Keyspace)
	if cmd.UsesLimit {
		label = fmt.Sprintf("%s %d:", label, EffectiveLimit(cmd, params))
	}
	return label
}

// EffectiveLimit returns the operator's limit or the command default.
func EffectiveLimit(cmd *Command, params Params) int {
	if params.Limit != nil {
		return *params.Limit
	}
	return cmd.DefaultLimit
}

// Interpret applies the command's success rule and value extraction to out.
func (c *Catalog) Interpret(cmd *Command, out executor.Output) Outcome {
	if !out.Succeeded() {
		return Outcome{Error: failureMessage(out)}
	}
	switch cmd.Kind {
	case ValueBool:
		return Outcome{Success: true, Value: "true"}
	case ValueRaw:
		text, _ := c.lenient.Value(out.Stdout, processor.ProcessorTypeTrim, processor.ProcessorTypeDropEmpty, processor.ProcessorTypeJoin)
		if cmd.Marker != "" && !strings.Contains(text, cmd.Marker) {
			return Outcome{Value: text, Error: fmt.Sprintf("output does not contain %q: %s", cmd.Marker, text)}
		}
		return Outcome{Success: true, Value: text}
	default:
		value, err := c.strict.Value(out.Stdout, cmd.Parse...)
		if err != nil {
			return Outcome{Error: fmt.Sprintf("unexpected output: %v", err)}
		}
		return Outcome{Success: true, Value: value}
	}
}

func failureMessage(out executor.Output) string {
	detail := strings.TrimSpace(strings.Join(out.Stderr, " "))
	if detail == "" {
		detail = strings.TrimSpace(strings.Join(out.Stdout, " "))
	}
	if detail == "" {
		return fmt.Sprintf("exit status %d", out.ExitStatus)
	}
	return fmt.Sprintf("exit status %d: %s", out.ExitStatus, detail)
}

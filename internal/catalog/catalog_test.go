package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/cassops/pkg/executor"
)

func intPtr(v int) *int { return &v }

func mustLookup(t *testing.T, c *Catalog, name string) *Command {
	t.Helper()
	cmd, err := c.Lookup(name)
	require.NoError(t, err)
	return cmd
}

func TestRender(t *testing.T) {
	c := New()
	tests := []struct {
		name       string
		command    string
		params     Params
		line       string
		privileged bool
		wantErr    bool
	}{
		{name: "version", command: Version, line: "/usr/sbin/cassandra -v"},
		{name: "stream default", command: SetStreamThroughput, line: "nodetool setstreamthroughput 200"},
		{name: "stream disabled", command: SetStreamThroughput, params: Params{Limit: intPtr(0)}, line: "nodetool setstreamthroughput 0"},
		{name: "compaction default", command: SetCompactionThroughput, line: "nodetool setcompactionthroughput 64"},
		{name: "negative limit", command: SetCompactionThroughput, params: Params{Limit: intPtr(-1)}, wantErr: true},
		{name: "enable with keyspace", command: EnableCompaction, params: Params{Keyspace: "metrics"}, line: "nodetool enableautocompaction -- metrics"},
		{name: "enable without keyspace", command: EnableCompaction, wantErr: true},
		{name: "enable with injected shell", command: EnableCompaction, params: Params{Keyspace: "ks; rm -rf /"}, wantErr: true},
		{name: "disable without keyspace", command: DisableCompaction, line: "nodetool disableautocompaction --"},
		{name: "disable with keyspace", command: DisableCompaction, params: Params{Keyspace: "events_2024"}, line: "nodetool disableautocompaction -- events_2024"},
		{name: "disable with bad keyspace", command: DisableCompaction, params: Params{Keyspace: "a b"}, wantErr: true},
		{name: "restart is privileged", command: Restart, line: "service cassandra restart", privileged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := mustLookup(t, c, tt.command)
			rendered, err := c.Render(cmd, tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.line, rendered.Line)
			assert.Equal(t, tt.privileged, rendered.Privileged)
		})
	}
}

func TestInterpret(t *testing.T) {
	c := New()
	tests := []struct {
		name    string
		command string
		out     executor.Output
		want    Outcome
	}{
		{
			name:    "version raw string",
			command: Version,
			out:     executor.Output{Stdout: []string{"3.11.4"}},
			want:    Outcome{Success: true, Value: "3.11.4"},
		},
		{
			name:    "load after colon",
			command: Load,
			out: executor.Output{Stdout: []string{
				"ID                     : 5c9a1a9e",
				"Gossip active          : true",
				"Load                   : 1.27 GiB",
				"Generation No          : 1718000000",
			}},
			want: Outcome{Success: true, Value: "1.27 GiB"},
		},
		{
			name:    "load line missing",
			command: Load,
			out:     executor.Output{Stdout: []string{"Gossip active : true"}},
			want:    Outcome{Error: "unexpected output: match_line:Load processor: no matching output line"},
		},
		{
			name:    "stream throughput",
			command: GetStreamThroughput,
			out:     executor.Output{Stdout: []string{"Current stream throughput: 200 Mb/s"}},
			want:    Outcome{Success: true, Value: "200 Mb/s"},
		},
		{
			name:    "compaction throughput",
			command: GetCompactionThroughput,
			out:     executor.Output{Stdout: []string{"", "Current compaction throughput: 0 MB/s"}},
			want:    Outcome{Success: true, Value: "0 MB/s"},
		},
		{
			name:    "boolean success",
			command: Flush,
			out:     executor.Output{},
			want:    Outcome{Success: true, Value: "true"},
		},
		{
			name:    "non-zero exit uses stderr",
			command: DisableCompaction,
			out:     executor.Output{ExitStatus: 1, Stderr: []string{"nodetool: Keyspace [nope] does not exist."}},
			want:    Outcome{Error: "exit status 1: nodetool: Keyspace [nope] does not exist."},
		},
		{
			name:    "non-zero exit without output",
			command: Drain,
			out:     executor.Output{ExitStatus: 2},
			want:    Outcome{Error: "exit status 2"},
		},
		{
			name:    "status running",
			command: StatusCheck,
			out:     executor.Output{Stdout: []string{" * Cassandra is running"}},
			want:    Outcome{Success: true, Value: "* Cassandra is running"},
		},
		{
			name:    "status without marker",
			command: StatusCheck,
			out:     executor.Output{Stdout: []string{" * Cassandra is stopped"}},
			want:    Outcome{Value: "* Cassandra is stopped", Error: `output does not contain "running": * Cassandra is stopped`},
		},
		{
			name:    "status empty output",
			command: StatusCheck,
			out:     executor.Output{},
			want:    Outcome{Error: `output does not contain "running": `},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Interpret(mustLookup(t, c, tt.command), tt.out)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplayLabel(t *testing.T) {
	c := New()
	assert.Equal(t, "Compaction enabled for 'metrics'", c.DisplayLabel(mustLookup(t, c, EnableCompaction), Params{Keyspace: "metrics"}))
	assert.Equal(t, "Stream throughput set to 0:", c.DisplayLabel(mustLookup(t, c, SetStreamThroughput), Params{Limit: intPtr(0)}))
	assert.Equal(t, "Version:", c.DisplayLabel(mustLookup(t, c, Version), Params{}))
}

func TestLookupUnknown(t *testing.T) {
	_, err := New().Lookup("decommission")
	assert.Error(t, err)
}

func TestFollowUpsAreRegistered(t *testing.T) {
	c := New()
	for _, name := range c.Names() {
		cmd := mustLookup(t, c, name)
		if cmd.FollowUp == "" {
			continue
		}
		followUp, err := c.Lookup(cmd.FollowUp)
		require.NoError(t, err, "follow-up of %s", name)
		assert.False(t, followUp.UsesLimit || followUp.UsesKeyspace, "follow-up %s must not need parameters", followUp.Name)
	}
}

// Package persistence writes the result of the current invocation to a file,
// replacing whatever the previous invocation left there.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andrej220/cassops/internal/fanout"
	"github.com/andrej220/cassops/internal/restart"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const (
	indent = "    "
	prefix = ""
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter writes through a temporary file in the target directory so a
// reader never sees a half written export.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// WriteJSONToFile serializes data and hands the bytes to writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return os.ErrInvalid
	}
	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize data: %w", err)
	}
	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON writes data as indented JSON, overwriting filename.
func WriteJSON(data any, filename string) error {
	return WriteJSONToFile(data, filename, JSONSerializer{Prefix: prefix, Indent: indent}, FileWriter{Overwrite: true})
}

// RunExport is the document written for one invocation.
type RunExport struct {
	RunID      string          `json:"runId"`
	Command    string          `json:"command"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Results    []dm.NodeResult `json:"results,omitempty"`
	Restart    *RestartExport  `json:"restart,omitempty"`
}

type RestartExport struct {
	Status     string            `json:"status"`
	FailedNode string            `json:"failedNode,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Nodes      []RestartNodeStep `json:"nodes"`
}

type RestartNodeStep struct {
	Node    dm.Node        `json:"node"`
	Step    string         `json:"step"`
	Visited []string       `json:"visited,omitempty"`
	Drain   *dm.NodeResult `json:"drain,omitempty"`
	Restart *dm.NodeResult `json:"restart,omitempty"`
	Verify  *dm.NodeResult `json:"verify,omitempty"`
}

// FromFanOut builds the export of a fan-out run.
func FromFanOut(runID string, r fanout.Report, started, finished time.Time) RunExport {
	return RunExport{
		RunID:      runID,
		Command:    r.Command,
		StartedAt:  started,
		FinishedAt: finished,
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		Results:    r.Results,
	}
}

// FromRestart builds the export of a rolling restart.
func FromRestart(command string, out restart.Outcome) RunExport {
	exp := RunExport{
		RunID:      out.RunID.String(),
		Command:    command,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
		Succeeded:  out.Completed(),
		Restart:    &RestartExport{Status: string(out.Status), Reason: out.Reason},
	}
	if out.FailedNode != nil {
		exp.Failed = 1
		exp.Restart.FailedNode = out.FailedNode.Address
	}
	for _, p := range out.Nodes {
		step := RestartNodeStep{Node: p.Node, Step: string(p.Step), Drain: p.Drain, Restart: p.Restart, Verify: p.Verify}
		for _, v := range p.Visited {
			step.Visited = append(step.Visited, string(v))
		}
		exp.Restart.Nodes = append(exp.Restart.Nodes, step)
	}
	return exp
}

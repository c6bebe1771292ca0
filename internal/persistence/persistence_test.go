package persistence_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/cassops/internal/fanout"
	"github.com/andrej220/cassops/internal/persistence"
	"github.com/andrej220/cassops/internal/restart"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

const (
	indent     = "    "
	prefix     = ""
	sampleJSON = "{\n    \"key\": \"value\"\n}"
)

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteJSONToFile(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		serializer  persistence.Serializer
		writer      persistence.Writer
		expectedErr bool
	}{
		{
			name:       "valid input",
			filename:   filepath.Join(t.TempDir(), "output.json"),
			serializer: MockSerializer{Bytes: []byte(sampleJSON)},
			writer:     &MockWriter{},
		},
		{
			name:        "empty filename",
			filename:    "",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "serializer error",
			filename:    "test.json",
			serializer:  MockSerializer{Err: fmt.Errorf("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			filename:    "test.json",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: fmt.Errorf("write failed")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteJSONToFile(map[string]string{"key": "value"}, tt.filename, tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if writer, ok := tt.writer.(*MockWriter); ok {
				assert.Equal(t, sampleJSON, string(writer.Data[tt.filename]))
			}
		})
	}
}

func TestJSONSerializer(t *testing.T) {
	writer := &MockWriter{}
	err := persistence.WriteJSONToFile(map[string]string{"key": "value"}, "out.json",
		persistence.JSONSerializer{Prefix: prefix, Indent: indent}, writer)
	assert.NoError(t, err)
	assert.Equal(t, sampleJSON, string(writer.Data["out.json"]))
}

func TestFileWriterReplacesPreviousExport(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "run.json")

	require.NoError(t, persistence.WriteJSON(map[string]string{"run": "first"}, filename))
	require.NoError(t, persistence.WriteJSON(map[string]string{"run": "second"}, filename))

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.JSONEq(t, `{"run": "second"}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestFileWriterRefusesOverwrite(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(filename, []byte("{}"), 0o644))

	err := persistence.FileWriter{Overwrite: false}.Write(filename, []byte(sampleJSON))
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestFromFanOut(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	report := fanout.Report{
		Command: "version",
		Results: []dm.NodeResult{
			{Node: dm.Node{Address: "n1"}, Command: "version", Success: true, Value: "3.11.4"},
			{Node: dm.Node{Address: "n2"}, Command: "version", Error: "refused", Unreachable: true},
		},
	}

	exp := persistence.FromFanOut("run-1", report, started, started.Add(time.Second))
	assert.Equal(t, 1, exp.Succeeded)
	assert.Equal(t, 1, exp.Failed)
	assert.Nil(t, exp.Restart)

	data, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runId":"run-1"`)
	assert.Contains(t, string(data), `"unreachable":true`)
}

func TestFromRestart(t *testing.T) {
	id := uuid.MustParse("6f1c2b7e-9a1d-4c2e-8f3a-0b1c2d3e4f50")
	failed := dm.Node{Address: "n2"}
	out := restart.Outcome{
		RunID:      id,
		Status:     restart.StatusAborted,
		FailedNode: &failed,
		Reason:     "stopped",
		Nodes: []restart.NodeProgress{
			{Node: dm.Node{Address: "n1"}, Step: restart.StepDone, Visited: []restart.Step{restart.StepDraining, restart.StepDone}},
			{Node: failed, Step: restart.StepFailed},
			{Node: dm.Node{Address: "n3"}, Step: restart.StepPending},
		},
	}

	exp := persistence.FromRestart("rolling-restart", out)
	assert.Equal(t, id.String(), exp.RunID)
	assert.Equal(t, 1, exp.Succeeded)
	assert.Equal(t, 1, exp.Failed)
	require.NotNil(t, exp.Restart)
	assert.Equal(t, "aborted", exp.Restart.Status)
	assert.Equal(t, "n2", exp.Restart.FailedNode)
	require.Len(t, exp.Restart.Nodes, 3)
	assert.Equal(t, []string{"draining", "done"}, exp.Restart.Nodes[0].Visited)
	assert.Equal(t, "pending", exp.Restart.Nodes[2].Step)
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSimulate_OpensAndResolvesIncident(t *testing.T) {
	out, err := execute(t, "simulate", "--name", "nightly-export", "--failures", "2", "--successes", "3")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "operation_failure"))
	assert.Equal(t, 1, strings.Count(out, "incident_opened"))
	assert.Equal(t, 1, strings.Count(out, "incident_resolved"))
	assert.Contains(t, out, "Fingerprint: task:nightly-export")
	assert.Contains(t, out, "incidents opened=1 resolved=1 open=0")
}

func TestSimulate_TooFewSuccessesLeavesIncidentOpen(t *testing.T) {
	out, err := execute(t, "simulate", "--failures", "1", "--successes", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "incidents opened=1 resolved=0 open=1")
}

func TestSimulate_RejectsNegativeCounts(t *testing.T) {
	_, err := execute(t, "simulate", "--failures", "-1")
	assert.Error(t, err)
}

func TestSendTest_DryRun(t *testing.T) {
	out, err := execute(t, "send-test", "--dry-run", "--message", "hello from ci")
	require.NoError(t, err)

	assert.Contains(t, out, "Message: hello from ci")
	assert.Contains(t, out, "aisenctl test exception")
	assert.Contains(t, out, "Sent 2 events")
}

func TestSendTest_RequiresCredentials(t *testing.T) {
	_, err := execute(t, "send-test")
	assert.Error(t, err)
}

func TestConfig_RedactsCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aisen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service_name: billing\n"), 0o600))

	out, err := execute(t, "config", "--config", path,
		"--connection-string", "aisen://sk_live_0123456789@collector.example.com/proj-9")
	require.NoError(t, err)

	assert.NotContains(t, out, "sk_live_0123456789")

	var printed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	assert.Equal(t, "billing", printed["ServiceName"])
	assert.Equal(t, "proj-9", printed["ProjectID"])
	assert.Equal(t, "https://collector.example.com", printed["Endpoint"])
}

func TestConfig_InvalidConnectionString(t *testing.T) {
	_, err := execute(t, "config", "--connection-string", "nope")
	assert.Error(t, err)
}

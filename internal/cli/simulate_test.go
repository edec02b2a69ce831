package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoViewerScenarioYAML = `
name: cli-smoke
description: send and hide across two viewers
conversation: general
viewers: [alice, bob]
steps:
  - send: {viewer: alice, text: "hello bob", label: hello}
  - hide: {viewer: bob, ref: hello}
`

func TestSimulate_TextOutput(t *testing.T) {
	path := writeScenarioFile(t, twoViewerScenarioYAML)

	stdout, _, err := executeCommand("simulate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "scenario: cli-smoke")
	assert.Contains(t, stdout, `send alice "hello bob" -> confirmed`)
	assert.Contains(t, stdout, "viewer bob:")
	assert.Contains(t, stdout, "confirmed/hidden")
}

func TestSimulate_JSONOutput(t *testing.T) {
	path := writeScenarioFile(t, twoViewerScenarioYAML)

	stdout, _, err := executeCommand("--format", "json", "simulate", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   SimulationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "cli-smoke", resp.Data.Scenario)
	require.Len(t, resp.Data.StepLog, 2)
	require.Len(t, resp.Data.Transcripts["alice"], 1)
	assert.Equal(t, "visible", resp.Data.Transcripts["alice"][0].Visibility)
	require.Len(t, resp.Data.Transcripts["bob"], 1)
	assert.Equal(t, "hidden", resp.Data.Transcripts["bob"][0].Visibility)
}

func TestSimulate_MissingFile(t *testing.T) {
	_, _, err := executeCommand("simulate", "no-such-scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_FailingScenario(t *testing.T) {
	// The delete is expected to be denied but succeeds, so the run fails.
	path := writeScenarioFile(t, `
name: cli-failing
description: wrong expectation
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "fresh", label: m1}
  - delete: {viewer: alice, ref: m1, expect_error: AUTHORIZATION}
`)

	_, _, err := executeCommand("simulate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

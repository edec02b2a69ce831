package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/chat"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_ViewersConvergeOnSameProjection(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "send-reply-delete.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	alice := result.Transcripts["alice"]
	bob := result.Transcripts["bob"]
	require.Len(t, alice, 2)
	require.Len(t, bob, 2)
	for i := range alice {
		assert.Equal(t, alice[i].ID, bob[i].ID)
		assert.Equal(t, alice[i].Text, bob[i].Text)
		assert.Equal(t, alice[i].Visibility, bob[i].Visibility)
	}
	assert.Equal(t, chat.VisibilityDeletedPermanently, alice[0].Visibility)
	require.NotNil(t, alice[1].ReplyTo)
	assert.Equal(t, "morning all", alice[1].ReplyTo.Text)
}

func TestRun_UnexpectedDeleteSuccessFails(t *testing.T) {
	scenario := &Scenario{
		Name:         "bad-expectation",
		Description:  "delete succeeds although the scenario expects denial",
		Conversation: "general",
		Viewers:      []string{"alice"},
		Steps: []Step{
			{Send: &SendStep{Viewer: "alice", Text: "fresh", Label: "m1"}},
			{Delete: &RefStep{Viewer: "alice", Ref: "m1", ExpectError: "AUTHORIZATION"}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected AUTHORIZATION")
}

func TestRun_UnexpectedSendFailureFails(t *testing.T) {
	scenario := &Scenario{
		Name:         "surprise-failure",
		Description:  "a scripted failure without expect_failure aborts the run",
		Conversation: "general",
		Viewers:      []string{"alice"},
		Steps: []Step{
			{FailNextSend: &FailStep{}},
			{Send: &SendStep{Viewer: "alice", Text: "doomed"}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestRender_EmptyViewer(t *testing.T) {
	scenario := &Scenario{Name: "empty", Viewers: []string{"alice"}}
	out := string(Render(scenario, &Result{Transcripts: map[string][]chat.Message{}}))
	assert.Contains(t, out, "viewer alice:\n  (empty)\n")
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validScenario = `
name: smoke
description: one send
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "hi", label: first}
`

func TestLoadScenario_Valid(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)
	assert.Equal(t, "smoke", scenario.Name)
	require.Len(t, scenario.Steps, 1)
	require.NotNil(t, scenario.Steps[0].Send)
	assert.Equal(t, "hi", scenario.Steps[0].Send.Text)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown field",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "hi", txet: "typo"}
`,
			wantErr: "schema violation",
		},
		{
			name: "no steps",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps: []
`,
			wantErr: "steps list must be non-empty",
		},
		{
			name: "no viewers",
			yaml: `
name: s
description: d
conversation: general
viewers: []
steps:
  - send: {viewer: alice, text: "hi"}
`,
			wantErr: "viewers list must be non-empty",
		},
		{
			name: "unknown viewer",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - send: {viewer: mallory, text: "hi"}
`,
			wantErr: `unknown viewer "mallory"`,
		},
		{
			name: "two actions in one step",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "hi"}
    disconnect: {}
`,
			wantErr: "exactly one action",
		},
		{
			name: "ref to unknown label",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - hide: {viewer: alice, ref: ghost}
`,
			wantErr: `unknown label "ghost"`,
		},
		{
			name: "duplicate label",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "one", label: m}
  - send: {viewer: alice, text: "two", label: m}
`,
			wantErr: `duplicate label "m"`,
		},
		{
			name: "bad duration",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - advance: {duration: "soon"}
`,
			wantErr: "bad duration",
		},
		{
			name: "reply to later label",
			yaml: `
name: s
description: d
conversation: general
viewers: [alice]
steps:
  - send: {viewer: alice, text: "early", reply_to: future}
  - send: {viewer: alice, text: "late", label: future}
`,
			wantErr: `unknown label "future"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

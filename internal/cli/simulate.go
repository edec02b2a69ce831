package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/harness"
)

// SimulationResult is the JSON payload for a completed simulation.
type SimulationResult struct {
	Scenario    string                       `json:"scenario"`
	StepLog     []string                     `json:"step_log"`
	Transcripts map[string][]TranscriptEntry `json:"transcripts"`
}

// TranscriptEntry is one message in a viewer's final projection.
type TranscriptEntry struct {
	ID         string `json:"id"`
	AuthorID   string `json:"author_id"`
	AuthoredAt string `json:"authored_at"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	Visibility string `json:"visibility"`
	ReplyTo    string `json:"reply_to,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a conversation scenario in-process",
		Long: `Run a scenario over real sessions, an in-memory store, and the
in-process push hub, then print the step log and each viewer's final
transcript.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], cmd)
		},
	}
}

func runSimulate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		formatter.Error("E_SCENARIO", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load scenario", err)
	}

	formatter.VerboseLog("running scenario %s with %d step(s)", scenario.Name, len(scenario.Steps))
	result, err := harness.Run(scenario)
	if err != nil {
		formatter.Error("E_RUN", err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(toSimulationResult(scenario, result))
	}
	_, err = formatter.Writer.Write(harness.Render(scenario, result))
	return err
}

func toSimulationResult(scenario *harness.Scenario, result *harness.Result) SimulationResult {
	out := SimulationResult{
		Scenario:    scenario.Name,
		StepLog:     result.StepLog,
		Transcripts: make(map[string][]TranscriptEntry, len(result.Transcripts)),
	}
	for viewer, msgs := range result.Transcripts {
		entries := make([]TranscriptEntry, 0, len(msgs))
		for _, m := range msgs {
			entries = append(entries, toTranscriptEntry(m))
		}
		out.Transcripts[viewer] = entries
	}
	return out
}

func toTranscriptEntry(m chat.Message) TranscriptEntry {
	entry := TranscriptEntry{
		ID:         m.ID.String(),
		AuthorID:   m.AuthorID,
		AuthoredAt: m.AuthoredAt.UTC().Format(time.RFC3339),
		Text:       m.Text,
		Status:     m.DeliveryStatus.String(),
		Visibility: m.Visibility.String(),
	}
	if m.ReplyTo != nil {
		entry.ReplyTo = m.ReplyTo.ID.String()
	}
	return entry
}

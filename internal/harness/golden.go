package harness

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

// Render produces the plain-text transcript compared against golden
// files: the step log first, then each viewer's final projection in
// scenario viewer order.
func Render(scenario *Scenario, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario.Name)

	b.WriteString("\nsteps:\n")
	for i, line := range result.StepLog {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, line)
	}

	for _, viewer := range scenario.Viewers {
		fmt.Fprintf(&b, "\nviewer %s:\n", viewer)
		msgs := result.Transcripts[viewer]
		if len(msgs) == 0 {
			b.WriteString("  (empty)\n")
			continue
		}
		for _, m := range msgs {
			fmt.Fprintf(&b, "  %s | %s | %s | %s/%s | %q",
				m.ID,
				m.AuthorID,
				m.AuthoredAt.UTC().Format(time.RFC3339),
				m.DeliveryStatus,
				m.Visibility,
				m.Text,
			)
			if m.Attachment != nil {
				fmt.Fprintf(&b, " [attachment %s]", m.Attachment.URL)
			}
			if m.ReplyTo != nil {
				fmt.Fprintf(&b, " (reply to %s: %q by %s)",
					m.ReplyTo.ID, m.ReplyTo.Text, m.ReplyTo.AuthorName)
			}
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes the scenario and compares its transcript with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Render(scenario, result))
	return nil
}

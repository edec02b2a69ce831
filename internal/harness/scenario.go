package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario scripts one conversation across one or more viewers.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Conversation is the conversation id every viewer joins.
	Conversation string `yaml:"conversation"`

	// Viewers lists the participating user ids. Each gets its own
	// session over the shared store and hub.
	Viewers []string `yaml:"viewers"`

	// Steps run in order. Each step names exactly one action.
	Steps []Step `yaml:"steps"`
}

// Step is a tagged union: exactly one field is set.
type Step struct {
	Send         *SendStep       `yaml:"send,omitempty"`
	Retry        *RefStep        `yaml:"retry,omitempty"`
	Hide         *RefStep        `yaml:"hide,omitempty"`
	Delete       *RefStep        `yaml:"delete,omitempty"`
	Advance      *AdvanceStep    `yaml:"advance,omitempty"`
	Disconnect   *DisconnectStep `yaml:"disconnect,omitempty"`
	FailNextSend *FailStep       `yaml:"fail_next_send,omitempty"`
}

// SendStep sends a draft from one viewer.
type SendStep struct {
	Viewer string `yaml:"viewer"`
	Text   string `yaml:"text"`
	// ReplyTo references an earlier send's label.
	ReplyTo string `yaml:"reply_to,omitempty"`
	// Label names this send so later steps can reference it.
	Label string `yaml:"label,omitempty"`
	// ExpectFailure marks a send whose background half is expected to
	// fail, leaving the message in the failed state.
	ExpectFailure bool `yaml:"expect_failure,omitempty"`
}

// RefStep acts on an earlier labeled send.
type RefStep struct {
	Viewer string `yaml:"viewer"`
	Ref    string `yaml:"ref"`
	// ExpectError is the error code name the step must fail with, for
	// example "authorization". Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// AdvanceStep moves the shared clock forward.
type AdvanceStep struct {
	// Duration is a Go duration string such as "5m" or "90s".
	Duration string `yaml:"duration"`
}

// DisconnectStep severs every viewer's push channel. The sessions
// resubscribe and reload on their own.
type DisconnectStep struct{}

// FailStep makes the next durable create fail with a transient error.
type FailStep struct{}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected to catch typos, and the scenario is vetted against the
// embedded schema.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	if err := VetScenario(data); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the constraints the schema cannot express.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Conversation == "" {
		return fmt.Errorf("conversation is required")
	}
	if len(s.Viewers) == 0 {
		return fmt.Errorf("viewers list must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list must be non-empty")
	}

	viewers := make(map[string]bool, len(s.Viewers))
	for _, v := range s.Viewers {
		if viewers[v] {
			return fmt.Errorf("duplicate viewer %q", v)
		}
		viewers[v] = true
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, viewers, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, viewers, labels map[string]bool) error {
	set := 0
	if step.Send != nil {
		set++
	}
	if step.Retry != nil {
		set++
	}
	if step.Hide != nil {
		set++
	}
	if step.Delete != nil {
		set++
	}
	if step.Advance != nil {
		set++
	}
	if step.Disconnect != nil {
		set++
	}
	if step.FailNextSend != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}

	switch {
	case step.Send != nil:
		if !viewers[step.Send.Viewer] {
			return fmt.Errorf("steps[%d]: unknown viewer %q", index, step.Send.Viewer)
		}
		if step.Send.Text == "" {
			return fmt.Errorf("steps[%d]: send text is required", index)
		}
		if step.Send.ReplyTo != "" && !labels[step.Send.ReplyTo] {
			return fmt.Errorf("steps[%d]: reply_to references unknown label %q", index, step.Send.ReplyTo)
		}
		if step.Send.Label != "" {
			if labels[step.Send.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", index, step.Send.Label)
			}
			labels[step.Send.Label] = true
		}
	case step.Retry != nil:
		return validateRefStep(index, step.Retry, viewers, labels)
	case step.Hide != nil:
		return validateRefStep(index, step.Hide, viewers, labels)
	case step.Delete != nil:
		return validateRefStep(index, step.Delete, viewers, labels)
	case step.Advance != nil:
		if _, err := time.ParseDuration(step.Advance.Duration); err != nil {
			return fmt.Errorf("steps[%d]: bad duration %q: %w", index, step.Advance.Duration, err)
		}
	}
	return nil
}

func validateRefStep(index int, ref *RefStep, viewers, labels map[string]bool) error {
	if !viewers[ref.Viewer] {
		return fmt.Errorf("steps[%d]: unknown viewer %q", index, ref.Viewer)
	}
	if ref.Ref == "" {
		return fmt.Errorf("steps[%d]: ref is required", index)
	}
	if !labels[ref.Ref] {
		return fmt.Errorf("steps[%d]: ref references unknown label %q", index, ref.Ref)
	}
	return nil
}

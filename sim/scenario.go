// Package sim provides a deterministic in-memory hypervisor driven by a
// YAML scenario. It implements remote.Client so the watcher can be run
// and demoed without a real management API.
package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/types"
)

// Scenario describes the simulated remote: its initial instances, any
// operations already in flight, and a timed script of state changes and
// operation events.
type Scenario struct {
	Instances  []types.Instance `yaml:"instances"`
	Operations []ScriptedOp     `yaml:"operations,omitempty"`
	Steps      []Step           `yaml:"steps,omitempty"`
}

// ScriptedOp is an operation in scenario form; instance names are given
// directly instead of as resource paths.
type ScriptedOp struct {
	ID          string                `yaml:"id"`
	Status      types.OperationStatus `yaml:"status"`
	Description string                `yaml:"description"`
	Instances   []string              `yaml:"instances"`
}

// Operation converts the scripted form to the wire form.
func (s ScriptedOp) Operation() types.Operation {
	return types.Operation{
		ID:          s.ID,
		Status:      s.Status,
		Description: s.Description,
		Resources:   map[string][]string{"instances": s.Instances},
	}
}

// Step is one scripted action. Delay is waited first; then the remote
// state mutation (create/remove/set_status) applies; then the event, if
// any, is delivered to the subscriber.
type Step struct {
	Delay     Duration        `yaml:"delay,omitempty"`
	Create    *types.Instance `yaml:"create,omitempty"`
	Remove    string          `yaml:"remove,omitempty"`
	SetStatus *StatusChange   `yaml:"set_status,omitempty"`
	Event     *ScriptedOp     `yaml:"event,omitempty"`
}

// StatusChange sets an instance's raw status on the simulated remote.
type StatusChange struct {
	Name   string               `yaml:"name"`
	Status types.InstanceStatus `yaml:"status"`
}

// Duration parses YAML values like "250ms" or bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate ensures the scenario is internally consistent.
func (s *Scenario) Validate() error {
	seen := make(map[string]bool)
	for _, inst := range s.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance without a name")
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instance %q", inst.Name)
		}
		seen[inst.Name] = true
	}

	for _, op := range s.Operations {
		if op.ID == "" {
			return fmt.Errorf("operation without an id")
		}
	}

	for i, step := range s.Steps {
		if step.Create == nil && step.Remove == "" && step.SetStatus == nil && step.Event == nil {
			return fmt.Errorf("step %d does nothing", i)
		}
		if step.Event != nil && step.Event.ID == "" {
			return fmt.Errorf("step %d: event without an operation id", i)
		}
	}
	return nil
}

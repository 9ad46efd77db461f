// Package script holds the test-script model: a named program of sections
// and steps that the engine walks through, plus its schema and semantic
// validation.
package script

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// HoldCommand is the builtin wait step. It is the only command that may
// appear without a device alias.
const HoldCommand = "hold"

// Program is one executable test script.
type Program struct {
	Name       string    `json:"name"`
	Iterations int       `json:"iterations"`
	StepMode   bool      `json:"step_mode,omitempty"`
	Setup      []Step    `json:"setup,omitempty"`
	Sections   []Section `json:"sections"`
}

// Section groups steps under a label; the label shows up in run events and
// the log break lines.
type Section struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Step is one script line. Thread detaches the step from the main line,
// Hold sleeps after the command returned.
type Step struct {
	Device  string         `json:"device,omitempty"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
	Thread  bool           `json:"thread,omitempty"`
	Hold    float64        `json:"hold,omitempty"`
}

// HoldDuration returns the post-step hold as a duration.
func (s Step) HoldDuration() time.Duration {
	if s.Hold <= 0 {
		return 0
	}
	return time.Duration(s.Hold * float64(time.Second))
}

// Parse decodes a program from JSON. Schema and semantics are checked
// separately by the Validator.
func Parse(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &p, nil
}

// Load reads and parses a program file.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return Parse(data)
}

func (p *Program) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// StepCount counts the section steps of one iteration, setup excluded.
func (p *Program) StepCount() int {
	n := 0
	for _, sec := range p.Sections {
		n += len(sec.Steps)
	}
	return n
}

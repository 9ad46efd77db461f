package script

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"benchlink/internal/devices"
	"benchlink/internal/types"
)

//go:embed schema/test-script-v1.json
var testScriptSchemaJSON string

// AliasLookup resolves a device alias to its module type name.
type AliasLookup func(alias string) (typeName string, ok bool)

// Validator checks scripts first against the JSON schema, then against the
// bench: every alias must be wired, every command must exist on the module
// type behind it.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("test-script-v1.json",
		strings.NewReader(testScriptSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("test-script-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON checks raw script bytes against the schema.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", types.ErrConfiguration, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", types.ErrConfiguration, err)
	}
	return nil
}

// ValidateProgram checks a parsed program against the bench wiring.
func (v *Validator) ValidateProgram(p *Program, lookup AliasLookup) error {
	if p.Name == "" {
		return fmt.Errorf("%w: script has no name", types.ErrConfiguration)
	}
	if p.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", types.ErrConfiguration, p.Iterations)
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("%w: script has no sections", types.ErrConfiguration)
	}

	for i, step := range p.Setup {
		if err := v.validateStep(step, lookup); err != nil {
			return fmt.Errorf("setup step %d: %w", i+1, err)
		}
	}
	for _, sec := range p.Sections {
		if sec.Name == "" {
			return fmt.Errorf("%w: section without a name", types.ErrConfiguration)
		}
		if len(sec.Steps) == 0 {
			return fmt.Errorf("%w: section %q has no steps", types.ErrConfiguration, sec.Name)
		}
		for i, step := range sec.Steps {
			if err := v.validateStep(step, lookup); err != nil {
				return fmt.Errorf("section %q step %d: %w", sec.Name, i+1, err)
			}
		}
	}
	return nil
}

// Validate runs both passes and returns the parsed program.
func (v *Validator) Validate(data []byte, lookup AliasLookup) (*Program, error) {
	if err := v.ValidateJSON(data); err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateProgram(p, lookup); err != nil {
		return nil, err
	}
	return p, nil
}

// Report is the check result for UIs: all findings instead of the first.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Report collects every schema and bench finding for one script.
func (v *Validator) Report(data []byte, lookup AliasLookup) Report {
	r := Report{Valid: true}
	fail := func(format string, args ...any) {
		r.Valid = false
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}

	if err := v.ValidateJSON(data); err != nil {
		fail("%v", err)
		return r
	}
	p, err := Parse(data)
	if err != nil {
		fail("%v", err)
		return r
	}

	check := func(where string, step Step) {
		if err := v.validateStep(step, lookup); err != nil {
			fail("%s: %v", where, err)
			return
		}
		if step.Device == "" && step.Command == HoldCommand {
			if _, ok := step.Params["seconds"]; !ok {
				warn("%s: hold without seconds, defaults to 1s", where)
			}
		}
	}

	for i, step := range p.Setup {
		check(fmt.Sprintf("setup step %d", i+1), step)
	}
	for _, sec := range p.Sections {
		for i, step := range sec.Steps {
			check(fmt.Sprintf("section %q step %d", sec.Name, i+1), step)
		}
	}
	return r
}

func (v *Validator) validateStep(step Step, lookup AliasLookup) error {
	if step.Hold < 0 {
		return fmt.Errorf("%w: hold must not be negative", types.ErrConfiguration)
	}

	// hold ohne Gerät ist der eingebaute Wartebefehl
	if step.Device == "" {
		if step.Command != HoldCommand {
			return fmt.Errorf("%w: command %q needs a device alias", types.ErrConfiguration, step.Command)
		}
		return nil
	}

	typeName, ok := lookup(step.Device)
	if !ok {
		return fmt.Errorf("%w: unknown device alias %q", types.ErrConfiguration, step.Device)
	}
	commands, ok := devices.CommandsFor(typeName)
	if !ok {
		return fmt.Errorf("%w: alias %q has unregistered type %q", types.ErrConfiguration, step.Device, typeName)
	}
	for _, cmd := range commands {
		if cmd.Name == step.Command {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no command %q", types.ErrConfiguration, typeName, step.Command)
}

package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/types"
)

const sampleScript = `{
  "name": "leak check",
  "iterations": 3,
  "setup": [
    {"device": "regulator", "command": "set_pressure", "params": {"psi": 80, "wait": true}}
  ],
  "sections": [
    {
      "name": "extend",
      "steps": [
        {"device": "valves", "command": "valve_on", "params": {"valve": "1.A"}, "hold": 2},
        {"device": "force", "command": "read_force"}
      ]
    },
    {
      "name": "retract",
      "steps": [
        {"device": "valves", "command": "valve_on", "params": {"valve": "1.B", "duration": 1.5}},
        {"command": "hold", "params": {"seconds": 1}}
      ]
    }
  ]
}`

// benchLookup spiegelt die Verdrahtung einer typischen Bank.
func benchLookup(alias string) (string, bool) {
	wired := map[string]string{
		"valves":    "SY3000",
		"regulator": "ITV-1050",
		"force":     "LCM300",
	}
	typeName, ok := wired[alias]
	return typeName, ok
}

func TestParseProgram(t *testing.T) {
	p, err := Parse([]byte(sampleScript))
	require.NoError(t, err)

	assert.Equal(t, "leak check", p.Name)
	assert.Equal(t, 3, p.Iterations)
	require.Len(t, p.Setup, 1)
	require.Len(t, p.Sections, 2)
	assert.Equal(t, "extend", p.Sections[0].Name)
	assert.Equal(t, 4, p.StepCount())

	step := p.Sections[0].Steps[0]
	assert.Equal(t, "valves", step.Device)
	assert.Equal(t, "valve_on", step.Command)
	assert.Equal(t, 2*time.Second, step.HoldDuration())
}

func TestValidateAcceptsSampleScript(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	p, err := v.Validate([]byte(sampleScript), benchLookup)
	require.NoError(t, err)
	assert.Equal(t, "leak check", p.Name)
}

func TestValidateJSONRejections(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cases := []struct {
		name string
		data string
	}{
		{"not json", `{"name": `},
		{"missing name", `{"iterations": 1, "sections": [{"name": "s", "steps": [{"command": "hold"}]}]}`},
		{"zero iterations", `{"name": "x", "iterations": 0, "sections": [{"name": "s", "steps": [{"command": "hold"}]}]}`},
		{"no sections", `{"name": "x", "iterations": 1, "sections": []}`},
		{"empty section", `{"name": "x", "iterations": 1, "sections": [{"name": "s", "steps": []}]}`},
		{"step without command", `{"name": "x", "iterations": 1, "sections": [{"name": "s", "steps": [{"device": "valves"}]}]}`},
		{"negative hold", `{"name": "x", "iterations": 1, "sections": [{"name": "s", "steps": [{"command": "hold", "hold": -1}]}]}`},
		{"unknown field", `{"name": "x", "iterations": 1, "loop": true, "sections": [{"name": "s", "steps": [{"command": "hold"}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, v.ValidateJSON([]byte(tc.data)), types.ErrConfiguration)
		})
	}
}

func TestValidateProgramAgainstBench(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	t.Run("unknown alias", func(t *testing.T) {
		p, err := Parse([]byte(sampleScript))
		require.NoError(t, err)
		p.Sections[0].Steps[0].Device = "ghost"
		require.ErrorIs(t, v.ValidateProgram(p, benchLookup), types.ErrConfiguration)
	})

	t.Run("unknown command on type", func(t *testing.T) {
		p, err := Parse([]byte(sampleScript))
		require.NoError(t, err)
		p.Sections[0].Steps[0].Command = "self_destruct"
		require.ErrorIs(t, v.ValidateProgram(p, benchLookup), types.ErrConfiguration)
	})

	t.Run("deviceless step must be hold", func(t *testing.T) {
		p, err := Parse([]byte(sampleScript))
		require.NoError(t, err)
		p.Sections[1].Steps[1].Command = "valve_on"
		require.ErrorIs(t, v.ValidateProgram(p, benchLookup), types.ErrConfiguration)
	})

	t.Run("setup steps validated too", func(t *testing.T) {
		p, err := Parse([]byte(sampleScript))
		require.NoError(t, err)
		p.Setup[0].Device = "ghost"
		require.ErrorIs(t, v.ValidateProgram(p, benchLookup), types.ErrConfiguration)
	})
}

func TestReportCollectsAllFindings(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	p, err := Parse([]byte(sampleScript))
	require.NoError(t, err)
	p.Sections[0].Steps[0].Device = "ghost"
	p.Sections[1].Steps[0].Command = "self_destruct"
	p.Sections[1].Steps[1].Params = nil // hold ohne seconds
	data, err := p.ToJSON()
	require.NoError(t, err)

	report := v.Report(data, benchLookup)
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 2)
	// der nackte hold ohne seconds fällt als Warnung auf
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "defaults to 1s")
}

func TestReportAcceptsSampleScript(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	report := v.Report([]byte(sampleScript), benchLookup)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
}

func TestToJSONRoundTrip(t *testing.T) {
	p, err := Parse([]byte(sampleScript))
	require.NoError(t, err)

	data, err := p.ToJSON()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

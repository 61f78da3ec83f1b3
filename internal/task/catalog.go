package task

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Constraint is one requirement that can be injected into a task.
type Constraint struct {
	Tag  string `yaml:"tag" json:"tag"`
	Text string `yaml:"text" json:"text"`
}

// Catalog is the ordered list of constraints evolution draws from.
type Catalog []Constraint

type catalogFile struct {
	Constraints []Constraint `yaml:"constraints"`
}

// LoadCatalog reads a YAML catalog:
//
//	constraints:
//	  - tag: signal-jitter
//	    text: Input signals may bounce; debounce them for 20 ms.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	cat := Catalog(f.Constraints)
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that tags are present and unique.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("constraint catalog is empty")
	}
	seen := make(map[string]bool, len(c))
	for i, con := range c {
		tag := strings.TrimSpace(con.Tag)
		if tag == "" || strings.TrimSpace(con.Text) == "" {
			return fmt.Errorf("constraint %d: tag and text are required", i)
		}
		if seen[tag] {
			return fmt.Errorf("constraint %d: duplicate tag %q", i, tag)
		}
		seen[tag] = true
	}
	return nil
}

// DefaultCatalog returns the built-in constraint catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		{Tag: "signal-jitter", Text: "Digital inputs may bounce; debounce every input before acting on it."},
		{Tag: "error-recovery", Text: "Detect faults, latch an error code and require an explicit reset to recover."},
		{Tag: "sensor-failure", Text: "Treat out-of-range analog readings as a sensor failure and enter a safe state."},
		{Tag: "timeouts", Text: "Every wait for an external acknowledgement must time out using a TON timer."},
		{Tag: "state-machine", Text: "Structure the logic as an explicit CASE-based state machine with named states."},
		{Tag: "rate-limit", Text: "Limit the rate of change of every analog output per scan cycle."},
		{Tag: "interlocks", Text: "Enforce safety interlocks so that conflicting actuators can never be energized together."},
		{Tag: "manual-mode", Text: "Support a manual override mode that bypasses automatic sequencing."},
		{Tag: "diagnostics", Text: "Expose counters for cycles, faults and the last fault reason as outputs."},
		{Tag: "hysteresis", Text: "Apply hysteresis to every threshold comparison to avoid chattering."},
		{Tag: "array-processing", Text: "Process a fixed-size ARRAY of channels in a FOR loop instead of scalar variables."},
		{Tag: "edge-detection", Text: "Trigger actions on rising edges using R_TRIG instead of levels."},
		{Tag: "scaling", Text: "Convert raw integer input counts to engineering units with configurable limits."},
		{Tag: "watchdog", Text: "Include a watchdog that raises an alarm when the main sequence stalls."},
		{Tag: "retain", Text: "Keep totals and configuration in RETAIN variables across power cycles."},
		{Tag: "alarm-priority", Text: "Classify alarms by priority and acknowledge them individually."},
	}
}

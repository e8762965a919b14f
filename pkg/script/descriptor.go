// Package script renders SLURM batch scripts from workload descriptors.
//
// A descriptor names the job (tool, dataset, participant), requests
// resources, and carries one opaque workload command built elsewhere. The
// command is embedded verbatim; this package never inspects it.
//
// Example descriptor (YAML):
//
//	tool: freesurfer
//	dataset: ds001
//	participant: "01"
//	resources:
//	  time: "4:00:00"
//	  memory: 16G
//	  gpus: 0
//	command: apptainer run ... participant --participant-label 01
package script

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidDescriptor indicates an incomplete or malformed job request.
var ErrInvalidDescriptor = errors.New("invalid job descriptor")

// Descriptor describes one job to render and submit.
type Descriptor struct {
	Tool        string `json:"tool" yaml:"tool"`
	Dataset     string `json:"dataset" yaml:"dataset"`
	Participant string `json:"participant" yaml:"participant"`

	Resources Resources `json:"resources" yaml:"resources"`

	// Command is the opaque workload command line.
	Command string `json:"command" yaml:"command"`

	// Modules are loaded with `module load` before the command runs.
	Modules []string `json:"modules,omitempty" yaml:"modules,omitempty"`

	// Env is exported before the command runs, in key order.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Metadata is recorded with the job and never interpreted.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Resources is the scheduler resource request.
type Resources struct {
	// Partition is optional; empty omits the directive.
	Partition string `json:"partition,omitempty" yaml:"partition,omitempty"`

	// Time is the wall-time limit in SLURM syntax, e.g. "4:00:00" or "1-12:00:00".
	Time string `json:"time" yaml:"time"`

	// Memory is the per-node memory request, e.g. "16G".
	Memory string `json:"memory" yaml:"memory"`

	// GPUs is the GPU count; zero requests none.
	GPUs int `json:"gpus,omitempty" yaml:"gpus,omitempty"`

	// CPUs is the per-task CPU count; zero leaves the scheduler default.
	CPUs int `json:"cpus,omitempty" yaml:"cpus,omitempty"`
}

// JobName returns the scheduler job name, tool-dataset-participant.
func (d Descriptor) JobName() string {
	return fmt.Sprintf("%s-%s-%s", d.Tool, d.Dataset, d.Participant)
}

// ScriptName returns the script file name used on the remote host.
func (d Descriptor) ScriptName() string {
	return fmt.Sprintf("%s_%s.sh", d.Tool, d.Participant)
}

var (
	// [days-]hours[:minutes[:seconds]] or minutes[:seconds]
	wallTimePattern = regexp.MustCompile(`^([0-9]+-)?[0-9]+(:[0-9]{1,2}){0,2}$`)
	memoryPattern   = regexp.MustCompile(`^[0-9]+[KMGT]?B?$`)
	envKeyPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Field is the descriptor field (e.g., "resources.time").
	Field string

	// Message describes the problem.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalidDescriptor, e[0].Error())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %d problems:", ErrInvalidDescriptor, len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns ErrInvalidDescriptor.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidDescriptor
}

// Validate checks required fields and directive syntax. Required fields
// are never defaulted.
func (d Descriptor) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	for _, f := range []struct{ name, value string }{
		{"tool", d.Tool},
		{"dataset", d.Dataset},
		{"participant", d.Participant},
	} {
		switch {
		case strings.TrimSpace(f.value) == "":
			add(f.name, "is required")
		case !namePattern.MatchString(f.value):
			add(f.name, fmt.Sprintf("%q may only contain letters, digits, '.', '_', '+' and '-'", f.value))
		}
	}

	if strings.TrimSpace(d.Command) == "" {
		add("command", "is required")
	}

	r := d.Resources
	switch {
	case strings.TrimSpace(r.Time) == "":
		add("resources.time", "is required")
	case !wallTimePattern.MatchString(r.Time):
		add("resources.time", fmt.Sprintf("%q is not a SLURM time limit (e.g. 4:00:00 or 1-12:00:00)", r.Time))
	}
	switch {
	case strings.TrimSpace(r.Memory) == "":
		add("resources.memory", "is required")
	case !memoryPattern.MatchString(r.Memory):
		add("resources.memory", fmt.Sprintf("%q is not a SLURM memory size (e.g. 16G)", r.Memory))
	}
	if r.Partition != "" && !namePattern.MatchString(r.Partition) {
		add("resources.partition", fmt.Sprintf("%q is not a valid partition name", r.Partition))
	}
	if r.GPUs < 0 {
		add("resources.gpus", "must be >= 0")
	}
	if r.CPUs < 0 {
		add("resources.cpus", "must be >= 0")
	}

	for _, mod := range d.Modules {
		if strings.TrimSpace(mod) == "" || strings.ContainsAny(mod, " \t\n;&|") {
			add("modules", fmt.Sprintf("%q is not a module name", mod))
		}
	}
	for _, k := range sortedKeys(d.Env) {
		if !envKeyPattern.MatchString(k) {
			add("env", fmt.Sprintf("%q is not a valid variable name", k))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

// CompletionMarker is echoed after the workload command finishes.
const CompletionMarker = `echo "Job finished at: $(date)"`

// Render produces the batch script for d.
//
// Render is pure: the same descriptor always yields the same text. It does
// not validate; call Descriptor.Validate first.
//
// Directives are omitted rather than zeroed: no partition line without a
// partition, and no GPU request for zero GPUs (some schedulers reject
// gpu:0).
func Render(d Descriptor) string {
	var b strings.Builder
	name := d.JobName()
	r := d.Resources

	b.WriteString("#!/bin/bash\n")
	directive(&b, "job-name", name)
	if r.Partition != "" {
		directive(&b, "partition", r.Partition)
	}
	directive(&b, "time", r.Time)
	directive(&b, "mem", r.Memory)
	if r.CPUs > 0 {
		directive(&b, "cpus-per-task", fmt.Sprint(r.CPUs))
	}
	directive(&b, "output", name+"_%j.out")
	directive(&b, "error", name+"_%j.err")
	if r.GPUs > 0 {
		directive(&b, "gres", fmt.Sprintf("gpu:%d", r.GPUs))
	}

	b.WriteString("\n# Environment\n")
	b.WriteString("echo \"Job started at: $(date)\"\n")
	b.WriteString("echo \"Running on node: $(hostname)\"\n")
	b.WriteString("echo \"Job ID: $SLURM_JOB_ID\"\n")
	for _, mod := range d.Modules {
		fmt.Fprintf(&b, "module load %s\n", mod)
	}
	for _, k := range sortedKeys(d.Env) {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellescape.Quote(d.Env[k]))
	}

	b.WriteString("\n# Workload\n")
	b.WriteString(strings.TrimRight(d.Command, "\n"))
	b.WriteString("\nstatus=$?\n")

	b.WriteString("\n")
	b.WriteString(CompletionMarker)
	b.WriteString("\nexit \"$status\"\n")

	return b.String()
}

func directive(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "#SBATCH --%s=%s\n", key, value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

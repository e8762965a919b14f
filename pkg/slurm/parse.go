package slurm

import (
	"strconv"
	"strings"
)

// SubmittedPhrase precedes the job id in sbatch output.
const SubmittedPhrase = "Submitted batch job"

// ParseSubmitted extracts the job id from sbatch output of the form
// "Submitted batch job 12345". The id must be the last whitespace-delimited
// token and purely numeric.
func ParseSubmitted(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, SubmittedPhrase) {
			continue
		}
		fields := strings.Fields(line)
		id := fields[len(fields)-1]
		if len(fields) == len(strings.Fields(SubmittedPhrase))+1 && isDigits(id) {
			return id, nil
		}
		break
	}
	return "", &SubmissionParseError{Output: strings.TrimSpace(output)}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseLive parses squeue output for jobID. It returns nil when the queue
// has no entry for the job. A line whose id matches exactly is preferred;
// otherwise the first array task of the job (jobID_N) is used. Lines for
// other jobs are ignored.
func ParseLive(jobID, output string) (*LiveEntry, error) {
	var first *LiveEntry
	for _, line := range nonEmptyLines(output) {
		parts := strings.Split(line, liveSeparator)
		if len(parts) < 2 {
			return nil, &ParseError{Source: SourceLive, Output: output, Detail: "expected at least id and state"}
		}
		entry := &LiveEntry{
			JobID:     strings.TrimSpace(parts[0]),
			State:     NormalizeState(parts[1]),
			StartTime: field(parts, 2),
			EndTime:   field(parts, 3),
		}
		if entry.JobID == jobID {
			return entry, nil
		}
		if first == nil && strings.HasPrefix(entry.JobID, jobID+"_") {
			first = entry
		}
	}
	return first, nil
}

// ParseHistorical parses sacct output. Only the first line, the job
// itself, is authoritative; step lines are ignored. It returns nil when
// accounting has no entry.
func ParseHistorical(output string) (*HistoricalEntry, error) {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return nil, nil
	}
	parts := strings.Split(lines[0], historicalSeparator)
	if len(parts) < 5 {
		return nil, &ParseError{Source: SourceHistorical, Output: output, Detail: "expected at least 5 fields"}
	}

	entry := &HistoricalEntry{
		JobID:     strings.TrimSpace(parts[0]),
		State:     NormalizeState(parts[1]),
		Reason:    field(parts, 3),
		StartTime: field(parts, 4),
		EndTime:   field(parts, 5),
		Elapsed:   field(parts, 6),
	}

	if raw := strings.TrimSpace(parts[2]); raw != "" {
		code, signal, err := parseExitCode(raw)
		if err != nil {
			return nil, &ParseError{Source: SourceHistorical, Output: output, Detail: err.Error()}
		}
		entry.ExitCode = &code
		entry.Signal = signal
	}
	return entry, nil
}

// parseExitCode parses "code" or "code:signal".
func parseExitCode(raw string) (int, *int, error) {
	codeStr, sigStr, hasSig := strings.Cut(raw, ":")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, nil, &strconv.NumError{Func: "exit code", Num: raw, Err: strconv.ErrSyntax}
	}
	if !hasSig {
		return code, nil, nil
	}
	sig, err := strconv.Atoi(sigStr)
	if err != nil {
		return 0, nil, &strconv.NumError{Func: "exit signal", Num: raw, Err: strconv.ErrSyntax}
	}
	return code, &sig, nil
}

// field returns parts[i] trimmed, with SLURM's placeholders mapped to "".
func field(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	v := strings.TrimSpace(parts[i])
	switch v {
	case "None", "Unknown", "N/A", "(null)":
		return ""
	}
	return v
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

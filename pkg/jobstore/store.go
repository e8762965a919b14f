// Package jobstore persists submitted jobs in a single JSON file.
//
// The file is a JSON object keyed by job id:
//
//	{
//	  "55821": {"job_id": "55821", "tool": "freesurfer", "state": "RUNNING", ...}
//	}
//
// Every Put re-reads the file, merges by id and rewrites it atomically.
// Writers inside one process are serialized; writers in independent
// processes are not supported.
package jobstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"go.uber.org/zap"
)

// FileName is the store file name under the app data dir.
const FileName = "hpc_jobs.json"

// ErrStoreCorrupt indicates the backing file could not be parsed. It is
// logged and never returned: a corrupt store reads as empty.
var ErrStoreCorrupt = errors.New("job store is corrupt")

// ErrInvalidPattern indicates a malformed glob passed to Match.
var ErrInvalidPattern = errors.New("invalid pattern")

// DefaultPath returns the per-user store location.
func DefaultPath(appName string) string {
	return filepath.Join(gfconfig.GetAppDataDir(appName), FileName)
}

// Store is the file-backed job store.
type Store struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// New returns a store backed by path. The file is created on first Put.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: strings.TrimSpace(path), logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Put inserts or overwrites the record for info.JobID.
func (s *Store) Put(info JobInfo) error {
	if strings.TrimSpace(info.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	jobs[info.JobID] = info
	return s.write(jobs)
}

// Update applies fn to the stored record for jobID under the store lock.
// When no record exists fn receives a zero JobInfo with only JobID set and
// found=false. The result is written only when fn returns true.
func (s *Store) Update(jobID string, fn func(info *JobInfo, found bool) bool) (JobInfo, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobInfo{}, fmt.Errorf("job_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	info, found := jobs[jobID]
	if !found {
		info = JobInfo{JobID: jobID}
	}
	if !fn(&info, found) {
		return info, nil
	}
	info.JobID = jobID
	jobs[jobID] = info
	if err := s.write(jobs); err != nil {
		return info, err
	}
	return info, nil
}

// Get returns the record for jobID.
func (s *Store) Get(jobID string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.load()[jobID]
	return info, ok
}

// All returns every record, newest submission first.
func (s *Store) All() []JobInfo {
	return s.filter(func(JobInfo) bool { return true })
}

// ByTool returns the records for one tool, newest first.
func (s *Store) ByTool(tool string) []JobInfo {
	return s.filter(func(j JobInfo) bool { return j.Tool == tool })
}

// ByDataset returns the records for one dataset, newest first.
func (s *Store) ByDataset(dataset string) []JobInfo {
	return s.filter(func(j JobInfo) bool { return j.Dataset == dataset })
}

// Match returns the records whose tool and dataset match the doublestar
// patterns. An empty pattern matches everything.
func (s *Store) Match(toolPattern, datasetPattern string) ([]JobInfo, error) {
	for _, p := range []string{toolPattern, datasetPattern} {
		if p != "" && !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w %q", ErrInvalidPattern, p)
		}
	}
	match := func(pattern, value string) bool {
		if pattern == "" {
			return true
		}
		ok, err := doublestar.Match(pattern, value)
		return err == nil && ok
	}
	return s.filter(func(j JobInfo) bool {
		return match(toolPattern, j.Tool) && match(datasetPattern, j.Dataset)
	}), nil
}

func (s *Store) filter(keep func(JobInfo) bool) []JobInfo {
	s.mu.Lock()
	jobs := s.load()
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].SubmitTime.Equal(out[k].SubmitTime) {
			return out[i].SubmitTime.After(out[k].SubmitTime)
		}
		return out[i].JobID > out[k].JobID
	})
	return out
}

// load reads the backing file. It never fails: absent, unreadable or
// malformed files read as an empty store.
func (s *Store) load() map[string]JobInfo {
	jobs := make(map[string]JobInfo)
	if s.path == "" {
		return jobs
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Job store unreadable, treating as empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return jobs
	}
	if strings.TrimSpace(string(b)) == "" {
		return jobs
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.logger.Warn("Job store corrupt, treating as empty",
			zap.String("path", s.path), zap.Error(fmt.Errorf("%w: %v", ErrStoreCorrupt, err)))
		return jobs
	}

	for id, msg := range raw {
		var info JobInfo
		if err := decodeJob(msg, &info); err != nil {
			s.logger.Warn("Skipping malformed job entry",
				zap.String("path", s.path), zap.String("job_id", id), zap.Error(err))
			continue
		}
		if info.JobID == "" {
			info.JobID = id
		}
		jobs[id] = info
	}
	return jobs
}

// decodeJob unmarshals one entry keeping metadata numbers as the Go
// types they were written from: integers as int, anything else as float64.
func decodeJob(msg []byte, info *JobInfo) error {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(info); err != nil {
		return err
	}
	for k, v := range info.Metadata {
		info.Metadata[k] = normalizeNumber(v)
	}
	return nil
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 0); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumber(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumber(e)
		}
	}
	return v
}

func (s *Store) write(jobs map[string]JobInfo) error {
	if s.path == "" {
		return fmt.Errorf("job store path is empty")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job store: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EHPCL/RTHeter/internal/driver"
)

// DefaultDir is where sweep results are kept, relative to the working
// directory, unless the caller opens a different one.
const DefaultDir = ".rtheter"

const stateFile = "results.json"
const historyDir = "history"

// Store reads and writes sweep records under one directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir. An empty dir takes DefaultDir.
func Open(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir}
}

// Dir returns the directory the store writes to.
func (st *Store) Dir() string {
	return st.dir
}

// SweepStatus is the overall status of a sweep.
type SweepStatus string

const (
	StatusRunning   SweepStatus = "running"
	StatusCompleted SweepStatus = "completed"
	StatusFailed    SweepStatus = "failed"
	StatusCancelled SweepStatus = "cancelled"
)

// SweepState is the persistent record of one sweep.
type SweepState struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     SweepStatus  `json:"status"`
	TotalJobs  int          `json:"total_jobs"`
	Results    []*JobResult `json:"results"`

	mu    sync.Mutex `json:"-"`
	path  string     `json:"-"`
	store *Store     `json:"-"`
}

// JobResult is the persisted outcome of one (task set, policy, strategy) run.
type JobResult struct {
	Index      int          `json:"index"`
	File       string       `json:"file"`
	TaskSet    string       `json:"taskset"`
	Policy     string       `json:"policy"`
	Strategy   string       `json:"strategy"`
	Outcome    string       `json:"outcome"`
	Time       int          `json:"time"`
	Horizon    int          `json:"horizon"`
	Stats      driver.Stats `json:"stats"`
	Progress   []int        `json:"progress,omitempty"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Schedulable reports whether the run reached its horizon without a miss.
func (r *JobResult) Schedulable() bool {
	return r.Outcome == driver.OutcomeSchedulable.String()
}

// New creates a running sweep record and persists it.
func (st *Store) New(id string, totalJobs int) (*SweepState, error) {
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &SweepState{
		ID:        id,
		StartedAt: time.Now(),
		Status:    StatusRunning,
		TotalJobs: totalJobs,
		path:      filepath.Join(st.dir, stateFile),
		store:     st,
	}

	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the latest sweep from disk.
func (st *Store) Load() (*SweepState, error) {
	return st.loadFile(filepath.Join(st.dir, stateFile))
}

func (st *Store) loadFile(path string) (*SweepState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s SweepState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	s.path = path
	s.store = st
	return &s, nil
}

// Exists checks if a results file exists.
func (st *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(st.dir, stateFile))
	return err == nil
}

// Save persists the current state to disk.
func (s *SweepState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Record appends a job result, keeping results ordered by job index, and saves.
func (s *SweepState) Record(r *JobResult) error {
	s.mu.Lock()
	s.Results = append(s.Results, r)
	sort.SliceStable(s.Results, func(i, j int) bool { return s.Results[i].Index < s.Results[j].Index })
	s.mu.Unlock()
	return s.Save()
}

// SetStatus updates the sweep status and saves. Terminal statuses stamp the
// finish time.
func (s *SweepState) SetStatus(status SweepStatus) error {
	s.Status = status
	if status != StatusRunning {
		now := time.Now()
		s.FinishedAt = &now
	}
	return s.Save()
}

// Counts returns how many recorded jobs ended in each outcome.
func (s *SweepState) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Archive copies the current results into the history directory under the
// sweep id.
func (s *SweepState) Archive() (string, error) {
	dir := filepath.Join(s.store.dir, historyDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	dest := filepath.Join(dir, s.ID+".json")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("archive state: %w", err)
	}
	return dest, nil
}

// ListHistory returns archived sweep ids, newest first. Ids carry a
// timestamp so they sort chronologically.
func (st *Store) ListHistory() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(st.dir, historyDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// HistoryExists reports whether any sweep has been archived.
func (st *Store) HistoryExists() bool {
	ids, err := st.ListHistory()
	return err == nil && len(ids) > 0
}

// LoadArchived loads an archived sweep by id.
func (st *Store) LoadArchived(id string) (*SweepState, error) {
	return st.loadFile(filepath.Join(st.dir, historyDir, id+".json"))
}

// LoadPrevious loads the newest archived sweep.
func (st *Store) LoadPrevious() (*SweepState, error) {
	ids, err := st.ListHistory()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no archived sweeps in %s", filepath.Join(st.dir, historyDir))
	}
	return st.LoadArchived(ids[0])
}

// CleanCurrent removes the latest results but keeps the history.
func (st *Store) CleanCurrent() error {
	err := os.Remove(filepath.Join(st.dir, stateFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clean removes the state directory.
func (st *Store) Clean() error {
	return os.RemoveAll(st.dir)
}

package epic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Run document file names within a run directory.
const (
	MissionFile      = "MISSION"
	CurrentStateFile = "CURRENT_STATE"
	MemoryFile       = "MEMORY"
)

// ErrRunNotFound indicates the run id is unknown to the store.
var ErrRunNotFound = errors.New("epic: run not found")

// RunStore keeps epic run records in memory and their shared documents
// on disk, one directory per run. The documents are the coordination
// surface between rounds: MISSION is written once, CURRENT_STATE is
// rewritten by the judge each round, MEMORY accumulates round entries.
type RunStore struct {
	root string

	mu   sync.Mutex
	runs map[string]*models.EpicRun
}

// NewRunStore creates a store rooted at dir.
func NewRunStore(root string) *RunStore {
	return &RunStore{root: root, runs: map[string]*models.EpicRun{}}
}

// Create initializes the run record and directory and writes MISSION.
func (s *RunStore) Create(run *models.EpicRun) error {
	dir := s.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MissionFile), []byte(run.Mission), 0o644); err != nil {
		return fmt.Errorf("writing mission: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

// Get returns a copy of the run record.
func (s *RunStore) Get(runID string) (*models.EpicRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	clone := *run
	clone.Summaries = append([]models.WorkerSummary(nil), run.Summaries...)
	return &clone, nil
}

// Update applies fn to the run record under the lock.
func (s *RunStore) Update(runID string, fn func(*models.EpicRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}

// CurrentState reads the latest CURRENT_STATE document. A run with no
// state yet returns an empty string.
func (s *RunStore) CurrentState(runID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), CurrentStateFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current state: %w", err)
	}
	return string(data), nil
}

// WriteCurrentState replaces the CURRENT_STATE document.
func (s *RunStore) WriteCurrentState(runID, state string) error {
	if err := os.WriteFile(filepath.Join(s.runDir(runID), CurrentStateFile), []byte(state), 0o644); err != nil {
		return fmt.Errorf("writing current state: %w", err)
	}
	return nil
}

// AppendMemory appends a round entry to the MEMORY document.
func (s *RunStore) AppendMemory(runID string, round int, decision models.JudgeDecision, note string) error {
	f, err := os.OpenFile(filepath.Join(s.runDir(runID), MemoryFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening memory: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "## Round %d (%s)\n", round, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Decision: %s\n", decision)
	if note != "" {
		b.WriteString(note)
		if !strings.HasSuffix(note, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("appending memory: %w", err)
	}
	return nil
}

// Memory reads the accumulated MEMORY document.
func (s *RunStore) Memory(runID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), MemoryFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading memory: %w", err)
	}
	return string(data), nil
}

func (s *RunStore) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

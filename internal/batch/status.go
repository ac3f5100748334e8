package batch

import (
	"time"
)

// State is the life-cycle position of one file within a run.
type State int

const (
	StateDiscovered State = iota
	StateSkipped
	StateDispatched
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateSkipped:
		return "skipped"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// FileStatus partitions every file touched in a run. The successful, failed
// and skipped lists are disjoint and together cover every discovered file
// by run end; in-progress is transient and only populated during parallel
// execution. Single-writer: mutated only at the scheduler's collection
// point.
type FileStatus struct {
	Successful []string
	Failed     []string
	Skipped    []string

	// Failures maps failed paths to a short reason for the run report.
	Failures map[string]string

	inProgress map[string]bool
}

func newFileStatus() *FileStatus {
	return &FileStatus{
		Failures:   make(map[string]string),
		inProgress: make(map[string]bool),
	}
}

func (fs *FileStatus) markSkipped(path string) {
	fs.Skipped = append(fs.Skipped, path)
}

func (fs *FileStatus) markDispatched(path string) {
	fs.inProgress[path] = true
}

func (fs *FileStatus) markSucceeded(path string) {
	delete(fs.inProgress, path)
	fs.Successful = append(fs.Successful, path)
}

func (fs *FileStatus) markFailed(path, reason string) {
	delete(fs.inProgress, path)
	fs.Failed = append(fs.Failed, path)
	fs.Failures[path] = reason
}

// InProgress returns the paths currently dispatched but not yet collected.
func (fs *FileStatus) InProgress() []string {
	paths := make([]string, 0, len(fs.inProgress))
	for p := range fs.inProgress {
		paths = append(paths, p)
	}
	return paths
}

// RunMetadata summarizes one invocation of directory processing. One
// instance per run; reset at the start and finalized at the end.
type RunMetadata struct {
	RunID string `json:"run_id"`
	Model string `json:"model"`

	// TotalFiles counts every file the catalog discovered, including
	// skipped ones, in both sequential and parallel modes.
	TotalFiles int `json:"total_files"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`

	Parallel bool `json:"parallel"`
	Workers  int  `json:"workers"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

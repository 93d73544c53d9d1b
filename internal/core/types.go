package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/progress"
)

// State is shared by Job and FileUnit.
type State string

const (
	StateCreated   State = "CREATED"
	StateScheduled State = "SCHEDULED"
	StateStarted   State = "STARTED"
	StateFinished  State = "FINISHED"
	StateFailed    State = "FAILED"
)

var stateRank = map[State]int{
	StateCreated:   0,
	StateScheduled: 1,
	StateStarted:   2,
	StateFinished:  3,
	StateFailed:    3,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// CanTransition reports whether s may move to next. Transitions only move
// forward and never leave a terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() || !s.Valid() || !next.Valid() {
		return false
	}
	return stateRank[next] > stateRank[s]
}

// FileRef is the job-side record of a spawned FileUnit.
type FileRef struct {
	FileName string    `json:"fileName"`
	FileID   uuid.UUID `json:"fileId"`
}

// Job is one import run.
type Job struct {
	ID           uuid.UUID
	State        State
	Config       ImportConfig
	StartedAt    *time.Time
	ErrorMessage string
	Files        []FileRef
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition moves the job to next.
func (j *Job) Transition(next State) error {
	if !j.State.CanTransition(next) {
		return &TransitionError{Kind: "job", ID: j.ID, From: j.State, To: next}
	}
	j.State = next
	return nil
}

// FileUnit is the import of one source file into one target scope.
type FileUnit struct {
	ID             uuid.UUID
	FileName       string
	OrganizationID uuid.UUID
	ScopeID        uuid.UUID
	CollectionName string
	State          State
	Progress       progress.Counts
	Failures       []string
	ErrorMessage   string
	HeartbeatAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the file unit to next.
func (f *FileUnit) Transition(next State) error {
	if !f.State.CanTransition(next) {
		return &TransitionError{Kind: "file", ID: f.ID, From: f.State, To: next}
	}
	f.State = next
	return nil
}

// Snapshot returns the persisted progress used to seed a pass.
func (f *FileUnit) Snapshot() progress.Snapshot {
	return progress.Snapshot{Counts: f.Progress, Failures: f.Failures}
}

// FileTask is the unit handed to a FileScheduler.
type FileTask struct {
	JobID    uuid.UUID `json:"jobId"`
	FileID   uuid.UUID `json:"fileId"`
	FileName string    `json:"fileName"`
}

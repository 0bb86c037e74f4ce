package model

import (
	"errors"
	"fmt"
	"strings"
)

// Round selects the pipeline variant for a task.
type Round int

// Round constants
const (
	RoundBuild  Round = 1
	RoundRevise Round = 2
)

// Valid reports whether r is one of the supported rounds.
func (r Round) Valid() bool {
	return r == RoundBuild || r == RoundRevise
}

func (r Round) String() string {
	switch r {
	case RoundBuild:
		return "build"
	case RoundRevise:
		return "revise"
	default:
		return fmt.Sprintf("round(%d)", int(r))
	}
}

// Attachment is a named file passed inline as a data URI.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TaskRequest is the unit of work driving one pipeline run.
type TaskRequest struct {
	Email         string       `json:"email"`
	Task          string       `json:"task"`
	Round         Round        `json:"round"`
	Nonce         string       `json:"nonce"`
	Brief         string       `json:"brief"`
	Checks        []string     `json:"checks"`
	Attachments   []Attachment `json:"attachments"`
	EvaluationURL string       `json:"evaluation_url"`
}

// ErrInvalidRound is returned for rounds other than build and revise.
var ErrInvalidRound = errors.New("invalid round number. Must be 1 or 2")

// Validate checks the fields the pipeline cannot run without.
func (t *TaskRequest) Validate() error {
	if !t.Round.Valid() {
		return ErrInvalidRound
	}
	if strings.TrimSpace(t.Task) == "" {
		return errors.New("task is required")
	}
	if strings.TrimSpace(t.EvaluationURL) == "" {
		return errors.New("evaluation_url is required")
	}
	return nil
}

// ContainerName derives the repository name for a task. It depends on the task id
// only, so both rounds of the same task resolve to the same repository.
func ContainerName(prefix, task string) string {
	return prefix + strings.TrimSpace(task)
}

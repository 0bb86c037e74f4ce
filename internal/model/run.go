package model

import "time"

// Run status constants
const (
	RunAccepted  = "ACCEPTED"
	RunRunning   = "RUNNING"
	RunSucceeded = "SUCCEEDED"
	RunFailed    = "FAILED"
	RunAbandoned = "ABANDONED"
)

// Run is the audit record of one accepted task request.
type Run struct {
	ID         string  `json:"id"`
	Task       string  `json:"task"`
	Round      Round   `json:"round"`
	Email      string  `json:"email"`
	Nonce      string  `json:"nonce"`
	Status     string  `json:"status"`
	FailedStep *string `json:"failed_step,omitempty"`
	ErrorInfo  *string `json:"error_info,omitempty"`
	RepoURL    string  `json:"repo_url,omitempty"`
	CommitSHA  string  `json:"commit_sha,omitempty"`
	PagesURL   string  `json:"pages_url,omitempty"`
	PageTitle  string  `json:"page_title,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// RunOutcome holds what a successful pipeline run produced.
type RunOutcome struct {
	RepoURL   string
	CommitSHA string
	PagesURL  string
	PageTitle string
}

// RunFilter holds query parameters for listing runs.
type RunFilter struct {
	Task   string
	Status []string
	Limit  int
}

// NewRun creates a Run in ACCEPTED status for the given request.
func NewRun(id string, t *TaskRequest) Run {
	now := time.Now().UTC().Format(time.RFC3339)
	return Run{
		ID:        id,
		Task:      t.Task,
		Round:     t.Round,
		Email:     t.Email,
		Nonce:     t.Nonce,
		Status:    RunAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunAbandoned:
		return true
	}
	return false
}

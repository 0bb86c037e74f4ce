package model

// NotificationPayload is the result summary posted to the evaluation endpoint.
type NotificationPayload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     Round  `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// NewNotificationPayload copies the identity fields of t and attaches the derived URLs.
func NewNotificationPayload(t *TaskRequest, repoURL, commitSHA, pagesURL string) NotificationPayload {
	return NotificationPayload{
		Email:     t.Email,
		Task:      t.Task,
		Round:     t.Round,
		Nonce:     t.Nonce,
		RepoURL:   repoURL,
		CommitSHA: commitSHA,
		PagesURL:  pagesURL,
	}
}

package models

// DeploymentResult is posted to the caller's evaluation URL after a round publishes.
// CommitSHA is nil when the branch has no commits yet.
type DeploymentResult struct {
	Email     string  `json:"email"`
	Task      string  `json:"task"`
	Round     int     `json:"round"`
	Nonce     string  `json:"nonce"`
	RepoURL   string  `json:"repo_url"`
	CommitSHA *string `json:"commit_sha"`
	PagesURL  string  `json:"pages_url"`
}

// DeploymentStatus is the outcome carried by a deployment event.
type DeploymentStatus string

const (
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed    DeploymentStatus = "failed"
)

// DeploymentEvent is published to the event queue when a round finishes.
type DeploymentEvent struct {
	Nonce     string           `json:"nonce"`
	Task      string           `json:"task"`
	Round     int              `json:"round"`
	Project   string           `json:"project"`
	Status    DeploymentStatus `json:"status"`
	Stage     string           `json:"stage,omitempty"`
	Error     string           `json:"error,omitempty"`
	RepoURL   string           `json:"repo_url,omitempty"`
	PagesURL  string           `json:"pages_url,omitempty"`
	CommitSHA string           `json:"commit_sha,omitempty"`
}

// File is a single named file of a published artifact set.
type File struct {
	Name    string
	Content []byte
}

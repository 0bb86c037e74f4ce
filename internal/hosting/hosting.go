// Package hosting publishes generated pages to a source-hosting provider.
//
// Every operation is idempotent from the caller's point of view: creating a
// repository that already exists returns the existing one, writing a file that
// already exists updates it, and enabling pages twice succeeds twice. Provider
// status codes never leave this package; callers see ErrNotFound, ErrConflict
// or an opaque error.
package hosting

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a repository or file does not exist.
	ErrNotFound = errors.New("hosting: not found")

	// ErrConflict is returned when an update lost a race against another writer.
	ErrConflict = errors.New("hosting: revision conflict")
)

// Container is a repository holding one generated page.
type Container struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	PagesURL      string `json:"pages_url"`
}

// Store is the capability set the pipeline needs from the provider.
type Store interface {
	// EnsureContainer creates the named repository or returns it if it exists.
	EnsureContainer(ctx context.Context, name string) (*Container, error)
	// GetContainer looks up an existing repository.
	GetContainer(ctx context.Context, name string) (*Container, error)
	// ReadArtifact returns the decoded file body at path.
	ReadArtifact(ctx context.Context, c *Container, path string) (string, error)
	// WriteArtifact creates or updates the file at path and returns the commit SHA.
	WriteArtifact(ctx context.Context, c *Container, path, message, body string) (string, error)
	// EnablePublicServing turns on static hosting for the repository.
	EnablePublicServing(ctx context.Context, c *Container) error
}

func pagesURL(owner, name string) string {
	return "https://" + strings.ToLower(owner) + ".github.io/" + name + "/"
}

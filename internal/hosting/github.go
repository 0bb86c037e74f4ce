package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Verify at compile time that GitHubStore implements Store.
var _ Store = (*GitHubStore)(nil)

// GitHubStore implements Store on top of the GitHub REST API.
type GitHubStore struct {
	client *github.Client
	owner  string
	// org is set when repositories are created under an account other than
	// the token's user.
	org    string
	branch string
}

// GitHubOption configures a GitHubStore.
type GitHubOption func(*GitHubStore)

// WithOwner pins the repository owner instead of resolving it from the token.
// An owner other than the token's user is treated as an organization.
func WithOwner(owner string) GitHubOption {
	return func(s *GitHubStore) { s.owner = owner }
}

// WithBranch sets the branch used when a repository reports no default branch.
func WithBranch(branch string) GitHubOption {
	return func(s *GitHubStore) { s.branch = branch }
}

// NewGitHubClient builds an authenticated, traced client. apiURL selects a
// GitHub Enterprise endpoint when non-empty.
func NewGitHubClient(token, apiURL string) (*github.Client, error) {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	client := github.NewClient(httpClient).WithAuthToken(token)
	if apiURL != "" {
		return client.WithEnterpriseURLs(apiURL, apiURL)
	}
	return client, nil
}

// NewGitHubStore creates a store. The authenticated user is always resolved,
// so a bad token fails here rather than per task. It becomes the owner unless
// one is configured.
func NewGitHubStore(ctx context.Context, client *github.Client, opts ...GitHubOption) (*GitHubStore, error) {
	s := &GitHubStore{client: client, branch: "main"}
	for _, opt := range opts {
		opt(s)
	}
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("resolve github user: %w", err)
	}
	login := user.GetLogin()
	switch {
	case s.owner == "":
		s.owner = login
	case !strings.EqualFold(s.owner, login):
		s.org = s.owner
	}
	return s, nil
}

// Owner returns the account repositories are created under.
func (s *GitHubStore) Owner() string { return s.owner }

// EnsureContainer creates a public, auto-initialised repository. A 422 "name
// already exists" response means the repository is reused.
func (s *GitHubStore) EnsureContainer(ctx context.Context, name string) (*Container, error) {
	repo, _, err := s.client.Repositories.Create(ctx, s.org, &github.Repository{
		Name:            github.String(name),
		Private:         github.Bool(false),
		AutoInit:        github.Bool(true),
		LicenseTemplate: github.String("mit"),
	})
	if err == nil {
		log.Ctx(ctx).Info().Str("repo", repo.GetHTMLURL()).Msg("created repository")
		return s.container(repo), nil
	}
	if !alreadyExists(err) {
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}
	log.Ctx(ctx).Warn().Str("repo", name).Msg("repository already exists, re-using it")
	return s.GetContainer(ctx, name)
}

// GetContainer fetches an existing repository.
func (s *GitHubStore) GetContainer(ctx context.Context, name string) (*Container, error) {
	repo, _, err := s.client.Repositories.Get(ctx, s.owner, name)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("repository %s/%s: %w", s.owner, name, ErrNotFound)
		}
		return nil, fmt.Errorf("get repository %s/%s: %w", s.owner, name, err)
	}
	return s.container(repo), nil
}

// ReadArtifact fetches and base64-decodes a file from the default branch.
func (s *GitHubStore) ReadArtifact(ctx context.Context, c *Container, path string) (string, error) {
	file, err := s.getFile(ctx, c, path)
	if err != nil {
		return "", err
	}
	body, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return body, nil
}

// WriteArtifact updates path in place when it exists, carrying its blob SHA as
// the precondition, and creates it otherwise.
func (s *GitHubStore) WriteArtifact(ctx context.Context, c *Container, path, message, body string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(body),
		Branch:  github.String(c.DefaultBranch),
	}

	existing, err := s.getFile(ctx, c, path)
	switch {
	case err == nil:
		log.Ctx(ctx).Info().Str("path", path).Msg("file already exists, updating it")
		opts.SHA = github.String(existing.GetSHA())
		res, _, err := s.client.Repositories.UpdateFile(ctx, c.Owner, c.Name, path, opts)
		if err != nil {
			if statusOf(err) == http.StatusConflict {
				return "", fmt.Errorf("update %s: %w", path, ErrConflict)
			}
			return "", fmt.Errorf("update %s: %w", path, err)
		}
		return res.Commit.GetSHA(), nil
	case errors.Is(err, ErrNotFound):
		res, _, err := s.client.Repositories.CreateFile(ctx, c.Owner, c.Name, path, opts)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		return res.Commit.GetSHA(), nil
	default:
		return "", err
	}
}

// EnablePublicServing enables GitHub Pages from the root of the default branch.
// A 409 means pages are already on.
func (s *GitHubStore) EnablePublicServing(ctx context.Context, c *Container) error {
	_, _, err := s.client.Repositories.EnablePages(ctx, c.Owner, c.Name, &github.Pages{
		BuildType: github.String("legacy"),
		Source: &github.PagesSource{
			Branch: github.String(c.DefaultBranch),
			Path:   github.String("/"),
		},
	})
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			log.Ctx(ctx).Warn().Str("repo", c.Name).Msg("pages already enabled")
			return nil
		}
		return fmt.Errorf("enable pages for %s: %w", c.Name, err)
	}
	return nil
}

func (s *GitHubStore) getFile(ctx context.Context, c *Container, path string) (*github.RepositoryContent, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, c.Owner, c.Name, path,
		&github.RepositoryContentGetOptions{Ref: c.DefaultBranch})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}
	return file, nil
}

func (s *GitHubStore) container(repo *github.Repository) *Container {
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = s.owner
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = s.branch
	}
	return &Container{
		Owner:         owner,
		Name:          repo.GetName(),
		HTMLURL:       repo.GetHTMLURL(),
		DefaultBranch: branch,
		PagesURL:      pagesURL(owner, repo.GetName()),
	}
}

func statusOf(err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}

func alreadyExists(err error) bool {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil || er.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range er.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	return strings.Contains(er.Message, "already exists")
}

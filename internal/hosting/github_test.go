package hosting

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v66/github"
)

// fakeGitHub emulates the subset of the REST API the store uses.
type fakeGitHub struct {
	mu        sync.Mutex
	repos     map[string]bool
	files     map[string]fakeFile
	pages     map[string]bool
	creates   int
	updates   int
	repoPosts int
	commits   int
	failPages int
}

type fakeFile struct {
	content []byte
	sha     string
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *github.Client) {
	t.Helper()
	f := &fakeGitHub{repos: map[string]bool{}, files: map[string]fakeFile{}, pages: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONBody(w, http.StatusOK, map[string]any{"login": "Octo"})
	})
	mux.HandleFunc("POST /user/repos", f.createRepo)
	mux.HandleFunc("POST /orgs/{org}/repos", f.createRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.getRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.getContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.putContents)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", f.enablePages)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, _ := url.Parse(srv.URL + "/")
	client.BaseURL = base
	return f, client
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func repoJSON(owner, name string) map[string]any {
	return map[string]any{
		"name":           name,
		"html_url":       "https://github.com/" + owner + "/" + name,
		"default_branch": "main",
		"owner":          map[string]any{"login": owner},
	}
}

func (f *fakeGitHub) createRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		AutoInit        bool   `json:"auto_init"`
		LicenseTemplate string `json:"license_template"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	owner := r.PathValue("org")
	if owner == "" {
		owner = "Octo"
	}
	key := strings.ToLower(owner + "/" + req.Name)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.repoPosts++
	if f.repos[key] {
		writeJSONBody(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Repository creation failed.",
			"errors": []map[string]any{{
				"resource": "Repository", "code": "custom", "field": "name",
				"message": "name already exists on this account",
			}},
		})
		return
	}
	if !req.AutoInit || req.LicenseTemplate != "mit" {
		writeJSONBody(w, http.StatusBadRequest, map[string]any{"message": "expected auto_init with mit license"})
		return
	}
	f.repos[key] = true
	writeJSONBody(w, http.StatusCreated, repoJSON(owner, req.Name))
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, name := r.PathValue("owner"), r.PathValue("repo")
	if !f.repos[strings.ToLower(owner+"/"+name)] {
		writeJSONBody(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSONBody(w, http.StatusOK, repoJSON(owner, name))
}

func (f *fakeGitHub) getContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Query().Get("ref") != "main" {
		writeJSONBody(w, http.StatusBadRequest, map[string]any{"message": "missing ref"})
		return
	}
	key := r.PathValue("repo") + "/" + r.PathValue("path")
	file, ok := f.files[key]
	if !ok {
		writeJSONBody(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     r.PathValue("path"),
		"sha":      file.sha,
		"content":  base64.StdEncoding.EncodeToString(file.content),
	})
}

func (f *fakeGitHub) putContents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string  `json:"message"`
		Content []byte  `json:"content"`
		SHA     *string `json:"sha"`
		Branch  string  `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONBody(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.PathValue("repo") + "/" + r.PathValue("path")
	existing, exists := f.files[key]
	switch {
	case exists && req.SHA == nil:
		writeJSONBody(w, http.StatusUnprocessableEntity, map[string]any{"message": `"sha" wasn't supplied.`})
		return
	case exists && *req.SHA != existing.sha:
		writeJSONBody(w, http.StatusConflict, map[string]any{"message": "sha does not match"})
		return
	case exists:
		f.updates++
	default:
		f.creates++
	}
	f.commits++
	sha := blobSHA(string(req.Content))
	f.files[key] = fakeFile{content: req.Content, sha: sha}
	writeJSONBody(w, http.StatusCreated, map[string]any{
		"content": map[string]any{"path": r.PathValue("path"), "sha": sha},
		"commit":  map[string]any{"sha": fmt.Sprintf("commit-%d", f.commits)},
	})
}

func (f *fakeGitHub) enablePages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildType string `json:"build_type"`
		Source    struct {
			Branch string `json:"branch"`
			Path   string `json:"path"`
		} `json:"source"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPages > 0 {
		f.failPages--
		writeJSONBody(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
		return
	}
	name := r.PathValue("repo")
	if f.pages[name] {
		writeJSONBody(w, http.StatusConflict, map[string]any{"message": "GitHub Pages is already enabled."})
		return
	}
	if req.Source.Branch != "main" || req.Source.Path != "/" || req.BuildType != "legacy" {
		writeJSONBody(w, http.StatusBadRequest, map[string]any{"message": "unexpected source"})
		return
	}
	f.pages[name] = true
	writeJSONBody(w, http.StatusCreated, map[string]any{"url": "https://api.github.com/repos/Octo/" + name + "/pages"})
}

func newTestGitHubStore(t *testing.T) (*fakeGitHub, *GitHubStore) {
	t.Helper()
	f, client := newFakeGitHub(t)
	s, err := NewGitHubStore(context.Background(), client)
	if err != nil {
		t.Fatalf("NewGitHubStore: %v", err)
	}
	return f, s
}

func TestNewGitHubStore_ResolvesOwner(t *testing.T) {
	_, s := newTestGitHubStore(t)
	if s.Owner() != "Octo" {
		t.Errorf("Owner = %q, want %q", s.Owner(), "Octo")
	}
}

func TestNewGitHubStore_WithOwner(t *testing.T) {
	_, client := newFakeGitHub(t)
	s, err := NewGitHubStore(context.Background(), client, WithOwner("someone"))
	if err != nil {
		t.Fatalf("NewGitHubStore: %v", err)
	}
	if s.Owner() != "someone" {
		t.Errorf("Owner = %q, want %q", s.Owner(), "someone")
	}
}

func TestGitHubStore_OrgOwner(t *testing.T) {
	f, client := newFakeGitHub(t)
	s, err := NewGitHubStore(context.Background(), client, WithOwner("acme-org"))
	if err != nil {
		t.Fatalf("NewGitHubStore: %v", err)
	}
	ctx := context.Background()

	first, err := s.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	if first.Owner != "acme-org" {
		t.Errorf("Owner = %q, want acme-org", first.Owner)
	}
	if !f.repos["acme-org/tds-app-t1"] {
		t.Errorf("repos = %v, want repository created under the organization", f.repos)
	}

	second, err := s.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("second EnsureContainer: %v", err)
	}
	if *first != *second {
		t.Errorf("containers differ: %+v vs %+v", first, second)
	}
	if _, err := s.GetContainer(ctx, "tds-app-t1"); err != nil {
		t.Errorf("GetContainer: %v", err)
	}
}

func TestGitHubStore_OwnerMatchingLoginUsesUserEndpoint(t *testing.T) {
	f, client := newFakeGitHub(t)
	s, err := NewGitHubStore(context.Background(), client, WithOwner("octo"))
	if err != nil {
		t.Fatalf("NewGitHubStore: %v", err)
	}
	if _, err := s.EnsureContainer(context.Background(), "tds-app-t1"); err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	if !f.repos["octo/tds-app-t1"] {
		t.Errorf("repos = %v, want repository created under the user", f.repos)
	}
}

func TestGitHubStore_EnsureContainerReusesExisting(t *testing.T) {
	f, s := newTestGitHubStore(t)
	ctx := context.Background()

	first, err := s.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	second, err := s.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("second EnsureContainer: %v", err)
	}
	if *first != *second {
		t.Errorf("containers differ: %+v vs %+v", first, second)
	}
	if f.repoPosts != 2 || len(f.repos) != 1 {
		t.Errorf("repo posts = %d, repos = %d; want 2 posts, 1 repo", f.repoPosts, len(f.repos))
	}
	if first.PagesURL != "https://octo.github.io/tds-app-t1/" {
		t.Errorf("PagesURL = %q", first.PagesURL)
	}
	if first.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q", first.DefaultBranch)
	}
}

func TestGitHubStore_GetContainerNotFound(t *testing.T) {
	_, s := newTestGitHubStore(t)
	_, err := s.GetContainer(context.Background(), "tds-app-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGitHubStore_WriteCreatesThenUpdates(t *testing.T) {
	f, s := newTestGitHubStore(t)
	ctx := context.Background()
	c, err := s.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}

	rev1, err := s.WriteArtifact(ctx, c, "index.html", "Round 1", "<html>one</html>")
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	rev2, err := s.WriteArtifact(ctx, c, "index.html", "Round 2", "<html>two</html>")
	if err != nil {
		t.Fatalf("second WriteArtifact: %v", err)
	}

	if f.creates != 1 || f.updates != 1 {
		t.Errorf("creates = %d, updates = %d; want 1 and 1", f.creates, f.updates)
	}
	if rev1 == rev2 || rev2 == "" {
		t.Errorf("revisions = %q, %q; want distinct non-empty", rev1, rev2)
	}

	body, err := s.ReadArtifact(ctx, c, "index.html")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if body != "<html>two</html>" {
		t.Errorf("body = %q, want latest", body)
	}
}

func TestGitHubStore_ReadMissingArtifact(t *testing.T) {
	_, s := newTestGitHubStore(t)
	ctx := context.Background()
	c, _ := s.EnsureContainer(ctx, "tds-app-t1")

	_, err := s.ReadArtifact(ctx, c, "index.html")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGitHubStore_EnablePagesIdempotent(t *testing.T) {
	_, s := newTestGitHubStore(t)
	ctx := context.Background()
	c, _ := s.EnsureContainer(ctx, "tds-app-t1")

	if err := s.EnablePublicServing(ctx, c); err != nil {
		t.Fatalf("EnablePublicServing: %v", err)
	}
	if err := s.EnablePublicServing(ctx, c); err != nil {
		t.Fatalf("second EnablePublicServing should succeed, got %v", err)
	}
}

func TestGitHubStore_EnablePagesServerError(t *testing.T) {
	f, s := newTestGitHubStore(t)
	ctx := context.Background()
	c, _ := s.EnsureContainer(ctx, "tds-app-t1")
	f.failPages = 1

	err := s.EnablePublicServing(ctx, c)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want an opaque provider error", err)
	}
}

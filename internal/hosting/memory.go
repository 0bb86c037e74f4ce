package hosting

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
)

// Verify at compile time that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used for dry runs and tests. It keeps the
// provider's semantics: unique names, blob SHAs per revision, and an
// optimistic precondition on updates.
type MemoryStore struct {
	owner string

	mu    sync.Mutex
	repos map[string]*memRepo
	calls []string
	seq   int
}

type memRepo struct {
	container Container
	files     map[string]memFile
	pages     bool
}

type memFile struct {
	body string
	sha  string
}

// NewMemoryStore creates an empty store whose repositories belong to owner.
func NewMemoryStore(owner string) *MemoryStore {
	return &MemoryStore{owner: owner, repos: make(map[string]*memRepo)}
}

// Calls returns the operations performed so far, in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CountCalls returns how many times op was invoked.
func (m *MemoryStore) CountCalls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// PagesEnabled reports whether pages were turned on for name.
func (m *MemoryStore) PagesEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[name]
	return ok && r.pages
}

// Files returns the paths stored in the named repository.
func (m *MemoryStore) Files(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[name]
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	return paths
}

func (m *MemoryStore) EnsureContainer(_ context.Context, name string) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "ensure_container")
	r, ok := m.repos[name]
	if !ok {
		r = &memRepo{
			container: Container{
				Owner:         m.owner,
				Name:          name,
				HTMLURL:       "https://github.com/" + m.owner + "/" + name,
				DefaultBranch: "main",
				PagesURL:      pagesURL(m.owner, name),
			},
			files: make(map[string]memFile),
		}
		m.repos[name] = r
	}
	c := r.container
	return &c, nil
}

func (m *MemoryStore) GetContainer(_ context.Context, name string) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "get_container")
	r, ok := m.repos[name]
	if !ok {
		return nil, fmt.Errorf("repository %s/%s: %w", m.owner, name, ErrNotFound)
	}
	c := r.container
	return &c, nil
}

func (m *MemoryStore) ReadArtifact(_ context.Context, c *Container, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "read_artifact")
	f, err := m.file(c.Name, path)
	if err != nil {
		return "", err
	}
	return f.body, nil
}

func (m *MemoryStore) WriteArtifact(_ context.Context, c *Container, path, message, body string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "write_artifact")
	base := ""
	if f, err := m.file(c.Name, path); err == nil {
		base = f.sha
	}
	m.mu.Unlock()
	return m.put(c.Name, path, message, body, base)
}

// put stores body at path if the current blob SHA still equals base ("" means
// the file must not exist yet) and returns a new commit SHA.
func (m *MemoryStore) put(name, path, message, body, base string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[name]
	if !ok {
		return "", fmt.Errorf("repository %s: %w", name, ErrNotFound)
	}
	if r.files[path].sha != base {
		return "", fmt.Errorf("update %s: %w", path, ErrConflict)
	}
	r.files[path] = memFile{body: body, sha: blobSHA(body)}
	m.seq++
	return digest(name + "\x00" + path + "\x00" + message + "\x00" + strconv.Itoa(m.seq)), nil
}

func (m *MemoryStore) EnablePublicServing(_ context.Context, c *Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "enable_public_serving")
	r, ok := m.repos[c.Name]
	if !ok {
		return fmt.Errorf("repository %s: %w", c.Name, ErrNotFound)
	}
	r.pages = true
	return nil
}

func (m *MemoryStore) file(name, path string) (memFile, error) {
	r, ok := m.repos[name]
	if !ok {
		return memFile{}, fmt.Errorf("repository %s: %w", name, ErrNotFound)
	}
	f, ok := r.files[path]
	if !ok {
		return memFile{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return f, nil
}

// blobSHA hashes content the way git hashes blob objects.
func blobSHA(body string) string {
	return digest("blob " + strconv.Itoa(len(body)) + "\x00" + body)
}

func digest(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

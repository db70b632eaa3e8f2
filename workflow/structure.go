package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/specmerge/storage"
)

// Default repository layout.
const (
	ChangesDir     = "changes"
	SpecsDir       = "specs"
	ChangeSpecsDir = "specs" // Specs within a change directory
)

// Layout errors.
var (
	ErrMissingChangeSpecs = errors.New("Missing change specs directory")
	ErrOutsideChangeSpecs = errors.New("Change spec is outside expected directory")
)

// Manager resolves change and canonical spec locations inside a repository.
// Relative paths it returns are slash-separated and repo-relative.
type Manager struct {
	repoRoot   string
	changesDir string
	specsDir   string
}

// NewManager creates a manager using the default layout.
func NewManager(repoRoot string) *Manager {
	return NewManagerWithLayout(repoRoot, ChangesDir, SpecsDir)
}

// NewManagerWithLayout creates a manager with custom changes and specs
// directories, given relative to repoRoot.
func NewManagerWithLayout(repoRoot, changesDir, specsDir string) *Manager {
	if changesDir == "" {
		changesDir = ChangesDir
	}
	if specsDir == "" {
		specsDir = SpecsDir
	}
	return &Manager{
		repoRoot:   repoRoot,
		changesDir: path.Clean(filepath.ToSlash(changesDir)),
		specsDir:   path.Clean(filepath.ToSlash(specsDir)),
	}
}

// RepoRoot returns the repository root.
func (m *Manager) RepoRoot() string {
	return m.repoRoot
}

// ChangesDir returns the repo-relative changes directory.
func (m *Manager) ChangesDir() string {
	return m.changesDir
}

// SpecsDir returns the repo-relative canonical specs directory.
func (m *Manager) SpecsDir() string {
	return m.specsDir
}

// ChangesPath returns the absolute path to the changes directory.
func (m *Manager) ChangesPath() string {
	return m.abs(m.changesDir)
}

// ChangeSpecsRel returns the repo-relative specs directory of a change.
func (m *Manager) ChangeSpecsRel(name string) string {
	return path.Join(m.changesDir, name, ChangeSpecsDir)
}

// ChangeSpecsPath returns the absolute specs directory of a change.
func (m *Manager) ChangeSpecsPath(name string) string {
	return m.abs(m.ChangeSpecsRel(name))
}

func (m *Manager) abs(rel string) string {
	return filepath.Join(m.repoRoot, filepath.FromSlash(rel))
}

// CheckChangeName rejects change names that are absolute or contain "..".
func CheckChangeName(name string) error {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %s", storage.ErrUnsafePath, name)
	}
	return nil
}

// CanonicalPath re-roots a change-spec path from the change's specs
// directory onto the canonical specs directory.
func (m *Manager) CanonicalPath(name, changeSpecRel string) (string, error) {
	prefix := m.ChangeSpecsRel(name) + "/"
	clean := path.Clean(changeSpecRel)
	if !strings.HasPrefix(clean, prefix) || storage.ClimbsOut(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideChangeSpecs, changeSpecRel)
	}
	return path.Join(m.specsDir, strings.TrimPrefix(clean, prefix)), nil
}

// ListChangeSpecs returns every markdown document under the change's specs
// directory, recursively, as sorted repo-relative paths.
func (m *Manager) ListChangeSpecs(name string) ([]string, error) {
	if err := CheckChangeName(name); err != nil {
		return nil, err
	}

	dir := m.ChangeSpecsPath(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingChangeSpecs, m.ChangeSpecsRel(name))
		}
		return nil, fmt.Errorf("stat change specs: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.md", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list change specs: %w", err)
	}

	rels := make([]string, 0, len(matches))
	for _, match := range matches {
		rels = append(rels, path.Join(m.ChangeSpecsRel(name), match))
	}
	sort.Strings(rels)
	return rels, nil
}

// Change summarises one change directory.
type Change struct {
	Name  string `json:"name"`
	Specs int    `json:"specs"`
}

// ListChanges returns every change that has a specs directory, sorted by
// name.
func (m *Manager) ListChanges() ([]Change, error) {
	entries, err := os.ReadDir(m.ChangesPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Change{}, nil
		}
		return nil, fmt.Errorf("failed to read changes directory: %w", err)
	}

	changes := []Change{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		specs, err := m.ListChangeSpecs(entry.Name())
		if err != nil {
			// Skip changes without a specs directory
			continue
		}

		changes = append(changes, Change{Name: entry.Name(), Specs: len(specs)})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes, nil
}

var (
	slugInvalidPattern = regexp.MustCompile(`[^a-z0-9-]`)
	slugHyphenPattern  = regexp.MustCompile(`-+`)
)

// Slugify converts a change name to a lowercase token safe for use in
// subjects and keys.
func Slugify(name string) string {
	// Convert to lowercase
	slug := strings.ToLower(name)

	// Replace separators with hyphens
	slug = strings.NewReplacer(" ", "-", "_", "-", ".", "-", "/", "-").Replace(slug)

	// Remove non-alphanumeric characters except hyphens
	slug = slugInvalidPattern.ReplaceAllString(slug, "")

	// Replace multiple hyphens with single hyphen
	slug = slugHyphenPattern.ReplaceAllString(slug, "-")

	// Trim hyphens from ends
	slug = strings.Trim(slug, "-")

	// Limit length
	if len(slug) > 50 {
		slug = slug[:50]
		// Don't end on a hyphen
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}

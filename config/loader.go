package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

const (
	// ProjectConfigFile is looked up in the working directory and its parents.
	ProjectConfigFile = "specmerge.yaml"
	// UserConfigDir is the directory for user-level config, below $HOME.
	UserConfigDir = ".config/specmerge"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader resolves configuration from defaults and up to three files, each
// overriding the keys it sets.
type Loader struct {
	logger  *slog.Logger
	workDir string
	homeDir string
}

// layer is one config file in precedence order.
type layer struct {
	name     string
	path     string
	required bool
}

// NewLoader creates a loader rooted at the current working directory and
// home directory.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	l.workDir, _ = os.Getwd()
	l.homeDir, _ = os.UserHomeDir()
	return l
}

// WithWorkDir sets the directory the project config search and git root
// detection start from.
func (l *Loader) WithWorkDir(dir string) *Loader {
	l.workDir = dir
	return l
}

// WithHomeDir sets the directory holding the user config.
func (l *Loader) WithHomeDir(dir string) *Loader {
	l.homeDir = dir
	return l
}

// Load applies, lowest precedence first: defaults, the user file
// (~/.config/specmerge/config.yaml), the nearest specmerge.yaml, and
// explicitPath. Missing optional files are skipped; explicitPath must load.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	layers := []layer{
		{name: "user", path: l.userConfigPath()},
		{name: "project", path: l.findProjectConfig()},
		{name: "explicit", path: explicitPath, required: true},
	}
	for _, ly := range layers {
		if ly.path == "" {
			continue
		}

		fileCfg, err := LoadFromFile(ly.path)
		switch {
		case err == nil:
			l.logger.Debug("Loaded config", "layer", ly.name, "path", ly.path)
			cfg.Merge(fileCfg)
		case ly.required:
			return nil, err
		case errors.Is(err, os.ErrNotExist):
			// Optional layer absent
		default:
			l.logger.Warn("Ignoring unreadable config",
				"layer", ly.name,
				"path", ly.path,
				"error", err)
		}
	}

	if err := l.resolveRepoPath(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveRepoPath makes repo.path absolute. An unset path means the working
// directory, unless it has no changes directory and the enclosing git
// worktree does.
func (l *Loader) resolveRepoPath(cfg *Config) error {
	switch {
	case cfg.Repo.Path != "" && filepath.IsAbs(cfg.Repo.Path):
		return nil
	case cfg.Repo.Path != "":
		cfg.Repo.Path = filepath.Join(l.workDir, cfg.Repo.Path)
		return nil
	case l.workDir == "":
		return fmt.Errorf("cannot determine repository root")
	}

	cfg.Repo.Path = l.workDir
	if hasDir(l.workDir, cfg.Layout.ChangesDir) {
		return nil
	}
	if root, err := DetectGitRoot(l.workDir); err == nil && hasDir(root, cfg.Layout.ChangesDir) {
		l.logger.Debug("Using git root as repository root", "path", root)
		cfg.Repo.Path = root
	}
	return nil
}

func hasDir(root, rel string) bool {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil && info.IsDir()
}

func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks from the working directory up to the filesystem
// root and returns the first specmerge.yaml found.
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	for dir := l.workDir; ; {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// DetectGitRoot returns the worktree root of the git repository containing dir.
func DetectGitRoot(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open git repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

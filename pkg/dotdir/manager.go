// Package dotdir manages the .ragrelay/ and ~/.ragrelay directories.
//
// The directory holds config.toml and the conversation state that lets
// `ragrelay chat` resume where the previous session stopped.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirName = ".ragrelay"

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the absolute path of the .ragrelay/ directory to use,
// creating it when missing. The first of these wins:
//  1. overrideDir, from --config-dir
//  2. ./.ragrelay/ when it already exists
//  3. ~/.ragrelay/
func (m *Manager) Target(overrideDir string) (string, error) {
	dir, err := m.locate(overrideDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating ragrelay directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// Path joins name onto the resolved target directory.
func (m *Manager) Path(overrideDir, name string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (m *Manager) locate(overrideDir string) (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	local := filepath.Join(cwd, dirName)
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

package skills

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// Credential describes one credential a Python skill declares it needs.
type Credential struct {
	Name        string `toml:"name"`
	EnvVar      string `toml:"env_var"`
	Description string `toml:"description"`
	Required    bool   `toml:"required"`
	Default     string `toml:"default"`
}

// PythonManifest is the parsed contents of a python-skill manifest.toml.
type PythonManifest struct {
	ID            string       `toml:"id"`
	Name          string       `toml:"name"`
	Version       string       `toml:"version"`
	Description   string       `toml:"description"`
	EntryFile     string       `toml:"entry_file"`
	MinUvVersion  string       `toml:"min_uv_version"`
	MinPython     string       `toml:"min_python"`
	Credentials   []Credential `toml:"credentials"`
}

var validIDChars = func() [256]bool {
	var t [256]bool
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	t['-'] = true
	t['_'] = true
	return t
}()

// LoadManifest reads and validates manifest.toml inside dir.
func LoadManifest(dir string) (*PythonManifest, error) {
	path := filepath.Join(dir, "manifest.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferr.Lifecycle("cannot read %s: %w", path, err)
	}
	var m PythonManifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, ferr.Lifecycle("invalid manifest.toml: %w", err)
	}
	if m.Version == "" {
		m.Version = "0.1.0"
	}
	if m.EntryFile == "" {
		m.EntryFile = "skill.py"
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's required fields and id charset.
func (m *PythonManifest) Validate() error {
	if m.ID == "" {
		return ferr.Lifecycle("manifest.toml: `id` cannot be empty")
	}
	for _, r := range m.ID {
		if r >= 256 || !validIDChars[r] {
			return ferr.Lifecycle("manifest.toml: `id` `%s` is invalid (use lowercase letters, digits, - or _)", m.ID)
		}
	}
	if strings.TrimSpace(m.Name) == "" {
		return ferr.Lifecycle("manifest.toml: `name` cannot be empty")
	}
	return nil
}

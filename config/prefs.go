package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// PrefValues is the small string stash of client state carried between runs:
// last-used selections and UI collapse flags. The core treats it opaquely.
type PrefValues struct {
	LastDevice   string          `toml:"last_device" json:"last_device"`
	LastPackage  string          `toml:"last_package" json:"last_package"`
	LastDatabase string          `toml:"last_database" json:"last_database"`
	LastQuery    string          `toml:"last_query" json:"last_query"`
	Collapsed    map[string]bool `toml:"collapsed" json:"collapsed"`
}

// Preferences persists PrefValues to a toml file next to the config.
type Preferences struct {
	mu     sync.Mutex
	path   string
	Values PrefValues
}

func DefaultPrefsPath() string {
	home, _ := userHomeDir()
	return filepath.Join(home, ".config", "droidsql", "prefs.toml")
}

// LoadPreferences reads the file at path, tolerating absence.
func LoadPreferences(path string) (*Preferences, error) {
	p := &Preferences{path: path}
	p.Values.Collapsed = map[string]bool{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p.Values); err != nil {
		return nil, err
	}
	if p.Values.Collapsed == nil {
		p.Values.Collapsed = map[string]bool{}
	}
	return p, nil
}

// Snapshot returns a copy of the values safe to read concurrently with
// Update; the collapsed map is copied, not shared.
func (p *Preferences) Snapshot() PrefValues {
	p.mu.Lock()
	defer p.mu.Unlock()
	values := p.Values
	collapsed := make(map[string]bool, len(values.Collapsed))
	for key, flag := range values.Collapsed {
		collapsed[key] = flag
	}
	values.Collapsed = collapsed
	return values
}

// Update mutates the values under lock and writes them through.
func (p *Preferences) Update(mutate func(*PrefValues)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mutate(&p.Values)
	return p.saveLocked()
}

func (p *Preferences) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p.Values)
}

package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the host-side configuration, read from
// ~/.config/droidsql/config.toml with coded defaults. A missing file is not
// an error. DROIDSQL_ADB_PATH and DROIDSQL_BRIDGE_PORT override the file for
// quick experiments.
type Config struct {
	Bridge struct {
		Port int `toml:"port"`
	} `toml:"bridge"`
	ADB struct {
		Path       string `toml:"path"`
		ServerHost string `toml:"server_host"`
		ServerPort int    `toml:"server_port"`
	} `toml:"adb"`
	Defaults struct {
		Package  string `toml:"package"`
		Database string `toml:"database"`
		Serial   string `toml:"serial"`
	} `toml:"defaults"`
	Cache struct {
		Dir string `toml:"dir"`
	} `toml:"cache"`
}

func ConfigPath() string {
	home, _ := userHomeDir()
	return filepath.Join(home, ".config", "droidsql", "config.toml")
}

func Load() (*Config, error) {
	path := ConfigPath()
	var cfg Config

	cfg.Bridge.Port = 8080
	cfg.ADB.Path = "adb"
	cfg.ADB.ServerHost = "127.0.0.1"
	cfg.ADB.ServerPort = 5037

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DROIDSQL_ADB_PATH"); v != "" {
		cfg.ADB.Path = v
	}
	if v := os.Getenv("DROIDSQL_BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = port
		}
	}
	return &cfg, nil
}

func (c *Config) Save() error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

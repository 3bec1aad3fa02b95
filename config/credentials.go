package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const credentialService = "droidsql"

// ErrCredentialNotFound means no pairing credential is stored for the device.
var ErrCredentialNotFound = errors.New("pairing credential not found")

var (
	credentialFileMu sync.Mutex
	keyringGet       = keyring.Get
	keyringSet       = keyring.Set
	userHomeDir      = os.UserHomeDir
)

// StorePairingCode persists the wireless-debugging pairing code for a device
// address. The OS keyring is preferred; on headless hosts without one the
// code falls back to a 0600 file under the config directory.
func StorePairingCode(addr, code string) error {
	addr = strings.TrimSpace(addr)
	code = strings.TrimSpace(code)
	if addr == "" {
		return errors.New("device address is empty")
	}
	if code == "" {
		return errors.New("pairing code is empty")
	}

	if err := keyringSet(credentialService, addr, code); err == nil {
		return nil
	}

	credentialFileMu.Lock()
	defer credentialFileMu.Unlock()

	entries, err := readCredentialFileUnlocked()
	if err != nil {
		return err
	}
	entries[addr] = code
	return writeCredentialFileUnlocked(entries)
}

// LoadPairingCode retrieves the stored pairing code for a device address.
func LoadPairingCode(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("device address is empty")
	}

	if code, err := keyringGet(credentialService, addr); err == nil {
		code = strings.TrimSpace(code)
		if code != "" {
			return code, nil
		}
	}

	credentialFileMu.Lock()
	defer credentialFileMu.Unlock()

	entries, err := readCredentialFileUnlocked()
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(entries[addr])
	if code == "" {
		return "", ErrCredentialNotFound
	}
	return code, nil
}

func credentialFilePath() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	home = strings.TrimSpace(home)
	if home == "" {
		return "", errors.New("home directory is empty")
	}
	return filepath.Join(home, ".config", "droidsql", "credentials.json"), nil
}

func readCredentialFileUnlocked() (map[string]string, error) {
	path, err := credentialFilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return entries, nil
}

func writeCredentialFileUnlocked(entries map[string]string) error {
	path, err := credentialFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

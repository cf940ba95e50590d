// Package auth scopes API access: each key belongs to one project, and
// localhost callers may bypass keys entirely for single-machine setups.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "interlock.keys.yaml"

// keysFile is the on-disk YAML shape shared with BootstrapDevKey and the
// init command.
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectKeys `yaml:"projects"`
}

type projectKeys struct {
	Keys []string `yaml:"keys"`
}

// Keyring maps bearer keys to the single project each is scoped to.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToProject              map[string]string
}

// ResolveKeysPath returns the keys file location: the INTERLOCK_KEYS_FILE
// environment variable when set, else ./interlock.keys.yaml.
func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

// LoadKeyring reads the keyring at path. An empty path yields the permissive
// default ring; a missing file is bootstrapped with a dev key first, so a
// bare `interlock serve` works out of the box.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if _, berr := BootstrapDevKey(path, "dev"); berr != nil {
			return nil, fmt.Errorf("bootstrap dev key: %w", berr)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	return buildKeyring(cfg)
}

func buildKeyring(cfg keysFile) (*Keyring, error) {
	ring := defaultKeyring()
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for project, entry := range cfg.Projects {
		for _, key := range entry.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			// A key naming two projects would make authorization ambiguous.
			if owner, ok := ring.keyToProject[key]; ok && owner != project {
				return nil, fmt.Errorf("key reused across projects: %q", key)
			}
			ring.keyToProject[key] = project
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToProject: make(map[string]string)}
}

// NewKeyring builds a ring from an explicit key map, used by tests and
// embedding hosts.
func NewKeyring(allowLocalhost bool, keyToProject map[string]string) *Keyring {
	ring := &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToProject: make(map[string]string, len(keyToProject))}
	for k, v := range keyToProject {
		ring.keyToProject[k] = v
	}
	return ring
}

// ProjectForKey resolves a bearer key to its project.
func (k *Keyring) ProjectForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	project, ok := k.keyToProject[key]
	return project, ok
}

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapResult reports what BootstrapDevKey did. Key is only set when a
// fresh file was written; it is not recoverable afterwards.
type BootstrapResult struct {
	KeysFile string
	Project  string
	Key      string
	Created  bool
}

// BootstrapDevKey writes a keys file with one generated key for project when
// no file exists at keysPath yet. An existing file is left untouched, so a
// first server start self-provisions and later starts keep their keys.
func BootstrapDevKey(keysPath, project string) (*BootstrapResult, error) {
	if keysPath == "" {
		keysPath = ResolveKeysPath()
	}
	if project == "" {
		project = "dev"
	}

	switch _, err := os.Stat(keysPath); {
	case err == nil:
		return &BootstrapResult{KeysFile: keysPath, Created: false}, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("check keys file: %w", err)
	}

	key, err := newAPIKey()
	if err != nil {
		return nil, err
	}
	var cfg keysFile
	cfg.Projects = map[string]projectKeys{project: {Keys: []string{key}}}
	allowLocalhost := true
	cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allowLocalhost

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(keysPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write keys file: %w", err)
	}
	return &BootstrapResult{KeysFile: keysPath, Project: project, Key: key, Created: true}, nil
}

// newAPIKey returns 32 random bytes as url-safe base64.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
